package ml

import (
	"encoding/json"
	"math"

	"hybrid-learning-bot-go/internal/models"
)

const (
	sgdLearningRate = 0.01
	sgdL2           = 1e-4
)

// sgdLearner is logistic regression trained by stochastic gradient descent
// with L2 regularization.
type sgdLearner struct {
	Scaler  Scaler                       `json:"scaler"`
	Weights [models.FeatureCount]float64 `json:"weights"`
	Bias    float64                      `json:"bias"`
	Seen    int64                        `json:"seen"`
	Ring    accuracyRing                 `json:"ring"`
}

func newSGD(ringSize int) *sgdLearner {
	return &sgdLearner{Ring: newRing(ringSize)}
}

func (l *sgdLearner) Kind() models.OnlineKind { return models.OnlineSGD }

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func (l *sgdLearner) score(x models.FeatureVector) float64 {
	z := l.Bias
	for i := 0; i < models.FeatureCount; i++ {
		z += l.Weights[i] * x[i]
	}
	return z
}

func (l *sgdLearner) PredictProb(v models.FeatureVector) float64 {
	return sigmoid(l.score(l.Scaler.Transform(v)))
}

func (l *sgdLearner) Learn(sample models.TrainingSample) {
	p := l.PredictProb(sample.Features)
	l.Ring.record(labelOf(p) == sample.Label)

	l.Scaler.Observe(sample.Features)
	x := l.Scaler.Transform(sample.Features)

	weight := sample.Weight
	if weight <= 0 {
		weight = 1
	}

	// Gradient of the log loss at the re-scaled point.
	g := (sigmoid(l.score(x)) - float64(sample.Label)) * weight
	for i := 0; i < models.FeatureCount; i++ {
		l.Weights[i] -= sgdLearningRate * (g*x[i] + sgdL2*l.Weights[i])
	}
	l.Bias -= sgdLearningRate * g
	l.Seen++
}

func (l *sgdLearner) SamplesSeen() int64      { return l.Seen }
func (l *sgdLearner) RecentAccuracy() float64 { return l.Ring.accuracy() }

func (l *sgdLearner) Snapshot() ([]byte, error) { return json.Marshal(l) }

func (l *sgdLearner) Restore(data []byte) error {
	var restored sgdLearner
	if err := json.Unmarshal(data, &restored); err != nil {
		return err
	}
	*l = restored
	return nil
}

func (l *sgdLearner) Reset() {
	*l = *newSGD(l.Ring.Size)
}
