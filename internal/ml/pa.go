package ml

import (
	"encoding/json"
	"math"

	"hybrid-learning-bot-go/internal/models"
)

// paAggressiveness is the C parameter bounding each PA-I update step.
const paAggressiveness = 1.0

// paLearner is a passive-aggressive classifier (PA-I variant). The raw
// margin has no probabilistic meaning, so PredictProb squashes it through a
// sigmoid to stay comparable with the other learners.
type paLearner struct {
	Scaler  Scaler                       `json:"scaler"`
	Weights [models.FeatureCount]float64 `json:"weights"`
	Bias    float64                      `json:"bias"`
	Seen    int64                        `json:"seen"`
	Ring    accuracyRing                 `json:"ring"`
}

func newPA(ringSize int) *paLearner {
	return &paLearner{Ring: newRing(ringSize)}
}

func (l *paLearner) Kind() models.OnlineKind { return models.OnlinePA }

func (l *paLearner) margin(x models.FeatureVector) float64 {
	m := l.Bias
	for i := 0; i < models.FeatureCount; i++ {
		m += l.Weights[i] * x[i]
	}
	return m
}

func (l *paLearner) PredictProb(v models.FeatureVector) float64 {
	return sigmoid(l.margin(l.Scaler.Transform(v)))
}

func (l *paLearner) Learn(sample models.TrainingSample) {
	p := l.PredictProb(sample.Features)
	l.Ring.record(labelOf(p) == sample.Label)

	l.Scaler.Observe(sample.Features)
	x := l.Scaler.Transform(sample.Features)

	// PA works on ±1 labels.
	y := float64(2*sample.Label - 1)
	loss := math.Max(0, 1-y*l.margin(x))
	if loss > 0 {
		normSq := 1.0 // bias term
		for i := 0; i < models.FeatureCount; i++ {
			normSq += x[i] * x[i]
		}
		tau := math.Min(paAggressiveness, loss/normSq)
		for i := 0; i < models.FeatureCount; i++ {
			l.Weights[i] += tau * y * x[i]
		}
		l.Bias += tau * y
	}
	l.Seen++
}

func (l *paLearner) SamplesSeen() int64      { return l.Seen }
func (l *paLearner) RecentAccuracy() float64 { return l.Ring.accuracy() }

func (l *paLearner) Snapshot() ([]byte, error) { return json.Marshal(l) }

func (l *paLearner) Restore(data []byte) error {
	var restored paLearner
	if err := json.Unmarshal(data, &restored); err != nil {
		return err
	}
	*l = restored
	return nil
}

func (l *paLearner) Reset() {
	*l = *newPA(l.Ring.Size)
}
