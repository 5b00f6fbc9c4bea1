package ml

import (
	"encoding/json"
	"math"
	"math/rand"

	"hybrid-learning-bot-go/internal/models"
)

const (
	mlpHidden       = 32
	mlpLearningRate = 0.05
	mlpInitSeed     = 42
)

// mlpLearner is a single-hidden-layer network (tanh hidden units, sigmoid
// output) trained one sample at a time. A direct input-to-output path lets
// the network track linearly separable streams as fast as the linear
// learners while the hidden layer picks up the rest. Initialization is
// seeded so a fresh learner is reproducible.
type mlpLearner struct {
	Scaler Scaler                       `json:"scaler"`
	W0     [models.FeatureCount]float64 `json:"w0"` // direct input -> output
	W1     [][]float64                  `json:"w1"` // hidden x input
	B1     []float64                    `json:"b1"`
	W2     []float64                    `json:"w2"` // output weights over hidden
	B2     float64                      `json:"b2"`
	Seen   int64                        `json:"seen"`
	Ring   accuracyRing                 `json:"ring"`
}

func newMLP(ringSize int) *mlpLearner {
	l := &mlpLearner{Ring: newRing(ringSize)}
	l.initWeights()
	return l
}

func (l *mlpLearner) initWeights() {
	rng := rand.New(rand.NewSource(mlpInitSeed))
	scale := math.Sqrt(2.0 / float64(models.FeatureCount))

	l.W1 = make([][]float64, mlpHidden)
	l.B1 = make([]float64, mlpHidden)
	l.W2 = make([]float64, mlpHidden)
	for h := 0; h < mlpHidden; h++ {
		l.W1[h] = make([]float64, models.FeatureCount)
		for i := range l.W1[h] {
			l.W1[h][i] = rng.NormFloat64() * scale
		}
		// Small output weights keep the fresh network close to its linear
		// path until the hidden units earn their contribution.
		l.W2[h] = rng.NormFloat64() * 0.1
	}
	l.B2 = 0
}

func (l *mlpLearner) Kind() models.OnlineKind { return models.OnlineMLP }

// forward returns the hidden activations and the output probability.
func (l *mlpLearner) forward(x models.FeatureVector) ([]float64, float64) {
	hidden := make([]float64, mlpHidden)
	for h := 0; h < mlpHidden; h++ {
		z := l.B1[h]
		for i := 0; i < models.FeatureCount; i++ {
			z += l.W1[h][i] * x[i]
		}
		hidden[h] = math.Tanh(z)
	}
	out := l.B2
	for i := 0; i < models.FeatureCount; i++ {
		out += l.W0[i] * x[i]
	}
	for h := 0; h < mlpHidden; h++ {
		out += l.W2[h] * hidden[h]
	}
	return hidden, sigmoid(out)
}

func (l *mlpLearner) PredictProb(v models.FeatureVector) float64 {
	_, p := l.forward(l.Scaler.Transform(v))
	return p
}

func (l *mlpLearner) Learn(sample models.TrainingSample) {
	p := l.PredictProb(sample.Features)
	l.Ring.record(labelOf(p) == sample.Label)

	l.Scaler.Observe(sample.Features)
	x := l.Scaler.Transform(sample.Features)

	weight := sample.Weight
	if weight <= 0 {
		weight = 1
	}

	hidden, out := l.forward(x)
	// Output delta for sigmoid + log loss.
	dOut := (out - float64(sample.Label)) * weight

	for h := 0; h < mlpHidden; h++ {
		dHidden := dOut * l.W2[h] * (1 - hidden[h]*hidden[h])
		l.W2[h] -= mlpLearningRate * dOut * hidden[h]
		for i := 0; i < models.FeatureCount; i++ {
			l.W1[h][i] -= mlpLearningRate * dHidden * x[i]
		}
		l.B1[h] -= mlpLearningRate * dHidden
	}
	for i := 0; i < models.FeatureCount; i++ {
		l.W0[i] -= mlpLearningRate * dOut * x[i]
	}
	l.B2 -= mlpLearningRate * dOut
	l.Seen++
}

func (l *mlpLearner) SamplesSeen() int64      { return l.Seen }
func (l *mlpLearner) RecentAccuracy() float64 { return l.Ring.accuracy() }

func (l *mlpLearner) Snapshot() ([]byte, error) { return json.Marshal(l) }

func (l *mlpLearner) Restore(data []byte) error {
	var restored mlpLearner
	if err := json.Unmarshal(data, &restored); err != nil {
		return err
	}
	*l = restored
	return nil
}

func (l *mlpLearner) Reset() {
	*l = *newMLP(l.Ring.Size)
}
