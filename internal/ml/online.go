// Package ml implements the incremental learners, the batch tree ensembles,
// and the batch training pipeline.
package ml

import (
	"hybrid-learning-bot-go/internal/models"
)

// OnlineLearner is an incremental binary classifier. Learn follows the
// predict-then-fit discipline: the sample is scored with the pre-update state
// first, so RecentAccuracy measures true out-of-sample performance.
type OnlineLearner interface {
	Kind() models.OnlineKind

	// PredictProb returns P(label=1) for the raw (unscaled) vector.
	PredictProb(v models.FeatureVector) float64

	// Learn scores the sample, records the hit in the accuracy ring, then
	// updates the scaler and the weights.
	Learn(sample models.TrainingSample)

	SamplesSeen() int64
	RecentAccuracy() float64

	// Snapshot and Restore round-trip the full learner state. A restored
	// learner reproduces the original's probabilities exactly.
	Snapshot() ([]byte, error)
	Restore(data []byte) error

	// Reset returns the learner to its freshly constructed state.
	Reset()
}

// NewOnlineLearner builds a learner of the given kind.
func NewOnlineLearner(kind models.OnlineKind, ringSize int) (OnlineLearner, error) {
	switch kind {
	case models.OnlineSGD:
		return newSGD(ringSize), nil
	case models.OnlinePA:
		return newPA(ringSize), nil
	case models.OnlineMLP:
		return newMLP(ringSize), nil
	default:
		return nil, models.NewAppError(models.KindUnknownKind, "unknown online learner %q", kind)
	}
}

// accuracyRing tracks hit/miss over the last Size predictions.
type accuracyRing struct {
	Size int    `json:"size"`
	Hits []bool `json:"hits"`
	Next int    `json:"next"`
	Full bool   `json:"full"`
}

func newRing(size int) accuracyRing {
	return accuracyRing{Size: size, Hits: make([]bool, size)}
}

func (r *accuracyRing) record(hit bool) {
	if r.Size == 0 {
		return
	}
	r.Hits[r.Next] = hit
	r.Next = (r.Next + 1) % r.Size
	if r.Next == 0 {
		r.Full = true
	}
}

func (r *accuracyRing) accuracy() float64 {
	n := r.Next
	if r.Full {
		n = r.Size
	}
	if n == 0 {
		return 0
	}
	hits := 0
	for i := 0; i < n; i++ {
		if r.Hits[i] {
			hits++
		}
	}
	return float64(hits) / float64(n)
}

// labelOf converts a probability to the served label. Exactly 0.5 resolves
// to 0.
func labelOf(p float64) int {
	if p > 0.5 {
		return 1
	}
	return 0
}
