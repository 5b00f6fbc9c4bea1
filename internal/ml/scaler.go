package ml

import (
	"math"

	"hybrid-learning-bot-go/internal/models"
)

// Scaler standardizes feature vectors with a running mean and variance
// (Welford's algorithm), so online learners never need a second pass over the
// data. Each learner owns its own scaler; their statistics drift apart as
// they see different sample streams.
type Scaler struct {
	Count int64                        `json:"count"`
	Mean  [models.FeatureCount]float64 `json:"mean"`
	M2    [models.FeatureCount]float64 `json:"m2"`
}

// Observe folds one vector into the running statistics.
func (s *Scaler) Observe(v models.FeatureVector) {
	s.Count++
	for i := 0; i < models.FeatureCount; i++ {
		delta := v[i] - s.Mean[i]
		s.Mean[i] += delta / float64(s.Count)
		s.M2[i] += delta * (v[i] - s.Mean[i])
	}
}

// Transform standardizes v with the current statistics. Features with no
// spread pass through as zero.
func (s *Scaler) Transform(v models.FeatureVector) models.FeatureVector {
	var out models.FeatureVector
	if s.Count < 2 {
		return out
	}
	for i := 0; i < models.FeatureCount; i++ {
		sd := math.Sqrt(s.M2[i] / float64(s.Count-1))
		if sd == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v[i] - s.Mean[i]) / sd
	}
	return out
}

// FitScaler builds a scaler over a full dataset, for batch training.
func FitScaler(rows []models.FeatureVector) *Scaler {
	s := &Scaler{}
	for _, r := range rows {
		s.Observe(r)
	}
	return s
}
