package ml

import (
	"math/rand"

	"hybrid-learning-bot-go/internal/models"
)

// BatchModel is a trained batch classifier loaded from a registry artifact.
type BatchModel interface {
	Kind() models.ModelKind
	PredictProb(v models.FeatureVector) float64
}

// ForestParams are the tunable random forest hyperparameters.
type ForestParams struct {
	Trees      int     `json:"trees"`
	MaxDepth   int     `json:"max_depth"`
	MinLeaf    int     `json:"min_leaf"`
	FeatureSub int     `json:"feature_sub"`
	Subsample  float64 `json:"subsample"`
}

// Forest is a bagged ensemble of gini trees. Probability is the mean of the
// per-tree leaf fractions.
type Forest struct {
	Params ForestParams `json:"params"`
	Scaler *Scaler      `json:"scaler"`
	Trees  []Tree       `json:"trees"`
}

// TrainForest fits a random forest on the dataset with the given seed.
func TrainForest(X []models.FeatureVector, y []int, params ForestParams, seed int64) *Forest {
	rng := rand.New(rand.NewSource(seed))
	scaler := FitScaler(X)

	scaled := make([]models.FeatureVector, len(X))
	for i, row := range X {
		scaled[i] = scaler.Transform(row)
	}

	tp := treeParams{maxDepth: params.MaxDepth, minLeaf: params.MinLeaf, featureSub: params.FeatureSub}
	f := &Forest{Params: params, Scaler: scaler}

	n := len(X)
	sampleN := int(params.Subsample * float64(n))
	if sampleN <= 0 || sampleN > n {
		sampleN = n
	}
	for t := 0; t < params.Trees; t++ {
		idx := make([]int, sampleN)
		for i := range idx {
			idx[i] = rng.Intn(n)
		}
		f.Trees = append(f.Trees, *buildClassificationTree(scaled, y, idx, tp, rng))
	}
	return f
}

func (f *Forest) Kind() models.ModelKind { return models.KindRF }

func (f *Forest) PredictProb(v models.FeatureVector) float64 {
	if len(f.Trees) == 0 {
		return 0.5
	}
	x := f.Scaler.Transform(v)
	sum := 0.0
	for i := range f.Trees {
		sum += f.Trees[i].Predict(x)
	}
	return sum / float64(len(f.Trees))
}
