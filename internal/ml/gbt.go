package ml

import (
	"math"
	"math/rand"

	"hybrid-learning-bot-go/internal/models"
)

// gbtLambda is the L2 penalty on leaf scores.
const gbtLambda = 1.0

// GBTParams are the tunable gradient boosting hyperparameters.
type GBTParams struct {
	Trees        int     `json:"trees"`
	MaxDepth     int     `json:"max_depth"`
	MinLeaf      int     `json:"min_leaf"`
	LearningRate float64 `json:"learning_rate"`
	Subsample    float64 `json:"subsample"`
}

// GBT is gradient-boosted trees under the logistic loss. Each round fits a
// Newton regression tree to the current gradients and adds it with shrinkage.
type GBT struct {
	Params    GBTParams `json:"params"`
	Scaler    *Scaler   `json:"scaler"`
	InitScore float64   `json:"init_score"`
	Trees     []Tree    `json:"trees"`
}

// TrainGBT fits a boosted ensemble on the dataset with the given seed.
func TrainGBT(X []models.FeatureVector, y []int, params GBTParams, seed int64) *GBT {
	rng := rand.New(rand.NewSource(seed))
	scaler := FitScaler(X)

	n := len(X)
	scaled := make([]models.FeatureVector, n)
	for i, row := range X {
		scaled[i] = scaler.Transform(row)
	}

	// Start from the log-odds of the base rate.
	pos := 0
	for _, label := range y {
		pos += label
	}
	base := float64(pos) / float64(n)
	base = math.Min(math.Max(base, 1e-6), 1-1e-6)
	initScore := math.Log(base / (1 - base))

	g := &GBT{Params: params, Scaler: scaler, InitScore: initScore}

	scores := make([]float64, n)
	for i := range scores {
		scores[i] = initScore
	}

	grad := make([]float64, n)
	hess := make([]float64, n)
	tp := treeParams{maxDepth: params.MaxDepth, minLeaf: params.MinLeaf}

	sampleN := int(params.Subsample * float64(n))
	if sampleN <= 0 || sampleN > n {
		sampleN = n
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	for t := 0; t < params.Trees; t++ {
		for i := 0; i < n; i++ {
			p := sigmoid(scores[i])
			grad[i] = p - float64(y[i])
			hess[i] = p * (1 - p)
		}

		idx := all
		if sampleN < n {
			rng.Shuffle(n, func(a, b int) { all[a], all[b] = all[b], all[a] })
			idx = all[:sampleN]
		}

		tree := buildRegressionTree(scaled, grad, hess, idx, tp, gbtLambda, rng)
		g.Trees = append(g.Trees, *tree)
		for i := 0; i < n; i++ {
			scores[i] += params.LearningRate * tree.Predict(scaled[i])
		}
	}
	return g
}

func (g *GBT) Kind() models.ModelKind { return models.KindGB }

func (g *GBT) PredictProb(v models.FeatureVector) float64 {
	x := g.Scaler.Transform(v)
	score := g.InitScore
	for i := range g.Trees {
		score += g.Params.LearningRate * g.Trees[i].Predict(x)
	}
	return sigmoid(score)
}
