package ml

import (
	"math/rand"
	"sort"

	"hybrid-learning-bot-go/internal/models"
)

// TreeNode is one node of a serialized decision tree. Left and Right index
// into the flat node slice.
type TreeNode struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
	IsLeaf    bool    `json:"leaf"`
}

// Tree is a binary decision tree. For classification trees Value is the
// positive-class fraction at the leaf; for the boosted regression trees it is
// the additive score.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Predict walks the tree for one vector.
func (t *Tree) Predict(x models.FeatureVector) float64 {
	if len(t.Nodes) == 0 {
		return 0.5
	}
	i := 0
	for {
		node := t.Nodes[i]
		if node.IsLeaf {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			i = node.Left
		} else {
			i = node.Right
		}
	}
}

// treeParams bound tree growth.
type treeParams struct {
	maxDepth   int
	minLeaf    int
	featureSub int // features tried per split; 0 means all
}

// buildClassificationTree grows a gini-split tree over the given sample
// indices.
func buildClassificationTree(X []models.FeatureVector, y []int, idx []int, params treeParams, rng *rand.Rand) *Tree {
	t := &Tree{}
	t.growClass(X, y, idx, 0, params, rng)
	return t
}

func (t *Tree) growClass(X []models.FeatureVector, y []int, idx []int, depth int, params treeParams, rng *rand.Rand) int {
	pos := 0
	for _, i := range idx {
		pos += y[i]
	}
	prob := float64(pos) / float64(len(idx))

	nodeID := len(t.Nodes)
	if depth >= params.maxDepth || len(idx) < 2*params.minLeaf || pos == 0 || pos == len(idx) {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: prob})
		return nodeID
	}

	feature, threshold, ok := bestGiniSplit(X, y, idx, params, rng)
	if !ok {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: prob})
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < params.minLeaf || len(right) < params.minLeaf {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: prob})
		return nodeID
	}

	t.Nodes = append(t.Nodes, TreeNode{Feature: feature, Threshold: threshold})
	leftID := t.growClass(X, y, left, depth+1, params, rng)
	rightID := t.growClass(X, y, right, depth+1, params, rng)
	t.Nodes[nodeID].Left = leftID
	t.Nodes[nodeID].Right = rightID
	return nodeID
}

func bestGiniSplit(X []models.FeatureVector, y []int, idx []int, params treeParams, rng *rand.Rand) (int, float64, bool) {
	features := candidateFeatures(params, rng)

	total := len(idx)
	totalPos := 0
	for _, i := range idx {
		totalPos += y[i]
	}

	bestGain := 0.0
	bestFeature, bestThreshold := -1, 0.0
	parentImpurity := giniImpurity(totalPos, total)

	order := make([]int, len(idx))
	for _, f := range features {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		leftN, leftPos := 0, 0
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			leftN++
			leftPos += y[i]

			if X[order[k]][f] == X[order[k+1]][f] {
				continue
			}
			rightN := total - leftN
			rightPos := totalPos - leftPos

			wLeft := float64(leftN) / float64(total)
			gain := parentImpurity -
				wLeft*giniImpurity(leftPos, leftN) -
				(1-wLeft)*giniImpurity(rightPos, rightN)
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (X[order[k]][f] + X[order[k+1]][f]) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func giniImpurity(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 2 * p * (1 - p)
}

func candidateFeatures(params treeParams, rng *rand.Rand) []int {
	all := make([]int, models.FeatureCount)
	for i := range all {
		all[i] = i
	}
	if params.featureSub <= 0 || params.featureSub >= models.FeatureCount {
		return all
	}
	rng.Shuffle(len(all), func(a, b int) { all[a], all[b] = all[b], all[a] })
	return all[:params.featureSub]
}

// buildRegressionTree grows a tree over gradient/hessian pairs, with leaf
// values set by the Newton step -sum(g)/(sum(h)+lambda).
func buildRegressionTree(X []models.FeatureVector, grad, hess []float64, idx []int, params treeParams, lambda float64, rng *rand.Rand) *Tree {
	t := &Tree{}
	t.growReg(X, grad, hess, idx, 0, params, lambda, rng)
	return t
}

func (t *Tree) growReg(X []models.FeatureVector, grad, hess []float64, idx []int, depth int, params treeParams, lambda float64, rng *rand.Rand) int {
	var sumG, sumH float64
	for _, i := range idx {
		sumG += grad[i]
		sumH += hess[i]
	}
	leafValue := -sumG / (sumH + lambda)

	nodeID := len(t.Nodes)
	if depth >= params.maxDepth || len(idx) < 2*params.minLeaf {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: leafValue})
		return nodeID
	}

	feature, threshold, ok := bestNewtonSplit(X, grad, hess, idx, params, lambda, rng)
	if !ok {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: leafValue})
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < params.minLeaf || len(right) < params.minLeaf {
		t.Nodes = append(t.Nodes, TreeNode{IsLeaf: true, Value: leafValue})
		return nodeID
	}

	t.Nodes = append(t.Nodes, TreeNode{Feature: feature, Threshold: threshold})
	leftID := t.growReg(X, grad, hess, left, depth+1, params, lambda, rng)
	rightID := t.growReg(X, grad, hess, right, depth+1, params, lambda, rng)
	t.Nodes[nodeID].Left = leftID
	t.Nodes[nodeID].Right = rightID
	return nodeID
}

func bestNewtonSplit(X []models.FeatureVector, grad, hess []float64, idx []int, params treeParams, lambda float64, rng *rand.Rand) (int, float64, bool) {
	features := candidateFeatures(params, rng)

	var totalG, totalH float64
	for _, i := range idx {
		totalG += grad[i]
		totalH += hess[i]
	}
	parentScore := totalG * totalG / (totalH + lambda)

	bestGain := 1e-12
	bestFeature, bestThreshold := -1, 0.0

	order := make([]int, len(idx))
	for _, f := range features {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })

		var leftG, leftH float64
		for k := 0; k < len(order)-1; k++ {
			i := order[k]
			leftG += grad[i]
			leftH += hess[i]

			if X[order[k]][f] == X[order[k+1]][f] {
				continue
			}
			rightG := totalG - leftG
			rightH := totalH - leftH

			gain := leftG*leftG/(leftH+lambda) + rightG*rightG/(rightH+lambda) - parentScore
			if gain > bestGain {
				bestGain = gain
				bestFeature = f
				bestThreshold = (X[order[k]][f] + X[order[k+1]][f]) / 2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}
