package model

import (
	"math/rand"
	"sort"
)

// treeNode is one node of a fitted regression tree. Feature == -1 marks a
// leaf; Value is the leaf prediction.
type treeNode struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold,omitempty"`
	Value     float64   `json:"value"`
	Left      *treeNode `json:"left,omitempty"`
	Right     *treeNode `json:"right,omitempty"`
}

func (n *treeNode) isLeaf() bool {
	return n.Feature < 0
}

// regTree is a weighted least-squares regression tree. It is the shared
// building block for both tree learners: the forest fits it on 0/1 labels
// (leaf mean = class probability) and the booster fits it on gradient
// residuals.
type regTree struct {
	MaxDepth    int       `json:"max_depth"`
	MinLeaf     int       `json:"min_leaf"`
	Root        *treeNode `json:"root"`
	Importances []float64 `json:"importances"`
}

// fit grows the tree on rows[idx]. featuresPerSplit limits the candidate
// features per split (0 means all); the subset is drawn from rng so fitting
// is deterministic for a fixed seed.
func (t *regTree) fit(X [][]float64, target, w []float64, idx []int, featuresPerSplit int, rng *rand.Rand) {
	nFeatures := 0
	if len(X) > 0 {
		nFeatures = len(X[0])
	}
	t.Importances = make([]float64, nFeatures)
	t.Root = t.grow(X, target, w, idx, 0, featuresPerSplit, rng)
}

func (t *regTree) grow(X [][]float64, target, w []float64, idx []int, depth, featuresPerSplit int, rng *rand.Rand) *treeNode {
	leaf := &treeNode{Feature: -1, Value: weightedMean(target, w, idx)}
	if depth >= t.MaxDepth || len(idx) < 2*t.MinLeaf {
		return leaf
	}

	feature, threshold, gain := t.bestSplit(X, target, w, idx, featuresPerSplit, rng)
	if feature < 0 {
		return leaf
	}
	t.Importances[feature] += gain

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	return &treeNode{
		Feature:   feature,
		Threshold: threshold,
		Value:     leaf.Value,
		Left:      t.grow(X, target, w, left, depth+1, featuresPerSplit, rng),
		Right:     t.grow(X, target, w, right, depth+1, featuresPerSplit, rng),
	}
}

// bestSplit scans candidate features for the split with the largest weighted
// SSE reduction. Returns feature -1 when no split clears MinLeaf.
func (t *regTree) bestSplit(X [][]float64, target, w []float64, idx []int, featuresPerSplit int, rng *rand.Rand) (int, float64, float64) {
	nFeatures := len(X[idx[0]])
	candidates := featureSubset(nFeatures, featuresPerSplit, rng)

	type point struct{ x, t, w float64 }
	bestFeature, bestThreshold, bestGain := -1, 0.0, 0.0

	parentSSE, _ := weightedSSE(target, w, idx)

	points := make([]point, len(idx))
	for _, f := range candidates {
		for k, i := range idx {
			points[k] = point{x: X[i][f], t: target[i], w: w[i]}
		}
		sort.Slice(points, func(a, b int) bool { return points[a].x < points[b].x })

		var sumW, sumWT, sumWT2 float64
		var totW, totWT, totWT2 float64
		for _, p := range points {
			totW += p.w
			totWT += p.w * p.t
			totWT2 += p.w * p.t * p.t
		}

		for k := 0; k < len(points)-1; k++ {
			p := points[k]
			sumW += p.w
			sumWT += p.w * p.t
			sumWT2 += p.w * p.t * p.t

			if k+1 < t.MinLeaf || len(points)-(k+1) < t.MinLeaf {
				continue
			}
			if points[k].x == points[k+1].x {
				continue
			}

			leftSSE := sse(sumW, sumWT, sumWT2)
			rightSSE := sse(totW-sumW, totWT-sumWT, totWT2-sumWT2)
			gain := parentSSE - leftSSE - rightSSE
			if gain > bestGain {
				bestFeature = f
				bestThreshold = (points[k].x + points[k+1].x) / 2
				bestGain = gain
			}
		}
	}

	return bestFeature, bestThreshold, bestGain
}

// predict returns the leaf value for one row.
func (t *regTree) predict(x []float64) float64 {
	return t.leafFor(x).Value
}

// leafFor walks the tree to the leaf a row lands in.
func (t *regTree) leafFor(x []float64) *treeNode {
	node := t.Root
	for !node.isLeaf() {
		if x[node.Feature] <= node.Threshold {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node
}

func featureSubset(nFeatures, size int, rng *rand.Rand) []int {
	all := make([]int, nFeatures)
	for i := range all {
		all[i] = i
	}
	if size <= 0 || size >= nFeatures {
		return all
	}
	rng.Shuffle(nFeatures, func(i, j int) { all[i], all[j] = all[j], all[i] })
	subset := all[:size]
	sort.Ints(subset)
	return subset
}

func weightedMean(target, w []float64, idx []int) float64 {
	var sumW, sumWT float64
	for _, i := range idx {
		sumW += w[i]
		sumWT += w[i] * target[i]
	}
	if sumW == 0 {
		return 0
	}
	return sumWT / sumW
}

func weightedSSE(target, w []float64, idx []int) (float64, float64) {
	var sumW, sumWT, sumWT2 float64
	for _, i := range idx {
		sumW += w[i]
		sumWT += w[i] * target[i]
		sumWT2 += w[i] * target[i] * target[i]
	}
	return sse(sumW, sumWT, sumWT2), sumW
}

// sse computes the weighted sum of squared errors around the weighted mean
// from accumulated moments.
func sse(sumW, sumWT, sumWT2 float64) float64 {
	if sumW == 0 {
		return 0
	}
	return sumWT2 - sumWT*sumWT/sumW
}
