// Package anomaly implements the isolation-forest half of the hybrid
// pipeline: an estimator trained on SAFE-mode behaviour, a detector that
// serves calibrated [0,1] anomaly scores with graceful degradation, and the
// retraining pipeline that publishes new model bundles atomically.
package anomaly

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultEstimators is the number of isolation trees.
	DefaultEstimators = 200
	// DefaultContamination is the expected anomaly fraction in training data.
	DefaultContamination = 0.02
	// DefaultSeed keeps training deterministic across runs.
	DefaultSeed = 42

	// maxSampleSize mirrors the conventional "auto" subsample cap.
	maxSampleSize = 256
)

// TreeNode is one node of an isolation tree. Leaves have Feature == -1 and
// carry the size of the subsample that reached them.
type TreeNode struct {
	Feature int       `json:"feature"`
	Split   float64   `json:"split"`
	Size    int       `json:"size"`
	Left    *TreeNode `json:"left,omitempty"`
	Right   *TreeNode `json:"right,omitempty"`
}

// IsolationForest is a trained ensemble of isolation trees. The decision
// function keeps the usual convention: positive = inlier, negative = outlier.
type IsolationForest struct {
	Trees       []*TreeNode `json:"trees"`
	SampleSize  int         `json:"sample_size"`
	NumFeatures int         `json:"num_features"`
	Offset      float64     `json:"offset"`
}

// FitOptions configures training.
type FitOptions struct {
	Estimators    int
	Contamination float64
	Seed          int64
}

// Fit trains an isolation forest on the given row-major matrix. The offset
// is calibrated so that DecisionFunction is negative for roughly the
// contamination fraction of the training set.
func Fit(matrix [][]float64, opts FitOptions) *IsolationForest {
	if opts.Estimators <= 0 {
		opts.Estimators = DefaultEstimators
	}
	if opts.Contamination <= 0 {
		opts.Contamination = DefaultContamination
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	n := len(matrix)
	sampleSize := n
	if sampleSize > maxSampleSize {
		sampleSize = maxSampleSize
	}

	forest := &IsolationForest{
		Trees:       make([]*TreeNode, 0, opts.Estimators),
		SampleSize:  sampleSize,
		NumFeatures: len(matrix[0]),
	}

	heightLimit := int(math.Ceil(math.Log2(float64(sampleSize))))
	if heightLimit < 1 {
		heightLimit = 1
	}

	for i := 0; i < opts.Estimators; i++ {
		sample := subsample(matrix, sampleSize, rng)
		forest.Trees = append(forest.Trees, buildTree(sample, 0, heightLimit, rng))
	}

	// Calibrate the decision offset at the contamination percentile of the
	// training scores.
	scores := make([]float64, n)
	for i, row := range matrix {
		scores[i] = forest.scoreSample(row)
	}
	sort.Float64s(scores)
	forest.Offset = stat.Quantile(opts.Contamination, stat.Empirical, scores, nil)

	return forest
}

func subsample(matrix [][]float64, size int, rng *rand.Rand) [][]float64 {
	if size >= len(matrix) {
		return matrix
	}
	idx := rng.Perm(len(matrix))[:size]
	sample := make([][]float64, size)
	for i, j := range idx {
		sample[i] = matrix[j]
	}
	return sample
}

func buildTree(data [][]float64, depth, heightLimit int, rng *rand.Rand) *TreeNode {
	if depth >= heightLimit || len(data) <= 1 {
		return &TreeNode{Feature: -1, Size: len(data)}
	}

	feature, min, max := pickSplitFeature(data, rng)
	if feature < 0 {
		// Every remaining column is constant; the points are indistinguishable.
		return &TreeNode{Feature: -1, Size: len(data)}
	}

	split := min + rng.Float64()*(max-min)

	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &TreeNode{Feature: -1, Size: len(data)}
	}

	return &TreeNode{
		Feature: feature,
		Split:   split,
		Left:    buildTree(left, depth+1, heightLimit, rng),
		Right:   buildTree(right, depth+1, heightLimit, rng),
	}
}

// pickSplitFeature chooses a random feature with spread, returning its index
// and value range. Returns -1 when no feature can be split.
func pickSplitFeature(data [][]float64, rng *rand.Rand) (int, float64, float64) {
	numFeatures := len(data[0])
	for _, f := range rng.Perm(numFeatures) {
		min, max := data[0][f], data[0][f]
		for _, row := range data[1:] {
			if row[f] < min {
				min = row[f]
			}
			if row[f] > max {
				max = row[f]
			}
		}
		if max > min {
			return f, min, max
		}
	}
	return -1, 0, 0
}

// pathLength traverses one tree and returns the adjusted isolation depth.
func pathLength(node *TreeNode, x []float64, depth float64) float64 {
	if node.Feature < 0 {
		return depth + averagePathLength(float64(node.Size))
	}
	if x[node.Feature] < node.Split {
		return pathLength(node.Left, x, depth+1)
	}
	return pathLength(node.Right, x, depth+1)
}

// averagePathLength is the expected path length of an unsuccessful BST
// search over n points, the standard isolation-forest normalizer.
func averagePathLength(n float64) float64 {
	switch {
	case n > 2:
		const eulerGamma = 0.5772156649
		harmonic := math.Log(n-1) + eulerGamma
		return 2*harmonic - 2*(n-1)/n
	case n == 2:
		return 1
	default:
		return 0
	}
}

// scoreSample returns the negated anomaly score in [-1, 0); closer to -1
// means more anomalous.
func (f *IsolationForest) scoreSample(x []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, x, 0)
	}
	mean := total / float64(len(f.Trees))
	anomaly := math.Pow(2, -mean/averagePathLength(float64(f.SampleSize)))
	return -anomaly
}

// DecisionFunction returns the calibrated score: positive = inlier,
// negative = outlier.
func (f *IsolationForest) DecisionFunction(x []float64) float64 {
	return f.scoreSample(x) - f.Offset
}

// DecisionFunctionBatch maps DecisionFunction over a row-major matrix.
func (f *IsolationForest) DecisionFunctionBatch(matrix [][]float64) []float64 {
	scores := make([]float64, len(matrix))
	for i, row := range matrix {
		scores[i] = f.DecisionFunction(row)
	}
	return scores
}
