// internal/detector/isolation.go
package detector

import (
	"context"
	"math"
	"math/rand"
)

// Isolation forest defaults
const (
	isolationTrees     = 50
	isolationSubsample = 64
	isolationMinWindow = 10
)

// Isolation is a multivariate outlier detector over a window of recent
// events. Each point is featurized as (value, rate_of_change, hour_of_day)
// and scored by average isolation path length across a small random forest.
// It runs on a batch cadence, never per event.
type Isolation struct{}

// NewIsolation creates the isolation-style method.
func NewIsolation() Isolation { return Isolation{} }

// Kind implements Method.
func (Isolation) Kind() Kind { return KindIsolation }

// Score implements Method. The last window point is the one scored; the rest
// of the window is the training sample.
func (Isolation) Score(_ context.Context, in Input, p Params) (RawScore, error) {
	if len(in.Window) < isolationMinWindow {
		return RawScore{}, ErrShortWindow
	}

	features := featurize(in.Window)
	seed := p.Seed
	if seed == 0 {
		// Seed from the window so repeated scoring of the same batch is
		// reproducible across workers.
		seed = int64(len(in.Window))*1e9 + int64(in.Window[0].Timestamp.Unix())
	}

	forest := growForest(features, rand.New(rand.NewSource(seed)))
	score := forest.score(features[len(features)-1])

	confidence := float64(len(in.Window)) / float64(4*isolationMinWindow)
	if confidence > 1 {
		confidence = 1
	}
	return RawScore{Score: score, Confidence: confidence}, nil
}

// featurize maps window points to (value, rate_of_change, hour_of_day).
func featurize(window []Point) [][3]float64 {
	features := make([][3]float64, len(window))
	for i, pt := range window {
		var rate float64
		if i > 0 {
			rate = pt.Value - window[i-1].Value
		}
		features[i] = [3]float64{pt.Value, rate, float64(pt.Timestamp.UTC().Hour())}
	}
	return features
}

type isoNode struct {
	feature int
	split   float64
	left    *isoNode
	right   *isoNode
	size    int
}

type isoForest struct {
	trees     []*isoNode
	subsample int
}

func growForest(data [][3]float64, rng *rand.Rand) *isoForest {
	sub := isolationSubsample
	if sub > len(data) {
		sub = len(data)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(sub)))) + 1

	f := &isoForest{subsample: sub}
	for t := 0; t < isolationTrees; t++ {
		sample := make([][3]float64, len(data))
		copy(sample, data)
		rng.Shuffle(len(sample), func(i, j int) { sample[i], sample[j] = sample[j], sample[i] })
		f.trees = append(f.trees, growTree(sample[:sub], 0, maxDepth, rng))
	}
	return f
}

func growTree(data [][3]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &isoNode{size: len(data)}
	}

	feature := rng.Intn(3)
	lo, hi := featureRange(data, feature)
	if hi <= lo {
		return &isoNode{size: len(data)}
	}
	split := lo + rng.Float64()*(hi-lo)

	var left, right [][3]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{size: len(data)}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    growTree(left, depth+1, maxDepth, rng),
		right:   growTree(right, depth+1, maxDepth, rng),
		size:    len(data),
	}
}

// score returns the standard isolation forest anomaly score
// 2^(-E[path]/c(n)) in [0, 1]; ≈0.5 is unremarkable.
func (f *isoForest) score(row [3]float64) float64 {
	if len(f.trees) == 0 {
		return 0.5
	}
	var total float64
	for _, tree := range f.trees {
		total += pathLength(tree, row, 0)
	}
	avg := total / float64(len(f.trees))
	return math.Pow(2, -avg/avgPathLength(f.subsample))
}

func pathLength(node *isoNode, row [3]float64, depth int) float64 {
	if node.left == nil {
		return float64(depth) + avgPathLength(node.size)
	}
	if row[node.feature] < node.split {
		return pathLength(node.left, row, depth+1)
	}
	return pathLength(node.right, row, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful BST
// search: 2H(n-1) - 2(n-1)/n.
func avgPathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

func featureRange(data [][3]float64, feature int) (float64, float64) {
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	return lo, hi
}

func allIdentical(data [][3]float64) bool {
	for i := 1; i < len(data); i++ {
		if data[i] != data[0] {
			return false
		}
	}
	return true
}
