package model

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const leafNode = -1

var negInf = math.Inf(-1)

// Node is one node of a fitted tree. Leaves have Left == -1. Rows with
// x[Feature] <= Threshold go left.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
}

// Tree is a binary regression tree stored as a flat node list rooted at 0.
type Tree struct {
	Nodes []Node
}

func (t *Tree) predictRow(x []float64) float64 {
	i := 0
	for {
		nd := t.Nodes[i]
		if nd.Left == leafNode {
			return nd.Value
		}
		if x[nd.Feature] <= nd.Threshold {
			i = nd.Left
		} else {
			i = nd.Right
		}
	}
}

// Depth returns the number of edges on the longest root to leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		nd := t.Nodes[i]
		if nd.Left == leafNode {
			return 0
		}
		return 1 + max(walk(nd.Left), walk(nd.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// growConfig controls tree induction. A node's score is S^2/(n+lambda) where
// S is the sum of its targets, so lambda 0 yields squared-error CART and
// lambda > 0 the second-order boosting objective for squared loss.
type growConfig struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	lambda          float64
	minGain         float64
	rng             *rand.Rand
}

type grower struct {
	cfg   growConfig
	x     [][]float64
	t     []float64
	nodes []Node
	order []int
}

// growTree fits a tree on the rows of x listed in idx. idx may repeat rows.
func growTree(x [][]float64, t []float64, idx []int, cfg growConfig) Tree {
	if cfg.minSamplesSplit < 2 {
		cfg.minSamplesSplit = 2
	}
	if cfg.minSamplesLeaf < 1 {
		cfg.minSamplesLeaf = 1
	}
	g := &grower{cfg: cfg, x: x, t: t, order: make([]int, len(idx))}
	g.grow(idx, 0)
	return Tree{Nodes: g.nodes}
}

func (g *grower) grow(idx []int, depth int) int {
	sum := 0.0
	for _, i := range idx {
		sum += g.t[i]
	}
	n := len(idx)
	id := len(g.nodes)
	g.nodes = append(g.nodes, Node{Left: leafNode, Right: leafNode, Value: sum / (float64(n) + g.cfg.lambda)})

	if n < g.cfg.minSamplesSplit || (g.cfg.maxDepth > 0 && depth >= g.cfg.maxDepth) || g.pure(idx) {
		return id
	}

	feature, threshold, ok := g.bestSplit(idx, sum)
	if !ok {
		return id
	}

	left := make([]int, 0, n)
	right := make([]int, 0, n)
	for _, i := range idx {
		if g.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := g.grow(left, depth+1)
	r := g.grow(right, depth+1)
	g.nodes[id].Feature = feature
	g.nodes[id].Threshold = threshold
	g.nodes[id].Left = l
	g.nodes[id].Right = r
	return id
}

func (g *grower) pure(idx []int) bool {
	first := g.t[idx[0]]
	tol := 1e-12 * math.Max(1, math.Abs(first))
	for _, i := range idx[1:] {
		if math.Abs(g.t[i]-first) > tol {
			return false
		}
	}
	return true
}

func (g *grower) features() []int {
	p := len(g.x[0])
	if g.cfg.maxFeatures <= 0 || g.cfg.maxFeatures >= p || g.cfg.rng == nil {
		all := make([]int, p)
		for i := range all {
			all[i] = i
		}
		return all
	}
	return g.cfg.rng.Perm(p)[:g.cfg.maxFeatures]
}

// bestSplit scans every candidate threshold of every considered feature and
// returns the first split with the highest gain.
func (g *grower) bestSplit(idx []int, sum float64) (feature int, threshold float64, ok bool) {
	n := len(idx)
	lambda := g.cfg.lambda
	parent := sum * sum / (float64(n) + lambda)
	bestGain := g.cfg.minGain

	order := g.order[:n]
	for _, f := range g.features() {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return g.x[order[a]][f] < g.x[order[b]][f] })

		leftSum := 0.0
		for k := 0; k < n-1; k++ {
			leftSum += g.t[order[k]]
			v, next := g.x[order[k]][f], g.x[order[k+1]][f]
			if v == next {
				continue
			}
			nl, nr := k+1, n-k-1
			if nl < g.cfg.minSamplesLeaf || nr < g.cfg.minSamplesLeaf {
				continue
			}
			rightSum := sum - leftSum
			gain := leftSum*leftSum/(float64(nl)+lambda) + rightSum*rightSum/(float64(nr)+lambda) - parent
			if gain > bestGain {
				thr := v + (next-v)/2
				if thr >= next {
					thr = v
				}
				feature, threshold, bestGain, ok = f, thr, gain, true
			}
		}
	}
	return feature, threshold, ok
}

// DecisionTree is a CART regression tree minimizing squared error.
type DecisionTree struct {
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Seed            int64
	Features        int
	Tree            Tree
}

// NewDecisionTree returns an unfitted tree grown until leaves are pure.
func NewDecisionTree() *DecisionTree {
	return &DecisionTree{MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (m *DecisionTree) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "decision tree")
	}
	m.Tree = growTree(rows(X), y, seq(n), m.config())
	m.Features = p
	return nil
}

func (m *DecisionTree) config() growConfig {
	return growConfig{
		maxDepth:        m.MaxDepth,
		minSamplesSplit: m.MinSamplesSplit,
		minSamplesLeaf:  m.MinSamplesLeaf,
		maxFeatures:     m.MaxFeatures,
		minGain:         negInf,
		rng:             rand.New(rand.NewSource(m.Seed)),
	}
}

func (m *DecisionTree) Predict(X mat.Matrix) ([]float64, error) {
	n, err := checkPredict(X, len(m.Tree.Nodes) > 0, m.Features)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = m.Tree.predictRow(mat.Row(nil, i, X))
	}
	return out, nil
}

func seq(n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}
