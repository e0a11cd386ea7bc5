package model

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	gbRounds       = 100
	gbLearningRate = 0.3
	gbMaxDepth     = 6
	gbLambda       = 1.0
	gbMinGain      = 1e-6

	obIterations   = 1000
	obLearningRate = 0.03
	obDepth        = 6
	obL2           = 3.0
	obBorderCount  = 254
)

// GradientBoosting fits depth-wise regression trees to the residuals of the
// running prediction using the second-order objective for squared loss with
// L2 leaf regularization.
type GradientBoosting struct {
	Rounds       int
	LearningRate float64
	MaxDepth     int
	Lambda       float64
	Base         float64
	Features     int
	Trees        []Tree
}

// NewGradientBoosting returns an unfitted model with 100 rounds at rate 0.3.
func NewGradientBoosting() *GradientBoosting {
	return &GradientBoosting{
		Rounds:       gbRounds,
		LearningRate: gbLearningRate,
		MaxDepth:     gbMaxDepth,
		Lambda:       gbLambda,
	}
}

func (m *GradientBoosting) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "gradient boosting")
	}
	if m.Rounds < 1 || m.LearningRate <= 0 {
		return errors.Errorf("gradient boosting: invalid rounds %d or rate %v", m.Rounds, m.LearningRate)
	}

	x := rows(X)
	idx := seq(n)
	base := mean(y)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	resid := make([]float64, n)
	trees := make([]Tree, 0, m.Rounds)
	for r := 0; r < m.Rounds; r++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		t := growTree(x, resid, idx, growConfig{
			maxDepth:        m.MaxDepth,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			lambda:          m.Lambda,
			minGain:         gbMinGain,
		})
		for i := range pred {
			pred[i] += m.LearningRate * t.predictRow(x[i])
		}
		trees = append(trees, t)
	}

	m.Base = base
	m.Trees = trees
	m.Features = p
	return nil
}

func (m *GradientBoosting) Predict(X mat.Matrix) ([]float64, error) {
	n, err := checkPredict(X, len(m.Trees) > 0, m.Features)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		x := mat.Row(nil, i, X)
		v := m.Base
		for k := range m.Trees {
			v += m.LearningRate * m.Trees[k].predictRow(x)
		}
		out[i] = v
	}
	return out, nil
}

// ObliviousTree applies the same feature/threshold test to every node of a
// level. A row's leaf index is built from the level outcomes, most
// significant first, with 1 meaning x[feature] > threshold.
type ObliviousTree struct {
	Features   []int
	Thresholds []float64
	Leaves     []float64
}

func (t *ObliviousTree) leaf(x []float64) int {
	idx := 0
	for d, f := range t.Features {
		idx <<= 1
		if x[f] > t.Thresholds[d] {
			idx |= 1
		}
	}
	return idx
}

// ObliviousBoosting is gradient boosting over symmetric trees built on
// quantized features. Each level picks the split that maximizes the summed
// regularized score over all current leaves.
type ObliviousBoosting struct {
	Iterations   int
	LearningRate float64
	Depth        int
	L2           float64
	BorderCount  int
	Base         float64
	Features     int
	Trees        []ObliviousTree
}

// NewObliviousBoosting returns an unfitted model with 1000 depth-6 trees.
func NewObliviousBoosting() *ObliviousBoosting {
	return &ObliviousBoosting{
		Iterations:   obIterations,
		LearningRate: obLearningRate,
		Depth:        obDepth,
		L2:           obL2,
		BorderCount:  obBorderCount,
	}
}

func (m *ObliviousBoosting) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "oblivious boosting")
	}
	if m.Iterations < 1 || m.Depth < 1 || m.LearningRate <= 0 || m.BorderCount < 1 {
		return errors.New("oblivious boosting: invalid parameters")
	}

	x := rows(X)
	borders := make([][]float64, p)
	bins := make([][]int, p)
	for f := 0; f < p; f++ {
		col := make([]float64, n)
		for i := range col {
			col[i] = x[i][f]
		}
		borders[f] = quantize(col, m.BorderCount)
		bins[f] = make([]int, n)
		for i, v := range col {
			bins[f][i] = sort.SearchFloat64s(borders[f], v)
		}
	}

	base := mean(y)
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = base
	}

	resid := make([]float64, n)
	leaf := make([]int, n)
	trees := make([]ObliviousTree, 0, m.Iterations)
	for it := 0; it < m.Iterations; it++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
			leaf[i] = 0
		}

		var t ObliviousTree
		for d := 0; d < m.Depth; d++ {
			f, b, ok := m.bestLevelSplit(borders, bins, resid, leaf, 1<<d)
			if !ok {
				break
			}
			t.Features = append(t.Features, f)
			t.Thresholds = append(t.Thresholds, borders[f][b])
			for i := range leaf {
				leaf[i] <<= 1
				if bins[f][i] > b {
					leaf[i] |= 1
				}
			}
		}

		size := 1 << len(t.Features)
		sums := make([]float64, size)
		counts := make([]float64, size)
		for i, l := range leaf {
			sums[l] += resid[i]
			counts[l]++
		}
		t.Leaves = make([]float64, size)
		for l := range t.Leaves {
			t.Leaves[l] = sums[l] / (counts[l] + m.L2)
		}
		for i, l := range leaf {
			pred[i] += m.LearningRate * t.Leaves[l]
		}
		trees = append(trees, t)
	}

	m.Base = base
	m.Trees = trees
	m.Features = p
	return nil
}

// bestLevelSplit returns the feature and border index whose split of every
// current leaf yields the highest total score.
func (m *ObliviousBoosting) bestLevelSplit(borders [][]float64, bins [][]int, resid []float64, leaf []int, leaves int) (int, int, bool) {
	bestF, bestB, ok := 0, 0, false
	best := negInf
	for f, bs := range borders {
		nb := len(bs)
		if nb == 0 {
			continue
		}
		width := nb + 1
		sums := make([]float64, leaves*width)
		counts := make([]float64, leaves*width)
		totalS := make([]float64, leaves)
		totalN := make([]float64, leaves)
		for i, l := range leaf {
			k := l*width + bins[f][i]
			sums[k] += resid[i]
			counts[k]++
			totalS[l] += resid[i]
			totalN[l]++
		}

		leftS := make([]float64, leaves)
		leftN := make([]float64, leaves)
		for b := 0; b < nb; b++ {
			score := 0.0
			for l := 0; l < leaves; l++ {
				leftS[l] += sums[l*width+b]
				leftN[l] += counts[l*width+b]
				rs, rn := totalS[l]-leftS[l], totalN[l]-leftN[l]
				score += leftS[l]*leftS[l]/(leftN[l]+m.L2) + rs*rs/(rn+m.L2)
			}
			if score > best {
				best, bestF, bestB, ok = score, f, b, true
			}
		}
	}
	return bestF, bestB, ok
}

func (m *ObliviousBoosting) Predict(X mat.Matrix) ([]float64, error) {
	n, err := checkPredict(X, len(m.Trees) > 0, m.Features)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		x := mat.Row(nil, i, X)
		v := m.Base
		for k := range m.Trees {
			t := &m.Trees[k]
			v += m.LearningRate * t.Leaves[t.leaf(x)]
		}
		out[i] = v
	}
	return out, nil
}

// quantize returns up to limit ascending borders placed between distinct
// values of col. Columns with a single value get none.
func quantize(col []float64, limit int) []float64 {
	vals := append([]float64(nil), col...)
	sort.Float64s(vals)
	distinct := vals[:0]
	for i, v := range vals {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	mids := make([]float64, len(distinct)-1)
	for i := range mids {
		mids[i] = distinct[i] + (distinct[i+1]-distinct[i])/2
	}
	if len(mids) <= limit {
		return mids
	}

	out := make([]float64, 0, limit)
	for k := 0; k < limit; k++ {
		i := (k*len(mids) + len(mids)/2) / limit
		if len(out) == 0 || mids[i] != out[len(out)-1] {
			out = append(out, mids[i])
		}
	}
	return out
}
