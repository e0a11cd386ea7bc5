package model

import (
	"math"
	"math/rand"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	adaEstimators   = 50
	adaLearningRate = 1.0
	adaMaxDepth     = 3
)

// AdaBoost is AdaBoost.R2 with linear loss over shallow regression trees.
// Each round fits a tree on a sample drawn by the current row weights and
// the ensemble predicts the weighted median of its trees.
type AdaBoost struct {
	NEstimators  int
	LearningRate float64
	MaxDepth     int
	Seed         int64
	Features     int
	Estimators   []Tree
	Weights      []float64
}

// NewAdaBoost returns an unfitted ensemble of up to 50 depth-3 trees.
func NewAdaBoost() *AdaBoost {
	return &AdaBoost{NEstimators: adaEstimators, LearningRate: adaLearningRate, MaxDepth: adaMaxDepth}
}

func (m *AdaBoost) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "adaboost")
	}
	if m.NEstimators < 1 || m.LearningRate <= 0 {
		return errors.Errorf("adaboost: invalid estimators %d or rate %v", m.NEstimators, m.LearningRate)
	}

	x := rows(X)
	rng := rand.New(rand.NewSource(m.Seed))
	w := make([]float64, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}

	var (
		trees   []Tree
		weights []float64
		loss    = make([]float64, n)
		cdf     = make([]float64, n)
	)
	for round := 0; round < m.NEstimators; round++ {
		floats.CumSum(cdf, w)
		sample := make([]int, n)
		for k := range sample {
			u := rng.Float64() * cdf[n-1]
			sample[k] = min(sort.Search(n, func(i int) bool { return cdf[i] > u }), n-1)
		}

		t := growTree(x, y, sample, growConfig{
			maxDepth:        m.MaxDepth,
			minSamplesSplit: 2,
			minSamplesLeaf:  1,
			minGain:         negInf,
			rng:             rng,
		})

		maxLoss := 0.0
		for i := range loss {
			loss[i] = math.Abs(t.predictRow(x[i]) - y[i])
			maxLoss = math.Max(maxLoss, loss[i])
		}
		if maxLoss > 0 {
			floats.Scale(1/maxLoss, loss)
		}
		avgLoss := floats.Dot(w, loss)

		if avgLoss <= 0 {
			trees = append(trees, t)
			weights = append(weights, 1)
			break
		}
		if avgLoss >= 0.5 {
			if len(trees) == 0 {
				trees = append(trees, t)
				weights = append(weights, 1)
			}
			break
		}

		beta := avgLoss / (1 - avgLoss)
		trees = append(trees, t)
		weights = append(weights, m.LearningRate*math.Log(1/beta))

		if round < m.NEstimators-1 {
			for i := range w {
				w[i] *= math.Pow(beta, (1-loss[i])*m.LearningRate)
			}
			total := floats.Sum(w)
			if total <= 0 {
				break
			}
			floats.Scale(1/total, w)
		}
	}

	m.Estimators = trees
	m.Weights = weights
	m.Features = p
	return nil
}

// Predict returns, per row, the smallest tree prediction whose cumulative
// weight reaches half of the total.
func (m *AdaBoost) Predict(X mat.Matrix) ([]float64, error) {
	n, err := checkPredict(X, len(m.Estimators) > 0, m.Features)
	if err != nil {
		return nil, err
	}
	total := floats.Sum(m.Weights)
	out := make([]float64, n)

	type vote struct {
		v float64
		w float64
	}
	votes := make([]vote, len(m.Estimators))
	for i := range out {
		x := mat.Row(nil, i, X)
		for k := range m.Estimators {
			votes[k] = vote{v: m.Estimators[k].predictRow(x), w: m.Weights[k]}
		}
		sort.SliceStable(votes, func(a, b int) bool { return votes[a].v < votes[b].v })

		acc := 0.0
		out[i] = votes[len(votes)-1].v
		for _, vt := range votes {
			acc += vt.w
			if acc >= 0.5*total {
				out[i] = vt.v
				break
			}
		}
	}
	return out, nil
}
