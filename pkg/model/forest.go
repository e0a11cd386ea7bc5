package model

import (
	"math/rand"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const defaultEstimators = 100

// RandomForest averages CART trees fitted on bootstrap samples. Tree i draws
// its sample from Seed+i, so the result does not depend on scheduling.
type RandomForest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Seed            int64
	Features        int
	Trees           []Tree
}

// NewRandomForest returns an unfitted forest of 100 trees.
func NewRandomForest() *RandomForest {
	return &RandomForest{NEstimators: defaultEstimators, MinSamplesSplit: 2, MinSamplesLeaf: 1}
}

func (m *RandomForest) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "random forest")
	}
	if m.NEstimators < 1 {
		return errors.Errorf("random forest: invalid estimator count %d", m.NEstimators)
	}

	x := rows(X)
	trees := make([]Tree, m.NEstimators)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range trees {
		g.Go(func() error {
			rng := rand.New(rand.NewSource(m.Seed + int64(i)))
			sample := make([]int, n)
			for k := range sample {
				sample[k] = rng.Intn(n)
			}
			trees[i] = growTree(x, y, sample, growConfig{
				maxDepth:        m.MaxDepth,
				minSamplesSplit: m.MinSamplesSplit,
				minSamplesLeaf:  m.MinSamplesLeaf,
				maxFeatures:     m.MaxFeatures,
				minGain:         negInf,
				rng:             rng,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "random forest")
	}

	m.Trees = trees
	m.Features = p
	return nil
}

func (m *RandomForest) Predict(X mat.Matrix) ([]float64, error) {
	n, err := checkPredict(X, len(m.Trees) > 0, m.Features)
	if err != nil {
		return nil, err
	}
	q := rows(X)
	out := make([]float64, n)
	parallelRows(n, out, func(i int) float64 {
		s := 0.0
		for k := range m.Trees {
			s += m.Trees[k].predictRow(q[i])
		}
		return s / float64(len(m.Trees))
	})
	return out, nil
}
