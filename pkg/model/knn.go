package model

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const defaultNeighbors = 5

// KNeighbors predicts the unweighted mean target of the K nearest training
// rows by Euclidean distance. Equal distances favor the earlier training row.
type KNeighbors struct {
	K int
	X [][]float64
	Y []float64
}

// NewKNeighbors returns an unfitted model with K of 5.
func NewKNeighbors() *KNeighbors {
	return &KNeighbors{K: defaultNeighbors}
}

// Fit stores the training data.
func (m *KNeighbors) Fit(X mat.Matrix, y []float64) error {
	n, _, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "k-neighbors")
	}
	if m.K < 1 {
		return errors.Errorf("k-neighbors: invalid k %d", m.K)
	}
	if m.K > n {
		return errors.Errorf("k-neighbors: k %d exceeds %d training rows", m.K, n)
	}
	m.X = rows(X)
	m.Y = append([]float64(nil), y...)
	return nil
}

// Predict scores rows in parallel chunks.
func (m *KNeighbors) Predict(X mat.Matrix) ([]float64, error) {
	p := 0
	if len(m.X) > 0 {
		p = len(m.X[0])
	}
	n, err := checkPredict(X, m.X != nil, p)
	if err != nil {
		return nil, err
	}
	q := rows(X)
	out := make([]float64, n)
	parallelRows(n, out, func(i int) float64 {
		return m.predictRow(q[i])
	})
	return out, nil
}

func (m *KNeighbors) predictRow(x []float64) float64 {
	type neighbor struct {
		d float64
		v float64
	}

	nbrs := make([]neighbor, 0, m.K+1)
	for j, xj := range m.X {
		d := squaredDistance(x, xj)
		if len(nbrs) == m.K && d >= nbrs[len(nbrs)-1].d {
			continue
		}
		pos := len(nbrs)
		for pos > 0 && nbrs[pos-1].d > d {
			pos--
		}
		nbrs = append(nbrs, neighbor{})
		copy(nbrs[pos+1:], nbrs[pos:])
		nbrs[pos] = neighbor{d: d, v: m.Y[j]}
		if len(nbrs) > m.K {
			nbrs = nbrs[:m.K]
		}
	}

	s := 0.0
	for _, nb := range nbrs {
		s += nb.v
	}
	return s / float64(len(nbrs))
}

func squaredDistance(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
