// Package model implements the regressors evaluated by the trainer. Every
// regressor fits on a feature matrix and a target vector, predicts one value
// per row, and is gob-encodable so a fitted instance can be persisted.
package model

import (
	"encoding/gob"
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("model is not fitted")

	// ErrDimensions is returned when X and y or the feature counts disagree.
	ErrDimensions = errors.New("dimension mismatch")
)

// Regressor is a supervised model with a continuous target.
type Regressor interface {
	Fit(X mat.Matrix, y []float64) error
	Predict(X mat.Matrix) ([]float64, error)
}

func init() {
	gob.Register(&LinearRegression{})
	gob.Register(&Lasso{})
	gob.Register(&Ridge{})
	gob.Register(&KNeighbors{})
	gob.Register(&DecisionTree{})
	gob.Register(&RandomForest{})
	gob.Register(&GradientBoosting{})
	gob.Register(&ObliviousBoosting{})
	gob.Register(&AdaBoost{})
}

// checkFit validates training inputs and returns their shape.
func checkFit(X mat.Matrix, y []float64) (n, p int, err error) {
	if X == nil {
		return 0, 0, errors.Wrap(ErrDimensions, "nil feature matrix")
	}
	n, p = X.Dims()
	if n == 0 || p == 0 {
		return 0, 0, errors.Wrapf(ErrDimensions, "empty feature matrix %dx%d", n, p)
	}
	if len(y) != n {
		return 0, 0, errors.Wrapf(ErrDimensions, "%d rows but %d targets", n, len(y))
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, 0, errors.Errorf("target %d is not finite", i)
		}
	}
	return n, p, nil
}

// checkPredict validates a prediction matrix against the fitted width.
func checkPredict(X mat.Matrix, fitted bool, p int) (int, error) {
	if !fitted {
		return 0, ErrNotFitted
	}
	if X == nil {
		return 0, errors.Wrap(ErrDimensions, "nil feature matrix")
	}
	n, c := X.Dims()
	if c != p {
		return 0, errors.Wrapf(ErrDimensions, "fitted on %d features, got %d", p, c)
	}
	return n, nil
}

// SplitTarget separates a matrix whose last column is the target into the
// feature view and the target values.
func SplitTarget(m mat.Matrix) (mat.Matrix, []float64) {
	r, c := m.Dims()
	y := mat.Col(nil, c-1, m)
	if d, ok := m.(*mat.Dense); ok {
		return d.Slice(0, r, 0, c-1), y
	}
	x := mat.NewDense(r, c-1, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c-1; j++ {
			x.Set(i, j, m.At(i, j))
		}
	}
	return x, y
}

// rows copies X into row slices.
func rows(X mat.Matrix) [][]float64 {
	n, _ := X.Dims()
	out := make([][]float64, n)
	for i := range out {
		out[i] = mat.Row(nil, i, X)
	}
	return out
}

// parallelRows fills out[i] = f(i) using row chunks across GOMAXPROCS workers.
func parallelRows(n int, out []float64, f func(i int) float64) {
	workers := runtime.GOMAXPROCS(0)
	per := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		start := w * per
		end := min(start+per, n)
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				out[i] = f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
