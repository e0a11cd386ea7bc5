package model

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	defaultAlpha     = 1.0
	defaultLassoIter = 1000
	defaultLassoTol  = 1e-4
	machineEpsilon   = 2.220446049250313e-16
)

// LinearRegression is ordinary least squares with an intercept. Rank
// deficient designs, such as full one-hot blocks, get the minimum-norm
// solution.
type LinearRegression struct {
	Coef      []float64
	Intercept float64
}

// NewLinearRegression returns an unfitted OLS model.
func NewLinearRegression() *LinearRegression {
	return &LinearRegression{}
}

func (m *LinearRegression) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "linear regression")
	}
	xc, xMean, yc, yMean := center(X, y)

	var svd mat.SVD
	if !svd.Factorize(xc, mat.SVDThin) {
		return errors.New("linear regression: svd factorization failed")
	}

	coef := make([]float64, p)
	if rank := svd.Rank(machineEpsilon * float64(max(n, p))); rank > 0 {
		var w mat.VecDense
		svd.SolveVecTo(&w, mat.NewVecDense(n, yc), rank)
		for j := range coef {
			coef[j] = w.AtVec(j)
		}
	}

	m.Coef = coef
	m.Intercept = yMean - floats.Dot(xMean, coef)
	return nil
}

func (m *LinearRegression) Predict(X mat.Matrix) ([]float64, error) {
	return predictLinear(X, m.Coef, m.Intercept)
}

// Ridge is least squares with an L2 penalty on the coefficients.
type Ridge struct {
	Alpha     float64
	Coef      []float64
	Intercept float64
}

// NewRidge returns an unfitted ridge model with alpha 1.
func NewRidge() *Ridge {
	return &Ridge{Alpha: defaultAlpha}
}

func (m *Ridge) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "ridge")
	}
	if m.Alpha < 0 {
		return errors.Errorf("ridge: negative alpha %v", m.Alpha)
	}
	xc, xMean, yc, yMean := center(X, y)

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+m.Alpha)
	}

	var rhs mat.VecDense
	rhs.MulVec(xc.T(), mat.NewVecDense(n, yc))

	var chol mat.Cholesky
	if !chol.Factorize(&gram) {
		return errors.New("ridge: system is not positive definite")
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return errors.Wrap(err, "ridge: solving normal equations")
	}

	m.Coef = make([]float64, p)
	for j := range m.Coef {
		m.Coef[j] = w.AtVec(j)
	}
	m.Intercept = yMean - floats.Dot(xMean, m.Coef)
	return nil
}

func (m *Ridge) Predict(X mat.Matrix) ([]float64, error) {
	return predictLinear(X, m.Coef, m.Intercept)
}

// Lasso is least squares with an L1 penalty, minimizing
// (1/2n)*||y - Xw||^2 + alpha*||w||_1 by cyclic coordinate descent.
type Lasso struct {
	Alpha     float64
	MaxIter   int
	Tol       float64
	Coef      []float64
	Intercept float64
	Iter      int
}

// NewLasso returns an unfitted lasso model with alpha 1.
func NewLasso() *Lasso {
	return &Lasso{Alpha: defaultAlpha, MaxIter: defaultLassoIter, Tol: defaultLassoTol}
}

func (m *Lasso) Fit(X mat.Matrix, y []float64) error {
	n, p, err := checkFit(X, y)
	if err != nil {
		return errors.Wrap(err, "lasso")
	}
	if m.Alpha < 0 {
		return errors.Errorf("lasso: negative alpha %v", m.Alpha)
	}
	xc, xMean, yc, yMean := center(X, y)

	cols := make([][]float64, p)
	norms := make([]float64, p)
	for j := range cols {
		cols[j] = mat.Col(nil, j, xc)
		norms[j] = floats.Dot(cols[j], cols[j])
	}

	alpha := m.Alpha * float64(n)
	tol := m.Tol * floats.Dot(yc, yc)
	w := make([]float64, p)
	r := append([]float64(nil), yc...)

	m.Iter = 0
	for it := 0; it < m.MaxIter; it++ {
		m.Iter = it + 1
		maxW, maxDelta := 0.0, 0.0
		for j := 0; j < p; j++ {
			if norms[j] == 0 {
				continue
			}
			old := w[j]
			if old != 0 {
				floats.AddScaled(r, old, cols[j])
			}
			rho := floats.Dot(cols[j], r)
			w[j] = softThreshold(rho, alpha) / norms[j]
			if w[j] != 0 {
				floats.AddScaled(r, -w[j], cols[j])
			}
			maxDelta = math.Max(maxDelta, math.Abs(w[j]-old))
			maxW = math.Max(maxW, math.Abs(w[j]))
		}
		if maxW == 0 || maxDelta/maxW < m.Tol {
			if dualityGap(cols, r, yc, w, alpha) < tol {
				break
			}
		}
	}

	m.Coef = w
	m.Intercept = yMean - floats.Dot(xMean, w)
	return nil
}

func (m *Lasso) Predict(X mat.Matrix) ([]float64, error) {
	return predictLinear(X, m.Coef, m.Intercept)
}

func softThreshold(x, t float64) float64 {
	switch {
	case x > t:
		return x - t
	case x < -t:
		return x + t
	default:
		return 0
	}
}

// dualityGap of the lasso problem at w with residual r.
func dualityGap(cols [][]float64, r, y, w []float64, alpha float64) float64 {
	dualNorm := 0.0
	for _, c := range cols {
		dualNorm = math.Max(dualNorm, math.Abs(floats.Dot(c, r)))
	}
	rNorm2 := floats.Dot(r, r)

	var gap float64
	scale := 1.0
	if dualNorm > alpha {
		scale = alpha / dualNorm
		gap = 0.5 * (rNorm2 + rNorm2*scale*scale)
	} else {
		gap = rNorm2
	}
	return gap + alpha*floats.Norm(w, 1) - scale*floats.Dot(r, y)
}

// center subtracts column means from X and the mean from y.
func center(X mat.Matrix, y []float64) (xc *mat.Dense, xMean, yc []float64, yMean float64) {
	n, p := X.Dims()
	xc = mat.DenseCopyOf(X)
	xMean = make([]float64, p)
	for j := 0; j < p; j++ {
		col := mat.Col(nil, j, xc)
		xMean[j] = mean(col)
		for i := range col {
			col[i] -= xMean[j]
		}
		xc.SetCol(j, col)
	}
	yMean = mean(y)
	yc = make([]float64, n)
	for i, v := range y {
		yc[i] = v - yMean
	}
	return xc, xMean, yc, yMean
}

func predictLinear(X mat.Matrix, coef []float64, intercept float64) ([]float64, error) {
	n, err := checkPredict(X, coef != nil, len(coef))
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = intercept + floats.Dot(mat.Row(nil, i, X), coef)
	}
	return out, nil
}
