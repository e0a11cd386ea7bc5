package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// R2 is the coefficient of determination. A constant target scores 1 when
// predicted exactly and 0 otherwise. Never greater than 1.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return math.NaN()
	}
	m := stat.Mean(yTrue, nil)
	ssTot, ssRes := 0.0, 0.0
	for i, v := range yTrue {
		d := v - m
		ssTot += d * d
		r := v - yPred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}

// MAE is the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return math.NaN()
	}
	return floats.Distance(yTrue, yPred, 1) / float64(len(yTrue))
}

// RMSE is the root mean squared error.
func RMSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return math.NaN()
	}
	d := floats.Distance(yTrue, yPred, 2)
	return d / math.Sqrt(float64(len(yTrue)))
}
