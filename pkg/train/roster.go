package train

import (
	"github.com/mchmarny/mathscore/pkg/model"
)

// Candidate is one entry of the model roster.
type Candidate struct {
	Name string
	New  func() model.Regressor
}

// Roster names, in evaluation order.
const (
	LinearRegression  = "Linear Regression"
	Lasso             = "Lasso"
	Ridge             = "Ridge"
	KNeighbors        = "K-Neighbors Regressor"
	DecisionTree      = "Decision Tree"
	RandomForest      = "Random Forest Regressor"
	GradientBoosting  = "Gradient Boosting Regressor"
	ObliviousBoosting = "Oblivious Boosting Regressor"
	AdaBoost          = "AdaBoost Regressor"
)

// Roster returns the fixed, ordered candidate list with default
// hyperparameters. Randomized candidates draw from seed.
func Roster(seed int64) []Candidate {
	return []Candidate{
		{LinearRegression, func() model.Regressor { return model.NewLinearRegression() }},
		{Lasso, func() model.Regressor { return model.NewLasso() }},
		{Ridge, func() model.Regressor { return model.NewRidge() }},
		{KNeighbors, func() model.Regressor { return model.NewKNeighbors() }},
		{DecisionTree, func() model.Regressor {
			m := model.NewDecisionTree()
			m.Seed = seed
			return m
		}},
		{RandomForest, func() model.Regressor {
			m := model.NewRandomForest()
			m.Seed = seed
			return m
		}},
		{GradientBoosting, func() model.Regressor { return model.NewGradientBoosting() }},
		{ObliviousBoosting, func() model.Regressor { return model.NewObliviousBoosting() }},
		{AdaBoost, func() model.Regressor {
			m := model.NewAdaBoost()
			m.Seed = seed
			return m
		}},
	}
}

// Names returns the candidate names in order.
func Names(c []Candidate) []string {
	out := make([]string, len(c))
	for i, v := range c {
		out[i] = v.Name
	}
	return out
}
