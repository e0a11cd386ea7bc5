package transform

import (
	"math"
	"slices"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
)

// minScale is the smallest standard deviation treated as non-zero.
const minScale = 1e-12

// Numeric imputes missing numeric cells with the training median and divides
// each column by its training standard deviation. Values are not centered.
type Numeric struct {
	Columns []string
	Medians []float64
	Scales  []float64
}

// Categorical imputes missing cells with the training mode, one-hot encodes
// against the sorted training categories and scales each indicator column.
type Categorical struct {
	Columns    []string
	Modes      []string
	Categories [][]string
	Scales     []float64
}

// Encoder turns feature frames into numeric matrices. Output columns are the
// numeric features in order followed by one indicator block per categorical
// feature. An Encoder is fitted once and only transforms afterwards.
type Encoder struct {
	Numeric     Numeric
	Categorical Categorical
	Fitted      bool
}

// NewEncoder builds an unfitted encoder. The column lists must match the
// record schema in both membership and order.
func NewEncoder(numeric, categorical []string) (*Encoder, error) {
	if !slices.Equal(numeric, record.NumericColumns()) {
		return nil, stage.New(stage.Transform, stage.KindSchemaMismatch, "numeric columns do not match schema",
			"got", numeric, "want", record.NumericColumns())
	}
	if !slices.Equal(categorical, record.CategoricalColumns()) {
		return nil, stage.New(stage.Transform, stage.KindSchemaMismatch, "categorical columns do not match schema",
			"got", categorical, "want", record.CategoricalColumns())
	}
	return &Encoder{
		Numeric:     Numeric{Columns: slices.Clone(numeric)},
		Categorical: Categorical{Columns: slices.Clone(categorical)},
	}, nil
}

// DefaultEncoder builds an unfitted encoder for the record schema.
func DefaultEncoder() *Encoder {
	e, err := NewEncoder(record.NumericColumns(), record.CategoricalColumns())
	if err != nil {
		panic(err)
	}
	return e
}

// Width is the number of output columns. It is only meaningful once fitted.
func (e *Encoder) Width() int {
	w := len(e.Numeric.Columns)
	for _, c := range e.Categorical.Categories {
		w += len(c)
	}
	return w
}

// FeatureNames returns the output column names, one-hot columns as col=value.
func (e *Encoder) FeatureNames() []string {
	names := slices.Clone(e.Numeric.Columns)
	for i, col := range e.Categorical.Columns {
		if i >= len(e.Categorical.Categories) {
			break
		}
		for _, v := range e.Categorical.Categories[i] {
			names = append(names, col+"="+v)
		}
	}
	return names
}

// Fit learns imputation values, categories and scales from f.
func (e *Encoder) Fit(f *record.Frame) error {
	if f.Len() == 0 {
		return stage.New(stage.Transform, stage.KindProcessing, "cannot fit on empty frame")
	}

	num, err := e.numericValues(f)
	if err != nil {
		return err
	}
	n := Numeric{Columns: e.Numeric.Columns}
	for _, vals := range num {
		med := median(vals)
		filled := fill(vals, med)
		n.Medians = append(n.Medians, med)
		n.Scales = append(n.Scales, scaleOf(filled))
	}

	cat := Categorical{Columns: e.Categorical.Columns}
	for _, col := range e.Categorical.Columns {
		vals, err := f.Column(col)
		if err != nil {
			return err
		}
		mode := modeOf(vals)
		cats := categoriesOf(vals, mode)
		cat.Modes = append(cat.Modes, mode)
		cat.Categories = append(cat.Categories, cats)

		for _, c := range cats {
			ind := make([]float64, len(vals))
			for r, v := range vals {
				if impute(v, mode) == c {
					ind[r] = 1
				}
			}
			cat.Scales = append(cat.Scales, scaleOf(ind))
		}
	}

	e.Numeric = n
	e.Categorical = cat
	e.Fitted = true
	return nil
}

// Transform encodes f with the fitted parameters. Categories not seen during
// fitting are rejected.
func (e *Encoder) Transform(f *record.Frame) (*mat.Dense, error) {
	if !e.Fitted {
		return nil, stage.New(stage.Transform, stage.KindProcessing, "encoder is not fitted")
	}
	if f.Len() == 0 {
		return nil, stage.New(stage.Transform, stage.KindProcessing, "cannot transform empty frame")
	}

	num, err := e.numericValues(f)
	if err != nil {
		return nil, err
	}

	rows := f.Len()
	out := mat.NewDense(rows, e.Width(), nil)
	for j, vals := range num {
		for r, v := range vals {
			if math.IsNaN(v) {
				v = e.Numeric.Medians[j]
			}
			out.Set(r, j, v/e.Numeric.Scales[j])
		}
	}

	offset := len(e.Numeric.Columns)
	scale := 0
	for i, col := range e.Categorical.Columns {
		vals, err := f.Column(col)
		if err != nil {
			return nil, err
		}
		cats := e.Categorical.Categories[i]
		for r, v := range vals {
			v = impute(v, e.Categorical.Modes[i])
			k, ok := slices.BinarySearch(cats, v)
			if !ok {
				return nil, stage.New(stage.Transform, stage.KindValidation, "unknown category",
					"column", col, "value", v)
			}
			out.Set(r, offset+k, 1/e.Categorical.Scales[scale+k])
		}
		offset += len(cats)
		scale += len(cats)
	}
	return out, nil
}

// FitTransform fits on f and returns its encoding.
func (e *Encoder) FitTransform(f *record.Frame) (*mat.Dense, error) {
	if err := e.Fit(f); err != nil {
		return nil, err
	}
	return e.Transform(f)
}

// numericValues parses the numeric columns; missing cells become NaN.
func (e *Encoder) numericValues(f *record.Frame) ([][]float64, error) {
	out := make([][]float64, len(e.Numeric.Columns))
	for j, col := range e.Numeric.Columns {
		cells, err := f.Column(col)
		if err != nil {
			return nil, err
		}
		vals := make([]float64, len(cells))
		for r, c := range cells {
			if record.IsMissing(c) {
				vals[r] = math.NaN()
				continue
			}
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return nil, stage.Wrap(stage.Transform, stage.KindProcessing, err, "parsing numeric cell",
					"column", col, "row", r)
			}
			vals[r] = v
		}
		out[j] = vals
	}
	for _, col := range e.Categorical.Columns {
		if !f.Has(col) {
			return nil, stage.New(stage.Transform, stage.KindSchemaMismatch, "column not found", "column", col)
		}
	}
	return out, nil
}

// median of the non-NaN values, averaging the two middle values for even
// counts. Zero when every value is missing.
func median(vals []float64) float64 {
	present := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0
	}
	sort.Float64s(present)
	m := len(present) / 2
	if len(present)%2 == 1 {
		return present[m]
	}
	return (present[m-1] + present[m]) / 2
}

func fill(vals []float64, with float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if math.IsNaN(v) {
			v = with
		}
		out[i] = v
	}
	return out
}

// scaleOf is the population standard deviation, or 1 for a constant column.
func scaleOf(vals []float64) float64 {
	s := stat.PopStdDev(vals, nil)
	if math.IsNaN(s) || s < minScale {
		return 1
	}
	return s
}

func impute(v, mode string) string {
	if record.IsMissing(v) {
		return mode
	}
	return v
}

// modeOf returns the most frequent present value, the smallest on ties.
func modeOf(vals []string) string {
	counts := map[string]int{}
	for _, v := range vals {
		if !record.IsMissing(v) {
			counts[v]++
		}
	}
	var mode string
	best := 0
	for v, c := range counts {
		if c > best || (c == best && v < mode) {
			mode, best = v, c
		}
	}
	return mode
}

func categoriesOf(vals []string, mode string) []string {
	seen := map[string]bool{}
	for _, v := range vals {
		seen[impute(v, mode)] = true
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)
	return cats
}
