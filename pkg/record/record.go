// Package record defines the student record schema shared by training and
// prediction, the tabular frame read from CSV partitions, and the parsing of
// web form input into records.
package record

import (
	"math"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/mchmarny/mathscore/pkg/stage"
)

const (
	ColGender         = "gender"
	ColRaceEthnicity  = "race_ethnicity"
	ColParentalEdu    = "parental_level_of_education"
	ColLunch          = "lunch"
	ColTestPrep       = "test_preparation_course"
	ColReadingScore   = "reading_score"
	ColWritingScore   = "writing_score"
	ColMathScore      = "math_score"
	formEthnicityName = "ethnicity"

	minScore = 0
	maxScore = 100

	// TargetColumn is the training label.
	TargetColumn = ColMathScore
)

var (
	numericColumns     = []string{ColWritingScore, ColReadingScore}
	categoricalColumns = []string{ColGender, ColRaceEthnicity, ColParentalEdu, ColLunch, ColTestPrep}
)

// NumericColumns returns the numeric features in encoder order.
func NumericColumns() []string {
	return slices.Clone(numericColumns)
}

// CategoricalColumns returns the categorical features in encoder order.
func CategoricalColumns() []string {
	return slices.Clone(categoricalColumns)
}

// FeatureColumns returns the numeric followed by the categorical feature names.
func FeatureColumns() []string {
	cols := make([]string, 0, len(numericColumns)+len(categoricalColumns))
	cols = append(cols, numericColumns...)
	return append(cols, categoricalColumns...)
}

// Record is one student. MathScore is only meaningful for training rows.
type Record struct {
	Gender                   string  `json:"gender" yaml:"gender"`
	RaceEthnicity            string  `json:"race_ethnicity" yaml:"race_ethnicity"`
	ParentalLevelOfEducation string  `json:"parental_level_of_education" yaml:"parental_level_of_education"`
	Lunch                    string  `json:"lunch" yaml:"lunch"`
	TestPreparationCourse    string  `json:"test_preparation_course" yaml:"test_preparation_course"`
	ReadingScore             float64 `json:"reading_score" yaml:"reading_score"`
	WritingScore             float64 `json:"writing_score" yaml:"writing_score"`
	MathScore                float64 `json:"math_score,omitempty" yaml:"math_score,omitempty"`
}

// Value returns the string form of the named feature.
func (r Record) Value(col string) (string, bool) {
	switch col {
	case ColGender:
		return r.Gender, true
	case ColRaceEthnicity:
		return r.RaceEthnicity, true
	case ColParentalEdu:
		return r.ParentalLevelOfEducation, true
	case ColLunch:
		return r.Lunch, true
	case ColTestPrep:
		return r.TestPreparationCourse, true
	case ColReadingScore:
		return strconv.FormatFloat(r.ReadingScore, 'f', -1, 64), true
	case ColWritingScore:
		return strconv.FormatFloat(r.WritingScore, 'f', -1, 64), true
	case ColMathScore:
		return strconv.FormatFloat(r.MathScore, 'f', -1, 64), true
	default:
		return "", false
	}
}

func (r Record) score(col string) float64 {
	if col == ColReadingScore {
		return r.ReadingScore
	}
	return r.WritingScore
}

// Frame converts the record into a single-row feature frame.
func (r Record) Frame() *Frame {
	cols := FeatureColumns()
	row := make([]string, len(cols))
	for i, c := range cols {
		row[i], _ = r.Value(c)
	}
	return &Frame{Header: cols, Rows: [][]string{row}}
}

// Validate checks that all categorical fields are present and scores are in range.
func (r Record) Validate() error {
	for _, c := range categoricalColumns {
		if v, _ := r.Value(c); strings.TrimSpace(v) == "" {
			return stage.New(stage.Request, stage.KindValidation, "required field is empty", "field", c)
		}
	}
	for _, c := range numericColumns {
		v := r.score(c)
		if v < minScore || v > maxScore {
			return stage.New(stage.Request, stage.KindValidation, "score out of range", "field", c, "value", v)
		}
	}
	return nil
}

// FromForm builds a record from submitted form values. The race/ethnicity
// field is accepted under both its column name and the form's shorter name.
// Each score field maps to the record field of the same name.
func FromForm(v url.Values) (Record, error) {
	r := Record{
		Gender:                   strings.TrimSpace(v.Get(ColGender)),
		RaceEthnicity:            strings.TrimSpace(v.Get(ColRaceEthnicity)),
		ParentalLevelOfEducation: strings.TrimSpace(v.Get(ColParentalEdu)),
		Lunch:                    strings.TrimSpace(v.Get(ColLunch)),
		TestPreparationCourse:    strings.TrimSpace(v.Get(ColTestPrep)),
	}
	if r.RaceEthnicity == "" {
		r.RaceEthnicity = strings.TrimSpace(v.Get(formEthnicityName))
	}

	var err error
	if r.ReadingScore, err = ParseScore(ColReadingScore, v.Get(ColReadingScore)); err != nil {
		return Record{}, err
	}
	if r.WritingScore, err = ParseScore(ColWritingScore, v.Get(ColWritingScore)); err != nil {
		return Record{}, err
	}

	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// ParseScore parses a numeric form field.
func ParseScore(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, stage.New(stage.Request, stage.KindValidation, "numeric field is empty", "field", field)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, stage.Wrap(stage.Request, stage.KindValidation, err, "numeric field is malformed", "field", field, "value", s)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, stage.New(stage.Request, stage.KindValidation, "numeric field is not finite", "field", field, "value", s)
	}
	return f, nil
}
