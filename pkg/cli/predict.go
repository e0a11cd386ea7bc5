package cli

import (
	"fmt"
	"net/url"

	urfave "github.com/urfave/cli/v2"

	"github.com/mchmarny/mathscore/pkg/record"
)

var (
	genderFlag = &urfave.StringFlag{
		Name:     "gender",
		Usage:    "Student gender [female, male]",
		Required: true,
	}

	ethnicityFlag = &urfave.StringFlag{
		Name:     "ethnicity",
		Aliases:  []string{"race-ethnicity"},
		Usage:    "Race/ethnicity group [group A .. group E]",
		Required: true,
	}

	parentalEduFlag = &urfave.StringFlag{
		Name:     "parental-education",
		Usage:    "Parental level of education (e.g. \"bachelor's degree\")",
		Required: true,
	}

	lunchFlag = &urfave.StringFlag{
		Name:     "lunch",
		Usage:    "Lunch type [standard, free/reduced]",
		Required: true,
	}

	testPrepFlag = &urfave.StringFlag{
		Name:     "test-prep",
		Usage:    "Test preparation course [none, completed]",
		Required: true,
	}

	readingScoreFlag = &urfave.StringFlag{
		Name:     "reading-score",
		Usage:    "Reading score (0-100)",
		Required: true,
	}

	writingScoreFlag = &urfave.StringFlag{
		Name:     "writing-score",
		Usage:    "Writing score (0-100)",
		Required: true,
	}

	predictCmd = &urfave.Command{
		Name:    "predict",
		Aliases: []string{"p"},
		Usage:   "Predict the math score of one student with the trained model",
		UsageText: `mathscore predict --gender female --ethnicity "group B" \
     --parental-education "bachelor's degree" --lunch standard \
     --test-prep none --reading-score 72 --writing-score 74`,
		Action: cmdPredict,
		Flags: []urfave.Flag{
			genderFlag,
			ethnicityFlag,
			parentalEduFlag,
			lunchFlag,
			testPrepFlag,
			readingScoreFlag,
			writingScoreFlag,
		},
	}
)

// predictValues maps the command flags onto the web form fields so both
// surfaces share one validation path.
func predictValues(c *urfave.Context) url.Values {
	return url.Values{
		record.ColGender:        {c.String(genderFlag.Name)},
		record.ColRaceEthnicity: {c.String(ethnicityFlag.Name)},
		record.ColParentalEdu:   {c.String(parentalEduFlag.Name)},
		record.ColLunch:         {c.String(lunchFlag.Name)},
		record.ColTestPrep:      {c.String(testPrepFlag.Name)},
		record.ColReadingScore:  {c.String(readingScoreFlag.Name)},
		record.ColWritingScore:  {c.String(writingScoreFlag.Name)},
	}
}

func cmdPredict(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	rec, err := record.FromForm(predictValues(c))
	if err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}

	res, err := cfg.Predictor.PredictResult(c.Context, rec)
	if err != nil {
		return fmt.Errorf("prediction failed: %w", err)
	}
	return encode(res)
}
