package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/mathscore/pkg/artifact"
	"github.com/mchmarny/mathscore/pkg/ingest"
	"github.com/mchmarny/mathscore/pkg/model"
	"github.com/mchmarny/mathscore/pkg/predict"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
	"github.com/mchmarny/mathscore/pkg/train"
	"github.com/mchmarny/mathscore/pkg/transform"
)

const testDataPath = "../../testdata/students.csv"

func testConfig(t *testing.T, raw string) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Ingest: ingest.Config{
			RawPath:   raw,
			TrainPath: filepath.Join(dir, "train.csv"),
			TestPath:  filepath.Join(dir, "test.csv"),
		},
		Transform: transform.Config{EncoderPath: filepath.Join(dir, "preprocessor.gob")},
		Train:     train.Config{ModelPath: filepath.Join(dir, "model.gob")},
	}
}

func TestState_Transitions(t *testing.T) {
	assert.True(t, Idle.CanTransition(Ingested))
	assert.False(t, Idle.CanTransition(Trained))
	assert.True(t, Transformed.CanTransition(Rejected))
	assert.True(t, Trained.Terminal())
	assert.True(t, Rejected.Terminal())
	assert.False(t, Ingested.Terminal())
}

func TestRun_EndToEnd(t *testing.T) {
	cfg := testConfig(t, testDataPath)

	var mu sync.Mutex
	var scored []string
	res, err := Run(context.Background(), cfg, WithProgress(func(s train.Score) {
		mu.Lock()
		defer mu.Unlock()
		scored = append(scored, s.Name)
	}), WithRoster(train.Roster(train.DefaultSeed)[:3]))
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
	assert.Equal(t, Trained, res.State)
	assert.Empty(t, res.Error)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
	require.NotNil(t, res.Best())
	assert.GreaterOrEqual(t, res.Best().R2, train.DefaultMinScore)
	assert.Len(t, scored, 3)

	assert.True(t, artifact.Exists(res.EncoderPath))
	assert.True(t, artifact.Exists(res.ModelPath))

	p, err := predict.New(predict.Config{EncoderPath: res.EncoderPath, ModelPath: res.ModelPath})
	require.NoError(t, err)
	out, err := p.Predict(context.Background(), record.Record{
		Gender:                   "female",
		RaceEthnicity:            "group B",
		ParentalLevelOfEducation: "bachelor's degree",
		Lunch:                    "standard",
		TestPreparationCourse:    "none",
		ReadingScore:             72,
		WritingScore:             74,
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, math.IsNaN(out[0]))
	assert.True(t, out[0] >= 0 && out[0] <= 100, "got %v", out[0])
}

func TestRun_FullRoster(t *testing.T) {
	if testing.Short() {
		t.Skip("fits every candidate")
	}
	res, err := Run(context.Background(), testConfig(t, testDataPath))
	require.NoError(t, err)
	require.Len(t, res.Report.Scores, 9)
	assert.Equal(t, train.Names(train.Roster(train.DefaultSeed)), func() []string {
		var n []string
		for _, s := range res.Report.Scores {
			n = append(n, s.Name)
		}
		return n
	}())
}

func TestRun_Rejected(t *testing.T) {
	cfg := testConfig(t, testDataPath)
	cfg.Train.MinScore = 0.9999

	res, err := Run(context.Background(), cfg, WithRoster([]train.Candidate{
		{Name: "ols", New: func() model.Regressor { return model.NewLinearRegression() }},
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrInsufficientQuality))
	assert.Equal(t, Rejected, res.State)
	assert.NotEmpty(t, res.Error)
	assert.Empty(t, res.EncoderPath)
	assert.Empty(t, res.ModelPath)
	assert.False(t, artifact.Exists(cfg.Transform.EncoderPath))
	assert.False(t, artifact.Exists(cfg.Train.ModelPath))
	assert.False(t, artifact.Exists(artifact.StagingPath(cfg.Transform.EncoderPath)))
	assert.False(t, artifact.Exists(artifact.StagingPath(cfg.Train.ModelPath)))
}

func TestRun_RejectedRetrainKeepsDeployment(t *testing.T) {
	cfg := testConfig(t, testDataPath)
	roster := WithRoster([]train.Candidate{
		{Name: "ols", New: func() model.Regressor { return model.NewLinearRegression() }},
	})
	rec := record.Record{
		Gender:                   "male",
		RaceEthnicity:            "group A",
		ParentalLevelOfEducation: "high school",
		Lunch:                    "free/reduced",
		TestPreparationCourse:    "completed",
		ReadingScore:             61,
		WritingScore:             58,
	}

	res, err := Run(context.Background(), cfg, roster)
	require.NoError(t, err)
	require.Equal(t, Trained, res.State)

	p, err := predict.New(predict.Config{EncoderPath: res.EncoderPath, ModelPath: res.ModelPath})
	require.NoError(t, err)
	before, err := p.Predict(context.Background(), rec)
	require.NoError(t, err)

	// Without "group A" the retrained encoder has a different layout.
	raw, err := os.ReadFile(testDataPath)
	require.NoError(t, err)
	var kept []string
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.Contains(line, "group A") {
			kept = append(kept, line)
		}
	}
	retrain := cfg
	retrain.Ingest.RawPath = filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(retrain.Ingest.RawPath, []byte(strings.Join(kept, "\n")), 0600))
	retrain.Train.MinScore = 0.9999

	rejected, err := Run(context.Background(), retrain, roster)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrInsufficientQuality))
	assert.Equal(t, Rejected, rejected.State)
	assert.False(t, artifact.Exists(artifact.StagingPath(cfg.Transform.EncoderPath)))
	assert.False(t, artifact.Exists(artifact.StagingPath(cfg.Train.ModelPath)))

	p, err = predict.New(predict.Config{EncoderPath: res.EncoderPath, ModelPath: res.ModelPath})
	require.NoError(t, err)
	after, err := p.Predict(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRun_MissingRawData(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "data.csv"))

	res, err := Run(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrIO))
	assert.Equal(t, Idle, res.State)
	assert.Nil(t, res.Best())
}
