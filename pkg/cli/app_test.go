package cli

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/mathscore/pkg/config"
	"github.com/mchmarny/mathscore/pkg/data"
	"github.com/mchmarny/mathscore/pkg/pipeline"
	"github.com/mchmarny/mathscore/pkg/predict"
	"github.com/mchmarny/mathscore/pkg/train"
)

const testDataPath = "../../testdata/students.csv"

// trainedDir holds artifacts from one short training run shared by the tests.
var trainedDir string

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "mathscore-cli")
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}

	cfg, err := testConfig(dir)
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	roster := pipeline.WithRoster(train.Roster(train.DefaultSeed)[:3])
	if _, err := pipeline.Run(context.Background(), cfg.PipelineConfig(), roster); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	trainedDir = dir

	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

// testConfig returns defaults rooted at dir with the fixture in place as the
// raw dataset.
func testConfig(dir string) (*config.Config, error) {
	cfg := config.Default()
	cfg.ArtifactDir = dir
	cfg.LogDir = filepath.Join(dir, "logs")
	cfg.DBPath = filepath.Join(dir, data.DataFileName)

	b, err := os.ReadFile(testDataPath)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, cfg.Ingest.RawFile), b, 0600); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newAppConfig(t *testing.T, cfg *config.Config) *appConfig {
	t.Helper()
	require.NoError(t, data.Init(cfg.DBPath))
	db, err := data.GetDB(cfg.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p, err := predict.New(cfg.PredictConfig())
	require.NoError(t, err)
	return &appConfig{Config: cfg, DB: db, Predictor: p}
}

func trainedAppConfig(t *testing.T) *appConfig {
	t.Helper()
	cfg := config.Default()
	cfg.ArtifactDir = trainedDir
	cfg.DBPath = filepath.Join(t.TempDir(), data.DataFileName)
	return newAppConfig(t, cfg)
}

func untrainedAppConfig(t *testing.T) *appConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.ArtifactDir = dir
	cfg.DBPath = filepath.Join(dir, data.DataFileName)
	return newAppConfig(t, cfg)
}

// runApp runs the CLI with args and returns what the command printed.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	original := slog.Default()
	t.Cleanup(func() {
		slog.SetDefault(original)
		output = os.Stdout
		outputFormat = formatJSON
	})

	var buf bytes.Buffer
	output = &buf
	err := newApp().Run(append([]string{"mathscore"}, args...))
	return buf.String(), err
}

func writeTestConfig(t *testing.T) (string, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg, err := testConfig(dir)
	require.NoError(t, err)
	path := filepath.Join(dir, "mathscore.yaml")
	require.NoError(t, config.Save(path, cfg))
	return path, cfg
}

func TestApp_ConfigPrint(t *testing.T) {
	path, cfg := writeTestConfig(t)

	out, err := runApp(t, "--config", path, "--format", "yaml", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "artifact_dir: "+cfg.ArtifactDir)
	assert.Contains(t, out, "min_score: 0.6")

	entries, err := os.ReadDir(cfg.LogDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "one run log per process")
}

func TestApp_ConfigInit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "new.yaml")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = runApp(t, "--config", path, "config", "--init")
	require.NoError(t, err)

	got, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Default(), got)

	_, err = runApp(t, "--config", path, "config", "--init")
	assert.Error(t, err, "existing file is never overwritten")
}

func TestApp_PredictBeforeTraining(t *testing.T) {
	path, _ := writeTestConfig(t)

	_, err := runApp(t, "--config", path, "predict",
		"--gender", "female", "--ethnicity", "group B",
		"--parental-education", "bachelor's degree", "--lunch", "standard",
		"--test-prep", "none", "--reading-score", "72", "--writing-score", "74")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prediction failed")
}

func TestApp_PredictInvalidScore(t *testing.T) {
	path, _ := writeTestConfig(t)

	_, err := runApp(t, "--config", path, "predict",
		"--gender", "female", "--ethnicity", "group B",
		"--parental-education", "bachelor's degree", "--lunch", "standard",
		"--test-prep", "none", "--reading-score", "lots", "--writing-score", "74")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input")
}

func TestApp_TrainPredictRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("trains the full roster")
	}
	path, cfg := writeTestConfig(t)

	out, err := runApp(t, "--config", path, "train", "--no-progress")
	require.NoError(t, err)
	assert.Contains(t, out, `"model"`)
	assert.Contains(t, out, `"run_id"`)
	assert.FileExists(t, filepath.Join(cfg.ArtifactDir, cfg.Train.ModelFile))

	out, err = runApp(t, "--config", path, "predict",
		"--gender", "female", "--ethnicity", "group B",
		"--parental-education", "bachelor's degree", "--lunch", "standard",
		"--test-prep", "none", "--reading-score", "72", "--writing-score", "74")
	require.NoError(t, err)
	assert.Contains(t, out, `"math_score"`)

	out, err = runApp(t, "--config", path, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "trained"`)
}

func TestApp_TrainRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("trains the full roster")
	}
	path, cfg := writeTestConfig(t)

	_, err := runApp(t, "--config", path, "train", "--no-progress", "--min-score", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training failed")
	assert.NoFileExists(t, filepath.Join(cfg.ArtifactDir, cfg.Train.ModelFile))

	out, err := runApp(t, "--config", path, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "rejected"`)
}

func TestApp_TrainMinScoreOutOfRange(t *testing.T) {
	path, cfg := writeTestConfig(t)

	for _, v := range []string{"0", "-0.5", "1.5"} {
		_, err := runApp(t, "--config", path, "train", "--no-progress", "--min-score", v)
		require.Error(t, err, v)
		assert.Contains(t, err.Error(), "min-score")
	}
	assert.NoFileExists(t, filepath.Join(cfg.ArtifactDir, cfg.Train.ModelFile))
}

func TestToRun(t *testing.T) {
	res := &pipeline.Result{
		RunID: "abc",
		State: pipeline.Trained,
		Report: &train.Report{
			Scores: []train.Score{
				{Position: 0, Name: train.LinearRegression, R2: 0.8},
				{Position: 1, Name: train.Lasso, R2: 0.7},
			},
			Best:      train.Score{Position: 0, Name: train.LinearRegression, R2: 0.8},
			TrainRows: 800,
			TestRows:  200,
		},
	}

	r := toRun(res)
	assert.Equal(t, "abc", r.ID)
	assert.Equal(t, "trained", r.State)
	assert.Equal(t, train.LinearRegression, r.Model)
	assert.Equal(t, 0.8, r.Score)
	assert.Equal(t, 800, r.TrainRows)
	require.Len(t, r.Scores, 2)
	assert.Equal(t, train.Lasso, r.Scores[1].Model)

	failed := toRun(&pipeline.Result{RunID: "x", State: pipeline.Idle, Error: "boom"})
	assert.Equal(t, "boom", failed.Error)
	assert.Empty(t, failed.Scores)
}
