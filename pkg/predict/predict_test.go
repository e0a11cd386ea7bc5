package predict

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/mathscore/pkg/ingest"
	"github.com/mchmarny/mathscore/pkg/model"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
	"github.com/mchmarny/mathscore/pkg/train"
	"github.com/mchmarny/mathscore/pkg/transform"
)

const testDataPath = "../../testdata/students.csv"

func referenceRecord() record.Record {
	return record.Record{
		Gender:                   "female",
		RaceEthnicity:            "group B",
		ParentalLevelOfEducation: "bachelor's degree",
		Lunch:                    "standard",
		TestPreparationCourse:    "none",
		ReadingScore:             72,
		WritingScore:             74,
	}
}

func candidate(name string, fn func() model.Regressor) train.Option {
	return train.WithRoster([]train.Candidate{{Name: name, New: fn}})
}

// fixture trains on the shared dataset and returns the artifact config.
func fixture(t *testing.T, opt train.Option) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		EncoderPath: filepath.Join(dir, "preprocessor.gob"),
		ModelPath:   filepath.Join(dir, "model.gob"),
	}
	retrain(t, dir, cfg, opt)
	return cfg
}

func retrain(t *testing.T, dir string, cfg Config, opt train.Option) {
	t.Helper()
	ctx := context.Background()
	trainPath, testPath, err := ingest.New(ingest.Config{
		RawPath:   testDataPath,
		TrainPath: filepath.Join(dir, "train.csv"),
		TestPath:  filepath.Join(dir, "test.csv"),
	}).Ingest(ctx)
	require.NoError(t, err)

	trainM, testM, _, err := transform.New(transform.Config{EncoderPath: cfg.EncoderPath}).
		TransformDatasets(ctx, trainPath, testPath)
	require.NoError(t, err)

	_, err = train.New(train.Config{ModelPath: cfg.ModelPath}, opt).Train(ctx, trainM, testM)
	require.NoError(t, err)
}

func TestPredict_BeforeTraining(t *testing.T) {
	dir := t.TempDir()
	p, err := New(Config{
		EncoderPath: filepath.Join(dir, "preprocessor.gob"),
		ModelPath:   filepath.Join(dir, "model.gob"),
	})
	require.NoError(t, err)
	assert.False(t, p.Ready())

	_, err = p.Predict(context.Background(), referenceRecord())
	require.Error(t, err)
	assert.True(t, errors.Is(err, stage.ErrArtifactNotFound))
}

func TestPredict_ReferenceRecord(t *testing.T) {
	cfg := fixture(t, candidate(train.Ridge, func() model.Regressor { return model.NewRidge() }))
	p, err := New(cfg)
	require.NoError(t, err)
	assert.True(t, p.Ready())

	out, err := p.Predict(context.Background(), referenceRecord())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.False(t, math.IsNaN(out[0]) || math.IsInf(out[0], 0))
	assert.GreaterOrEqual(t, out[0], 0.0)
	assert.LessOrEqual(t, out[0], 100.0)

	res, err := p.PredictResult(context.Background(), referenceRecord())
	require.NoError(t, err)
	assert.Equal(t, train.Ridge, res.Model)
	assert.Equal(t, out[0], res.Score)
}

func TestPredict_UnknownCategory(t *testing.T) {
	cfg := fixture(t, candidate(train.Ridge, func() model.Regressor { return model.NewRidge() }))
	p, err := New(cfg)
	require.NoError(t, err)

	rec := referenceRecord()
	rec.RaceEthnicity = "group Z"
	_, err = p.Predict(context.Background(), rec)
	assert.True(t, errors.Is(err, stage.ErrValidation), "got %v", err)
}

func TestPredict_Concurrent(t *testing.T) {
	cfg := fixture(t, candidate(train.LinearRegression, func() model.Regressor { return model.NewLinearRegression() }))
	p, err := New(cfg)
	require.NoError(t, err)

	want, err := p.Predict(context.Background(), referenceRecord())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	got := make([]float64, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := p.Predict(context.Background(), referenceRecord())
			errs[i] = err
			if err == nil {
				got[i] = out[0]
			}
		}()
	}
	wg.Wait()
	for i := range errs {
		require.NoError(t, errs[i])
		assert.Equal(t, want[0], got[i])
	}
}

func TestPredict_ReloadsRetrainedModel(t *testing.T) {
	cfg := fixture(t, candidate("first", func() model.Regressor { return model.NewLinearRegression() }))
	p, err := New(cfg)
	require.NoError(t, err)

	res, err := p.PredictResult(context.Background(), referenceRecord())
	require.NoError(t, err)
	assert.Equal(t, "first", res.Model)

	retrain(t, filepath.Dir(cfg.ModelPath), cfg, candidate("second", func() model.Regressor { return model.NewRidge() }))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(cfg.ModelPath, later, later))

	res, err = p.PredictResult(context.Background(), referenceRecord())
	require.NoError(t, err)
	assert.Equal(t, "second", res.Model)
}

func TestPredict_Canceled(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Predict(ctx, referenceRecord())
	assert.True(t, errors.Is(err, stage.ErrProcessing))
}
