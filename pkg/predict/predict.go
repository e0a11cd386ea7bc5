// Package predict serves single-record predictions from the persisted encoder
// and model artifacts.
package predict

import (
	"context"
	"log/slog"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/mchmarny/mathscore/pkg/artifact"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
	"github.com/mchmarny/mathscore/pkg/train"
	"github.com/mchmarny/mathscore/pkg/transform"
)

const defaultCacheSize = 8

// Config locates the artifacts to predict with.
type Config struct {
	EncoderPath string `json:"encoder_path" yaml:"encoder_path"`
	ModelPath   string `json:"model_path" yaml:"model_path"`
	CacheSize   int    `json:"cache_size" yaml:"cache_size"`
}

// Result is a prediction together with the model that produced it.
type Result struct {
	Score float64 `json:"math_score" yaml:"math_score"`
	Model string  `json:"model" yaml:"model"`
}

// Predictor loads artifacts lazily and caches them keyed by file identity, so
// a retrained artifact is picked up on the next call. Safe for concurrent use.
type Predictor struct {
	cfg   Config
	cache *lru.Cache
	mu    sync.Mutex
}

// New returns a Predictor for cfg.
func New(cfg Config) (*Predictor, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = defaultCacheSize
	}
	c, err := lru.New(cfg.CacheSize)
	if err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindProcessing, err, "creating artifact cache")
	}
	return &Predictor{cfg: cfg, cache: c}, nil
}

// Predict encodes rec with the fitted encoder and returns the model output as
// a one-element slice.
func (p *Predictor) Predict(ctx context.Context, rec record.Record) ([]float64, error) {
	res, err := p.PredictResult(ctx, rec)
	if err != nil {
		return nil, err
	}
	return []float64{res.Score}, nil
}

// PredictResult is Predict plus the name of the model used.
func (p *Predictor) PredictResult(ctx context.Context, rec record.Record) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindProcessing, err, "prediction canceled")
	}

	enc, err := p.encoder()
	if err != nil {
		return nil, err
	}
	tm, err := p.model()
	if err != nil {
		return nil, err
	}

	x, err := enc.Transform(rec.Frame())
	if err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindProcessing, err, "encoding record")
	}
	out, err := tm.Regressor.Predict(x)
	if err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindProcessing, err, "running model", "model", tm.Name)
	}
	if len(out) != 1 {
		return nil, stage.New(stage.Predict, stage.KindProcessing, "unexpected prediction count", "count", len(out))
	}

	slog.Debug("prediction", "model", tm.Name, "value", out[0])
	return &Result{Score: out[0], Model: tm.Name}, nil
}

// Ready reports whether both artifacts exist.
func (p *Predictor) Ready() bool {
	return artifact.Exists(p.cfg.EncoderPath) && artifact.Exists(p.cfg.ModelPath)
}

func (p *Predictor) encoder() (*transform.Encoder, error) {
	v, err := p.load(p.cfg.EncoderPath, func() any { return &transform.Encoder{} })
	if err != nil {
		return nil, err
	}
	return v.(*transform.Encoder), nil
}

func (p *Predictor) model() (*train.TrainedModel, error) {
	v, err := p.load(p.cfg.ModelPath, func() any { return &train.TrainedModel{} })
	if err != nil {
		return nil, err
	}
	tm := v.(*train.TrainedModel)
	if tm.Regressor == nil {
		return nil, stage.New(stage.Predict, stage.KindProcessing, "model artifact has no regressor", "path", p.cfg.ModelPath)
	}
	return tm, nil
}

// load returns the decoded artifact at path, reusing the cached value while
// the file is unchanged.
func (p *Predictor) load(path string, newFn func() any) (any, error) {
	info, err := artifact.Stat(path)
	if err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindArtifactNotFound, err, "loading artifact", "path", path)
	}
	key := info.Key()
	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache.Get(key); ok {
		return v, nil
	}

	v := newFn()
	if err := artifact.Load(path, v); err != nil {
		return nil, stage.Wrap(stage.Predict, stage.KindArtifactNotFound, err, "loading artifact", "path", path)
	}
	p.cache.Add(key, v)
	slog.Debug("artifact loaded", "path", path, "size", info.Size)
	return v, nil
}
