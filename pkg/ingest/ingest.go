// Package ingest reads the raw student dataset and splits it once into the
// train and test partitions used by the rest of the pipeline.
package ingest

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"github.com/mchmarny/mathscore/pkg/net"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
)

const (
	// DefaultSeed fixes the shuffle so the split is reproducible.
	DefaultSeed = 17

	// DefaultTestFraction is the share of rows held out for evaluation.
	DefaultTestFraction = 0.2
)

// Config locates the raw data and the partitions to write. When Source is
// set, a local path or http(s) URL, it is copied to RawPath first.
type Config struct {
	Source       string  `json:"source,omitempty" yaml:"source,omitempty"`
	RawPath      string  `json:"raw_path" yaml:"raw_path"`
	TrainPath    string  `json:"train_path" yaml:"train_path"`
	TestPath     string  `json:"test_path" yaml:"test_path"`
	TestFraction float64 `json:"test_fraction" yaml:"test_fraction"`
	Seed         int64   `json:"seed" yaml:"seed"`
}

// Ingestor produces the train/test split.
type Ingestor struct {
	cfg Config
}

// New returns an Ingestor for cfg. Zero fraction and seed take the defaults.
func New(cfg Config) *Ingestor {
	if cfg.TestFraction <= 0 || cfg.TestFraction >= 1 {
		cfg.TestFraction = DefaultTestFraction
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	return &Ingestor{cfg: cfg}
}

// Ingest reads the raw CSV, shuffles it with the configured seed and writes
// the first ceil(fraction*n) shuffled rows to the test partition and the rest
// to the train partition. The same input and seed always produce the same files.
func (i *Ingestor) Ingest(ctx context.Context) (trainPath, testPath string, err error) {
	if i.cfg.Source != "" {
		slog.Info("fetching raw data", "source", i.cfg.Source, "path", i.cfg.RawPath)
		if err := net.Fetch(ctx, i.cfg.Source, i.cfg.RawPath); err != nil {
			return "", "", stage.Wrap(stage.Ingest, stage.KindIO, err, "fetching raw data", "source", i.cfg.Source)
		}
	}

	slog.Info("ingesting raw data", "path", i.cfg.RawPath)

	raw, err := record.ReadCSV(i.cfg.RawPath)
	if err != nil {
		return "", "", stage.Wrap(stage.Ingest, stage.KindIO, err, "reading raw data", "path", i.cfg.RawPath)
	}

	if err := ctx.Err(); err != nil {
		return "", "", stage.Wrap(stage.Ingest, stage.KindProcessing, err, "ingest canceled")
	}

	train, test, err := Split(raw, i.cfg.TestFraction, i.cfg.Seed)
	if err != nil {
		return "", "", err
	}

	if err := train.WriteCSV(i.cfg.TrainPath); err != nil {
		return "", "", stage.Wrap(stage.Ingest, stage.KindProcessing, err, "writing train partition", "path", i.cfg.TrainPath)
	}
	if err := test.WriteCSV(i.cfg.TestPath); err != nil {
		return "", "", stage.Wrap(stage.Ingest, stage.KindProcessing, err, "writing test partition", "path", i.cfg.TestPath)
	}

	slog.Info("ingestion done", "train_rows", train.Len(), "test_rows", test.Len())
	return i.cfg.TrainPath, i.cfg.TestPath, nil
}

// Split shuffles the rows of f with seed and partitions them.
func Split(f *record.Frame, testFraction float64, seed int64) (train, test *record.Frame, err error) {
	n := f.Len()
	if n < 2 {
		return nil, nil, stage.New(stage.Ingest, stage.KindProcessing, "not enough rows to split", "rows", n)
	}

	nTest := int(math.Ceil(testFraction * float64(n)))
	if nTest >= n {
		nTest = n - 1
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return f.Select(perm[nTest:]), f.Select(perm[:nTest]), nil
}
