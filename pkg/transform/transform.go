// Package transform fits the feature encoder on the train partition, encodes
// both partitions into matrices and persists the fitted encoder for the
// predictor.
package transform

import (
	"context"
	"log/slog"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mchmarny/mathscore/pkg/artifact"
	"github.com/mchmarny/mathscore/pkg/record"
	"github.com/mchmarny/mathscore/pkg/stage"
)

// Config locates the encoder artifact.
type Config struct {
	EncoderPath string `json:"encoder_path" yaml:"encoder_path"`
}

// Transformer encodes the train and test partitions.
type Transformer struct {
	cfg Config
}

// New returns a Transformer for cfg.
func New(cfg Config) *Transformer {
	return &Transformer{cfg: cfg}
}

// TransformDatasets loads both partitions, fits a fresh encoder on the train
// features only, encodes train and test, and appends the target as the last
// column of each matrix. The fitted encoder is saved to the configured path.
func (t *Transformer) TransformDatasets(ctx context.Context, trainPath, testPath string) (train, test *mat.Dense, encoderPath string, err error) {
	trainFrame, err := readPartition(trainPath)
	if err != nil {
		return nil, nil, "", err
	}
	testFrame, err := readPartition(testPath)
	if err != nil {
		return nil, nil, "", err
	}

	trainX, trainY, err := splitTarget(trainFrame)
	if err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindProcessing, err, "train partition", "path", trainPath)
	}
	testX, testY, err := splitTarget(testFrame)
	if err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindProcessing, err, "test partition", "path", testPath)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindProcessing, err, "transform canceled")
	}

	enc := DefaultEncoder()
	xTrain, err := enc.FitTransform(trainX)
	if err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindProcessing, err, "encoding train partition")
	}
	xTest, err := enc.Transform(testX)
	if err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindProcessing, err, "encoding test partition")
	}
	slog.Debug("encoder fitted", "features", enc.Width(), "names", enc.FeatureNames())

	if err := artifact.Save(t.cfg.EncoderPath, enc); err != nil {
		return nil, nil, "", stage.Wrap(stage.Transform, stage.KindIO, err, "saving encoder")
	}

	slog.Info("transformation done", "train_rows", trainFrame.Len(), "test_rows", testFrame.Len(),
		"features", enc.Width(), "encoder", t.cfg.EncoderPath)
	return withTarget(xTrain, trainY), withTarget(xTest, testY), t.cfg.EncoderPath, nil
}

func readPartition(path string) (*record.Frame, error) {
	f, err := record.ReadCSV(path)
	if err != nil {
		return nil, stage.Wrap(stage.Transform, stage.KindIO, err, "reading partition", "path", path)
	}
	if f.Len() == 0 {
		return nil, stage.New(stage.Transform, stage.KindProcessing, "partition is empty", "path", path)
	}
	return f, nil
}

// splitTarget separates the target column from the features.
func splitTarget(f *record.Frame) (*record.Frame, []float64, error) {
	cells, err := f.Column(record.TargetColumn)
	if err != nil {
		return nil, nil, stage.New(stage.Transform, stage.KindProcessing, "target column missing",
			"column", record.TargetColumn)
	}
	y := make([]float64, len(cells))
	for i, c := range cells {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil {
			return nil, nil, stage.Wrap(stage.Transform, stage.KindProcessing, err, "parsing target",
				"row", i, "value", c)
		}
		y[i] = v
	}
	return f.Drop(record.TargetColumn), y, nil
}

// withTarget returns [x | y].
func withTarget(x *mat.Dense, y []float64) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c+1, nil)
	out.Slice(0, r, 0, c).(*mat.Dense).Copy(x)
	out.SetCol(c, y)
	return out
}
