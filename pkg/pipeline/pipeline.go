// Package pipeline runs ingestion, transformation and training in sequence
// and tracks the state a run reached.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mchmarny/mathscore/pkg/artifact"
	"github.com/mchmarny/mathscore/pkg/ingest"
	"github.com/mchmarny/mathscore/pkg/stage"
	"github.com/mchmarny/mathscore/pkg/train"
	"github.com/mchmarny/mathscore/pkg/transform"
)

// State is the furthest point a training run reached.
type State string

const (
	Idle        State = "idle"
	Ingested    State = "ingested"
	Transformed State = "transformed"
	Trained     State = "trained"
	Rejected    State = "rejected"
)

var transitions = map[State][]State{
	Idle:        {Ingested},
	Ingested:    {Transformed},
	Transformed: {Trained, Rejected},
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether to directly follows s.
func (s State) CanTransition(to State) bool {
	for _, v := range transitions[s] {
		if v == to {
			return true
		}
	}
	return false
}

// Config carries the per-stage configuration.
type Config struct {
	Ingest    ingest.Config
	Transform transform.Config
	Train     train.Config
}

// Result describes one run. It is returned even when the run fails so the
// caller can record how far it got.
type Result struct {
	RunID       string        `json:"run_id" yaml:"run_id"`
	State       State         `json:"state" yaml:"state"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt  time.Time     `json:"finished_at" yaml:"finished_at"`
	TrainPath   string        `json:"train_path,omitempty" yaml:"train_path,omitempty"`
	TestPath    string        `json:"test_path,omitempty" yaml:"test_path,omitempty"`
	EncoderPath string        `json:"encoder_path,omitempty" yaml:"encoder_path,omitempty"`
	ModelPath   string        `json:"model_path,omitempty" yaml:"model_path,omitempty"`
	Report      *train.Report `json:"report,omitempty" yaml:"report,omitempty"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Best returns the selected candidate score, or nil before training.
func (r *Result) Best() *train.Score {
	if r.Report == nil {
		return nil
	}
	return &r.Report.Best
}

func (r *Result) advance(to State) {
	if !r.State.CanTransition(to) {
		panic("pipeline: invalid transition from " + string(r.State) + " to " + string(to))
	}
	slog.Debug("state change", "run", r.RunID, "from", r.State, "to", to)
	r.State = to
}

type options struct {
	trainOpts []train.Option
}

// Option configures a run.
type Option func(*options)

// WithProgress forwards a per-candidate callback to the trainer.
func WithProgress(fn func(train.Score)) Option {
	return func(o *options) {
		o.trainOpts = append(o.trainOpts, train.WithProgress(fn))
	}
}

// WithRoster replaces the trainer's candidates.
func WithRoster(c []train.Candidate) Option {
	return func(o *options) {
		o.trainOpts = append(o.trainOpts, train.WithRoster(c))
	}
}

// Run executes Ingestor, Transformer and Trainer in order and stops at the
// first failure. Encoder and model are written to staging paths and only
// replace the deployed pair once the run reaches Trained, so a failed or
// rejected run leaves the previous deployment intact.
func Run(ctx context.Context, cfg Config, opts ...Option) (*Result, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	encoderPath, modelPath := cfg.Transform.EncoderPath, cfg.Train.ModelPath
	cfg.Transform.EncoderPath = artifact.StagingPath(encoderPath)
	cfg.Train.ModelPath = artifact.StagingPath(modelPath)
	defer discardStaged(cfg.Transform.EncoderPath, cfg.Train.ModelPath)

	res := &Result{
		RunID:     uuid.NewString(),
		State:     Idle,
		StartedAt: time.Now().UTC(),
	}
	fail := func(err error) (*Result, error) {
		res.FinishedAt = time.Now().UTC()
		res.Error = err.Error()
		slog.Error("training run failed", "run", res.RunID, "state", res.State, "error", err)
		return res, err
	}

	slog.Info("training run started", "run", res.RunID)

	trainPath, testPath, err := ingest.New(cfg.Ingest).Ingest(ctx)
	if err != nil {
		return fail(err)
	}
	res.TrainPath, res.TestPath = trainPath, testPath
	res.advance(Ingested)

	trainM, testM, stagedEncoder, err := transform.New(cfg.Transform).TransformDatasets(ctx, trainPath, testPath)
	if err != nil {
		return fail(err)
	}
	res.advance(Transformed)

	report, err := train.New(cfg.Train, o.trainOpts...).Train(ctx, trainM, testM)
	res.Report = report
	if err != nil {
		if stage.KindOf(err) == stage.KindInsufficientQuality {
			res.advance(Rejected)
		}
		return fail(err)
	}
	if err := artifact.Promote(cfg.Train.ModelPath, modelPath); err != nil {
		return fail(err)
	}
	if err := artifact.Promote(stagedEncoder, encoderPath); err != nil {
		return fail(err)
	}
	res.EncoderPath, res.ModelPath = encoderPath, modelPath
	res.advance(Trained)
	res.FinishedAt = time.Now().UTC()

	slog.Info("training run finished", "run", res.RunID, "model", report.Best.Name, "r2", report.Best.R2)
	return res, nil
}

// discardStaged removes staging leftovers. After a promotion they are gone already.
func discardStaged(paths ...string) {
	for _, p := range paths {
		if err := artifact.Remove(p); err != nil {
			slog.Warn("failed to remove staged artifact", "path", p, "error", err)
		}
	}
}
