// Package train fits every roster candidate on the encoded train matrix,
// scores each on the held-out matrix and persists the best one when it
// clears the quality bar.
package train

import (
	"context"
	"log/slog"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/mchmarny/mathscore/pkg/artifact"
	"github.com/mchmarny/mathscore/pkg/model"
	"github.com/mchmarny/mathscore/pkg/stage"
)

const (
	// DefaultMinScore is the lowest held-out R2 a model may be persisted with.
	DefaultMinScore = 0.6

	// DefaultSeed seeds the randomized candidates.
	DefaultSeed = 17
)

// Config controls training and where the winner is stored.
type Config struct {
	ModelPath string `json:"model_path" yaml:"model_path"`
	// MinScore left at zero means DefaultMinScore. Config files and flags
	// reject zero before it gets here.
	MinScore float64 `json:"min_score" yaml:"min_score"`
	Parallel int     `json:"parallel" yaml:"parallel"`
	Seed     int64   `json:"seed" yaml:"seed"`
}

// Score is the held-out evaluation of one candidate.
type Score struct {
	Position    int           `json:"position" yaml:"position"`
	Name        string        `json:"name" yaml:"name"`
	R2          float64       `json:"r2" yaml:"r2"`
	MAE         float64       `json:"mae" yaml:"mae"`
	RMSE        float64       `json:"rmse" yaml:"rmse"`
	FitDuration time.Duration `json:"fit_duration" yaml:"fit_duration"`
}

// Report holds every candidate score in roster order and the selected one.
type Report struct {
	Scores    []Score `json:"scores" yaml:"scores"`
	Best      Score   `json:"best" yaml:"best"`
	MinScore  float64 `json:"min_score" yaml:"min_score"`
	TrainRows int     `json:"train_rows" yaml:"train_rows"`
	TestRows  int     `json:"test_rows" yaml:"test_rows"`
	Accepted  bool    `json:"accepted" yaml:"accepted"`
}

// R2ByName maps candidate name to held-out R2.
func (r *Report) R2ByName() map[string]float64 {
	m := make(map[string]float64, len(r.Scores))
	for _, s := range r.Scores {
		m[s.Name] = s.R2
	}
	return m
}

// TrainedModel is the persisted winner.
type TrainedModel struct {
	Name      string
	Score     float64
	Regressor model.Regressor
	TrainedAt time.Time
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithRoster replaces the default candidates.
func WithRoster(c []Candidate) Option {
	return func(t *Trainer) {
		t.roster = c
	}
}

// WithProgress registers a callback invoked once per finished candidate.
// It may be called from several goroutines at once.
func WithProgress(fn func(Score)) Option {
	return func(t *Trainer) {
		t.progress = fn
	}
}

// Trainer evaluates the roster and persists the winner.
type Trainer struct {
	cfg      Config
	roster   []Candidate
	progress func(Score)
}

// New returns a Trainer over the default roster.
func New(cfg Config, opts ...Option) *Trainer {
	if cfg.MinScore == 0 {
		cfg.MinScore = DefaultMinScore
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = runtime.GOMAXPROCS(0)
	}
	if cfg.Seed == 0 {
		cfg.Seed = DefaultSeed
	}
	t := &Trainer{cfg: cfg}
	for _, o := range opts {
		o(t)
	}
	if t.roster == nil {
		t.roster = Roster(cfg.Seed)
	}
	return t
}

// Candidates returns the roster size.
func (t *Trainer) Candidates() int {
	return len(t.roster)
}

// Train fits and scores every candidate. Matrices carry the target in their
// last column. The winner is the first candidate, in roster order, with the
// highest R2. A winner below the minimum score yields an InsufficientQuality
// error together with the full report and nothing is written.
func (t *Trainer) Train(ctx context.Context, train, test mat.Matrix) (*Report, error) {
	if len(t.roster) == 0 {
		return nil, stage.New(stage.Train, stage.KindProcessing, "empty roster")
	}
	if err := checkMatrices(train, test); err != nil {
		return nil, err
	}
	xTrain, yTrain := model.SplitTarget(train)
	xTest, yTest := model.SplitTarget(test)

	scores := make([]Score, len(t.roster))
	fitted := make([]model.Regressor, len(t.roster))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Parallel)
	for i, c := range t.roster {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m := c.New()
			start := time.Now()
			if err := m.Fit(xTrain, yTrain); err != nil {
				return stage.Wrap(stage.Train, stage.KindProcessing, err, "fitting candidate", "model", c.Name)
			}
			took := time.Since(start)

			pred, err := m.Predict(xTest)
			if err != nil {
				return stage.Wrap(stage.Train, stage.KindProcessing, err, "scoring candidate", "model", c.Name)
			}

			s := Score{
				Position:    i,
				Name:        c.Name,
				R2:          model.R2(yTest, pred),
				MAE:         model.MAE(yTest, pred),
				RMSE:        model.RMSE(yTest, pred),
				FitDuration: took,
			}
			scores[i] = s
			fitted[i] = m
			slog.Debug("candidate scored", "model", s.Name, "r2", s.R2, "took", s.FitDuration)
			if t.progress != nil {
				t.progress(s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, stage.Wrap(stage.Train, stage.KindProcessing, err, "training candidates")
	}

	trainRows, _ := train.Dims()
	testRows, _ := test.Dims()
	report := &Report{
		Scores:    scores,
		MinScore:  t.cfg.MinScore,
		TrainRows: trainRows,
		TestRows:  testRows,
	}

	best := selectBest(scores)
	report.Best = scores[best]
	if math.IsNaN(report.Best.R2) || report.Best.R2 < t.cfg.MinScore {
		slog.Info("no candidate cleared the bar", "best", report.Best.Name, "r2", report.Best.R2, "min", t.cfg.MinScore)
		return report, stage.New(stage.Train, stage.KindInsufficientQuality, "no best model found",
			"best", report.Best.Name, "r2", report.Best.R2, "min", t.cfg.MinScore)
	}

	tm := &TrainedModel{
		Name:      report.Best.Name,
		Score:     report.Best.R2,
		Regressor: fitted[best],
		TrainedAt: time.Now().UTC(),
	}
	if err := artifact.Save(t.cfg.ModelPath, tm); err != nil {
		return report, stage.Wrap(stage.Train, stage.KindIO, err, "saving model", "path", t.cfg.ModelPath)
	}
	report.Accepted = true

	slog.Info("best model selected", "model", tm.Name, "r2", tm.Score, "path", t.cfg.ModelPath)
	return report, nil
}

// selectBest returns the position of the first maximum R2. NaN scores never win.
func selectBest(scores []Score) int {
	best := 0
	for i, s := range scores {
		if math.IsNaN(scores[best].R2) || s.R2 > scores[best].R2 {
			best = i
		}
	}
	return best
}

func checkMatrices(train, test mat.Matrix) error {
	if train == nil || test == nil {
		return stage.New(stage.Train, stage.KindProcessing, "missing train or test matrix")
	}
	tr, tc := train.Dims()
	er, ec := test.Dims()
	if tr == 0 || er == 0 || tc < 2 {
		return stage.New(stage.Train, stage.KindProcessing, "train and test matrices must have rows and a target column",
			"train_rows", tr, "test_rows", er, "cols", tc)
	}
	if tc != ec {
		return stage.New(stage.Train, stage.KindSchemaMismatch, "train and test widths differ", "train", tc, "test", ec)
	}
	return nil
}
