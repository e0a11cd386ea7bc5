package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	urfave "github.com/urfave/cli/v2"
	pb "gopkg.in/cheggaaa/pb.v1"

	"github.com/mchmarny/mathscore/pkg/data"
	"github.com/mchmarny/mathscore/pkg/pipeline"
	"github.com/mchmarny/mathscore/pkg/train"
)

var (
	minScoreFlag = &urfave.Float64Flag{
		Name:  "min-score",
		Usage: fmt.Sprintf("Minimum test R2 the winning model must reach (default: %.1f)", train.DefaultMinScore),
	}

	parallelFlag = &urfave.IntFlag{
		Name:  "parallel",
		Usage: "Number of candidates fitted concurrently (default: GOMAXPROCS)",
	}

	sourceFlag = &urfave.StringFlag{
		Name:  "source",
		Usage: "Local path or http(s) URL of the raw dataset, copied into the artifact dir before ingestion",
	}

	noProgressFlag = &urfave.BoolFlag{
		Name:  "no-progress",
		Usage: "Do not print the progress bar",
	}

	trainCmd = &urfave.Command{
		Name:    "train",
		Aliases: []string{"t"},
		Usage:   "Run ingestion, transformation and training, then persist the best model",
		UsageText: `mathscore train                       # train with the configured settings
   mathscore train --min-score 0.8       # require a stronger winner
   mathscore train --source stud.csv     # copy a dataset in first
   mathscore --format yaml train         # print the report as YAML`,
		Action: cmdTrain,
		Flags: []urfave.Flag{
			sourceFlag,
			minScoreFlag,
			parallelFlag,
			noProgressFlag,
		},
	}
)

// trainSummary is what `train` prints on success.
type trainSummary struct {
	RunID  string        `json:"run_id" yaml:"run_id"`
	Model  string        `json:"model" yaml:"model"`
	Score  float64       `json:"score" yaml:"score"`
	Scores []train.Score `json:"scores" yaml:"scores"`
}

func cmdTrain(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	pc := cfg.Config.PipelineConfig()
	if c.IsSet(sourceFlag.Name) {
		pc.Ingest.Source = c.String(sourceFlag.Name)
	}
	if c.IsSet(minScoreFlag.Name) {
		v := c.Float64(minScoreFlag.Name)
		if v <= 0 || v > 1 {
			return errors.Errorf("--%s must be in (0, 1], got %v", minScoreFlag.Name, v)
		}
		pc.Train.MinScore = v
	}
	if c.IsSet(parallelFlag.Name) {
		pc.Train.Parallel = c.Int(parallelFlag.Name)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []pipeline.Option
	finish := func() {}
	if !c.Bool(noProgressFlag.Name) {
		bar := pb.New(train.New(pc.Train).Candidates())
		bar.Output = os.Stderr
		bar.ShowTimeLeft = false
		bar.Prefix("training ")
		bar.Start()
		finish = bar.Finish
		opts = append(opts, pipeline.WithProgress(func(s train.Score) {
			slog.Debug("candidate scored", "model", s.Name, "r2", s.R2)
			bar.Increment()
		}))
	}

	res, err := pipeline.Run(ctx, pc, opts...)
	finish()
	recordRun(cfg, res)
	if err != nil {
		return fmt.Errorf("training failed: %w", err)
	}

	best := res.Best()
	return encode(trainSummary{
		RunID:  res.RunID,
		Model:  best.Name,
		Score:  best.R2,
		Scores: res.Report.Scores,
	})
}

// recordRun stores the run in the history. A history failure never masks
// the training outcome.
func recordRun(cfg *appConfig, res *pipeline.Result) {
	if res == nil || cfg.DB == nil {
		return
	}
	if err := data.SaveRun(cfg.DB, toRun(res)); err != nil {
		slog.Error("failed to record training run", "run", res.RunID, "error", err)
	}
}

func toRun(res *pipeline.Result) *data.Run {
	r := &data.Run{
		ID:         res.RunID,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
		State:      string(res.State),
		Error:      res.Error,
	}
	if res.Report == nil {
		return r
	}

	r.TrainRows = res.Report.TrainRows
	r.TestRows = res.Report.TestRows
	if best := res.Best(); best != nil {
		r.Model = best.Name
		r.Score = best.R2
	}
	r.Scores = make([]data.Score, len(res.Report.Scores))
	for i, s := range res.Report.Scores {
		r.Scores[i] = data.Score{
			Position:    s.Position,
			Model:       s.Name,
			R2:          s.R2,
			MAE:         s.MAE,
			RMSE:        s.RMSE,
			FitDuration: s.FitDuration,
		}
	}
	return r
}
