package cli

import (
	"fmt"

	urfave "github.com/urfave/cli/v2"

	"github.com/mchmarny/mathscore/pkg/data"
)

var (
	runIDFlag = &urfave.StringFlag{
		Name:  "id",
		Usage: "Show a single run with its per-model scores",
	}

	runLimitFlag = &urfave.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of runs to list",
		Value: data.DefaultRunLimit,
	}

	runsCmd = &urfave.Command{
		Name:    "runs",
		Aliases: []string{"r"},
		Usage:   "List recorded training runs",
		UsageText: `mathscore runs               # most recent runs first
   mathscore runs --id <run>    # one run with all candidate scores`,
		Action: cmdRuns,
		Flags: []urfave.Flag{
			runIDFlag,
			runLimitFlag,
		},
	}
)

func cmdRuns(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	if id := c.String(runIDFlag.Name); id != "" {
		r, err := data.GetRun(cfg.DB, id)
		if err != nil {
			return fmt.Errorf("getting run %s: %w", id, err)
		}
		return encode(r)
	}

	list, err := data.ListRuns(cfg.DB, c.Int(runLimitFlag.Name))
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	return encode(list)
}
