package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	urfave "github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mchmarny/mathscore/pkg/config"
	"github.com/mchmarny/mathscore/pkg/data"
	"github.com/mchmarny/mathscore/pkg/logging"
	"github.com/mchmarny/mathscore/pkg/predict"
)

const (
	appConfigKey = "app-config"

	formatJSON = "json"
	formatYAML = "yaml"
)

var (
	version = "v0.0.1-default"
	commit  = ""
	date    = ""

	outputFormat           = formatJSON
	output       io.Writer = os.Stdout

	debugFlag = &urfave.BoolFlag{
		Name:  "debug",
		Usage: "Prints verbose logs (optional, default: false)",
	}

	configFlag = &urfave.StringFlag{
		Name:    "config",
		Usage:   "Path to the YAML config file (optional, defaults apply when unset)",
		EnvVars: []string{config.EnvVar},
	}

	formatFlag = &urfave.StringFlag{
		Name:  "format",
		Usage: "Output format [json, yaml]",
		Value: formatJSON,
	}
)

// Execute creates and runs the CLI application.
func Execute() {
	logging.SetDefaultCLILogger("info")

	app := newApp()
	if err := app.Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

type appConfig struct {
	ConfigPath string
	Debug      bool
	Config     *config.Config
	DB         *sql.DB
	Predictor  *predict.Predictor
	RunLog     *logging.RunLog
}

func getConfig(c *urfave.Context) *appConfig {
	return c.App.Metadata[appConfigKey].(*appConfig)
}

func newApp() *urfave.App {
	return &urfave.App{
		Name:                 "mathscore",
		Version:              fmt.Sprintf("%s (%s - %s)", version, commit, date),
		Compiled:             time.Now(),
		EnableBashCompletion: true,
		HideHelpCommand:      true,
		Usage:                "Train and serve a student math score prediction model",
		Flags: []urfave.Flag{
			debugFlag,
			configFlag,
			formatFlag,
		},
		Commands: []*urfave.Command{
			trainCmd,
			predictCmd,
			runsCmd,
			serverCmd,
			configCmd,
		},
		Before: func(c *urfave.Context) error {
			applyFlags(c)

			path := c.String(configFlag.Name)
			cfg, err := loadConfig(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if c.Bool(debugFlag.Name) {
				cfg.LogLevel = "debug"
			}

			runLog, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
			if err != nil {
				return fmt.Errorf("initializing logging: %w", err)
			}
			if runLog != nil {
				slog.Debug("run log", "path", runLog.Path)
			}

			if err := data.Init(cfg.DBPath); err != nil {
				return errors.Join(fmt.Errorf("initializing database: %w", err), runLog.Close())
			}

			db, err := data.GetDB(cfg.DBPath)
			if err != nil {
				return errors.Join(fmt.Errorf("opening database: %w", err), runLog.Close())
			}

			p, err := predict.New(cfg.PredictConfig())
			if err != nil {
				return errors.Join(fmt.Errorf("creating predictor: %w", err), db.Close(), runLog.Close())
			}

			c.App.Metadata[appConfigKey] = &appConfig{
				ConfigPath: path,
				Debug:      c.Bool(debugFlag.Name),
				Config:     cfg,
				DB:         db,
				Predictor:  p,
				RunLog:     runLog,
			}
			return nil
		},
		After: func(c *urfave.Context) error {
			cfg, ok := c.App.Metadata[appConfigKey].(*appConfig)
			if !ok {
				return nil
			}
			if cfg.DB != nil {
				cfg.DB.Close()
			}
			return cfg.RunLog.Close()
		},
	}
}

// loadConfig reads the config at path. A path that does not exist yet falls
// back to the defaults so that `config --init` can create it.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			slog.Warn("config file not found, using defaults", "path", path)
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

// applyFlags sets the output format from the --format flag.
func applyFlags(c *urfave.Context) {
	switch c.String(formatFlag.Name) {
	case formatYAML, "yml":
		outputFormat = formatYAML
	default:
		outputFormat = formatJSON
	}
}

func encode(v any) error {
	if outputFormat == formatYAML {
		return yaml.NewEncoder(output).Encode(v)
	}
	e := json.NewEncoder(output)
	e.SetIndent("", "  ")
	return e.Encode(v)
}
