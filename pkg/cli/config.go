package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	urfave "github.com/urfave/cli/v2"

	"github.com/mchmarny/mathscore/pkg/config"
)

// defaultConfigFile is where `config --init` writes when --config is unset.
const defaultConfigFile = "mathscore.yaml"

var (
	initFlag = &urfave.BoolFlag{
		Name:  "init",
		Usage: "Write the default configuration to the --config path",
	}

	configCmd = &urfave.Command{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Print the effective configuration or create a default config file",
		Action:  cmdConfig,
		Flags: []urfave.Flag{
			initFlag,
		},
	}
)

func cmdConfig(c *urfave.Context) error {
	applyFlags(c)
	cfg := getConfig(c)

	if !c.Bool(initFlag.Name) {
		return encode(cfg.Config)
	}

	path := cfg.ConfigPath
	if path == "" {
		path = defaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file %s: %w", path, err)
	}

	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	slog.Info("config created", "path", path)
	return nil
}
