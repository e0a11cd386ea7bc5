// Package config holds the application settings and derives the
// per-component configurations from them.
package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/mchmarny/mathscore/pkg/ingest"
	"github.com/mchmarny/mathscore/pkg/pipeline"
	"github.com/mchmarny/mathscore/pkg/predict"
	"github.com/mchmarny/mathscore/pkg/train"
	"github.com/mchmarny/mathscore/pkg/transform"
)

const (
	// EnvVar names the environment variable holding the config file path.
	EnvVar = "MATHSCORE_CONFIG"

	dirMode  = 0700
	fileMode = 0600

	defaultArtifactDir = "artifacts"
	defaultLogDir      = "logs"
	defaultDBFile      = "runs.db"
	defaultPort        = 8080
)

// Config represents app config object.
type Config struct {
	ArtifactDir string    `json:"artifact_dir" yaml:"artifact_dir"`
	LogDir      string    `json:"log_dir" yaml:"log_dir"`
	DBPath      string    `json:"db_path" yaml:"db_path"`
	LogLevel    string    `json:"log_level" yaml:"log_level"`
	Ingest      Ingest    `json:"ingest" yaml:"ingest"`
	Transform   Transform `json:"transform" yaml:"transform"`
	Train       Train     `json:"train" yaml:"train"`
	Server      Server    `json:"server" yaml:"server"`
}

// Ingest configures the split. File names resolve against ArtifactDir.
type Ingest struct {
	Source       string  `json:"source,omitempty" yaml:"source,omitempty"`
	RawFile      string  `json:"raw_file" yaml:"raw_file"`
	TrainFile    string  `json:"train_file" yaml:"train_file"`
	TestFile     string  `json:"test_file" yaml:"test_file"`
	TestFraction float64 `json:"test_fraction" yaml:"test_fraction"`
	Seed         int64   `json:"seed" yaml:"seed"`
}

// Transform configures the encoder artifact.
type Transform struct {
	EncoderFile string `json:"encoder_file" yaml:"encoder_file"`
}

// Train configures model selection.
type Train struct {
	ModelFile string  `json:"model_file" yaml:"model_file"`
	MinScore  float64 `json:"min_score" yaml:"min_score"`
	Parallel  int     `json:"parallel" yaml:"parallel"`
	Seed      int64   `json:"seed" yaml:"seed"`
}

// Server configures the web front end.
type Server struct {
	Port      int `json:"port" yaml:"port"`
	CacheSize int `json:"cache_size" yaml:"cache_size"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		ArtifactDir: defaultArtifactDir,
		LogDir:      defaultLogDir,
		DBPath:      filepath.Join(defaultArtifactDir, defaultDBFile),
		LogLevel:    "info",
		Ingest: Ingest{
			RawFile:      "data.csv",
			TrainFile:    "train.csv",
			TestFile:     "test.csv",
			TestFraction: ingest.DefaultTestFraction,
			Seed:         ingest.DefaultSeed,
		},
		Transform: Transform{EncoderFile: "preprocessor.gob"},
		Train: Train{
			ModelFile: "model.gob",
			MinScore:  train.DefaultMinScore,
			Seed:      train.DefaultSeed,
		},
		Server: Server{Port: defaultPort, CacheSize: 8},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.ArtifactDir == "" {
		return errors.New("artifact_dir required")
	}
	if c.Ingest.RawFile == "" || c.Ingest.TrainFile == "" || c.Ingest.TestFile == "" {
		return errors.New("ingest file names required")
	}
	if c.Ingest.TestFraction <= 0 || c.Ingest.TestFraction >= 1 {
		return errors.Errorf("ingest.test_fraction must be in (0, 1), got %v", c.Ingest.TestFraction)
	}
	if c.Transform.EncoderFile == "" || c.Train.ModelFile == "" {
		return errors.New("artifact file names required")
	}
	if c.Train.MinScore <= 0 || c.Train.MinScore > 1 {
		return errors.Errorf("train.min_score must be in (0, 1], got %v", c.Train.MinScore)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("invalid server.port: %d", c.Server.Port)
	}
	return nil
}

func (c *Config) artifact(name string) string {
	return filepath.Join(c.ArtifactDir, name)
}

// IngestConfig derives the ingestor settings.
func (c *Config) IngestConfig() ingest.Config {
	return ingest.Config{
		Source:       c.Ingest.Source,
		RawPath:      c.artifact(c.Ingest.RawFile),
		TrainPath:    c.artifact(c.Ingest.TrainFile),
		TestPath:     c.artifact(c.Ingest.TestFile),
		TestFraction: c.Ingest.TestFraction,
		Seed:         c.Ingest.Seed,
	}
}

// TransformConfig derives the transformer settings.
func (c *Config) TransformConfig() transform.Config {
	return transform.Config{EncoderPath: c.artifact(c.Transform.EncoderFile)}
}

// TrainConfig derives the trainer settings.
func (c *Config) TrainConfig() train.Config {
	return train.Config{
		ModelPath: c.artifact(c.Train.ModelFile),
		MinScore:  c.Train.MinScore,
		Parallel:  c.Train.Parallel,
		Seed:      c.Train.Seed,
	}
}

// PredictConfig derives the predictor settings.
func (c *Config) PredictConfig() predict.Config {
	return predict.Config{
		EncoderPath: c.artifact(c.Transform.EncoderFile),
		ModelPath:   c.artifact(c.Train.ModelFile),
		CacheSize:   c.Server.CacheSize,
	}
}

// PipelineConfig derives the full training run settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Ingest:    c.IngestConfig(),
		Transform: c.TransformConfig(),
		Train:     c.TrainConfig(),
	}
}

// Save writes c as YAML to path, creating parent directories.
func Save(path string, c *Config) error {
	if path == "" {
		return errors.New("config path required")
	}
	if c == nil {
		return errors.New("config required")
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return errors.Wrapf(err, "failed to create dir for: %s", path)
	}
	if err := os.WriteFile(path, b, fileMode); err != nil {
		return errors.Wrapf(err, "failed to write config file: %s", path)
	}
	return nil
}

// Load reads the config at path over the defaults. An empty path returns the
// defaults. Fields absent from the file keep their default values.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading config file: %s", path)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errors.Wrapf(err, "error unmarshalling config file: %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config file: %s", path)
	}
	return c, nil
}

// ReadOrCreate loads the config at path, writing the defaults there first if
// the file does not exist.
func ReadOrCreate(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path required")
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := Save(path, Default()); err != nil {
			return nil, errors.Wrap(err, "failed to create default config")
		}
	}
	return Load(path)
}
