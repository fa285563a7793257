// Package config holds the experiment configuration and its YAML loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/train"
)

// Environment variables that override file values.
const (
	EnvDataDir   = "BORN_LORA_DATA_DIR"
	EnvOutputDir = "BORN_LORA_OUTPUT_DIR"
)

// Config is the root configuration of an experiment.
type Config struct {
	Seed     uint64            `yaml:"seed"`
	Data     DataConfig        `yaml:"data"`
	Model    classifier.Config `yaml:"model"`
	Train    PhaseConfig       `yaml:"train"`
	FineTune FineTuneConfig    `yaml:"finetune"`
	LoRA     LoRAConfig        `yaml:"lora"`
	Output   OutputConfig      `yaml:"output"`
	Logging  LoggingConfig     `yaml:"logging"`
}

// DataConfig selects the MNIST files or a synthetic stand-in.
type DataConfig struct {
	Dir       string `yaml:"dir"`
	Synthetic bool   `yaml:"synthetic"`
	// Caps on the number of samples, 0 means all.
	MaxTrain int `yaml:"max_train"`
	MaxTest  int `yaml:"max_test"`
	// Sizes used when Synthetic is set.
	SyntheticTrain int `yaml:"synthetic_train"`
	SyntheticTest  int `yaml:"synthetic_test"`
}

// PhaseConfig configures one training phase.
type PhaseConfig struct {
	BatchSize int          `yaml:"batch_size"`
	Trainer   train.Config `yaml:",inline"`
}

// FineTuneConfig configures the adapter-only phase.
type FineTuneConfig struct {
	PhaseConfig `yaml:",inline"`
	// Digit the fine-tuning subset is restricted to.
	Digit int `yaml:"digit"`
}

// LoRAConfig configures the adapters attached before fine-tuning.
type LoRAConfig struct {
	Rank  int     `yaml:"rank"`
	Alpha float32 `yaml:"alpha"`
}

// OutputConfig locates run artifacts. Empty paths disable the artifact.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	LossPlot string `yaml:"loss_plot"`
	Database string `yaml:"database"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration of the reference experiment: one epoch
// of baseline training, then two epochs of rank 1 fine-tuning on the digit 9
// capped at 1000 iterations.
func Default() *Config {
	return &Config{
		Seed: 1337,
		Data: DataConfig{
			Dir:            "data/mnist",
			SyntheticTrain: 2000,
			SyntheticTest:  500,
		},
		Model: classifier.DefaultConfig(),
		Train: PhaseConfig{
			BatchSize: 10,
			Trainer:   train.Config{Epochs: 1, LearningRate: 1e-3, Optimizer: "adam", LogEvery: 500},
		},
		FineTune: FineTuneConfig{
			PhaseConfig: PhaseConfig{
				BatchSize: 10,
				Trainer: train.Config{
					Epochs: 2, IterationLimit: 1000, LearningRate: 1e-3, Optimizer: "adam", LogEvery: 100,
				},
			},
			Digit: 9,
		},
		LoRA: LoRAConfig{Rank: 1, Alpha: 1},
		Output: OutputConfig{
			Dir:      "runs",
			LossPlot: "loss.png",
			Database: "runs.db",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML file over Default. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	//nolint:gosec // G304: config path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv(EnvDataDir); dir != "" {
		c.Data.Dir = dir
	}
	if dir := os.Getenv(EnvOutputDir); dir != "" {
		c.Output.Dir = dir
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	var errs []error
	if !c.Data.Synthetic && c.Data.Dir == "" {
		errs = append(errs, errors.New("data.dir is required unless data.synthetic is set"))
	}
	if c.Data.Synthetic && (c.Data.SyntheticTrain <= 0 || c.Data.SyntheticTest <= 0) {
		errs = append(errs, errors.New("data.synthetic_train and data.synthetic_test must be positive"))
	}
	if c.Data.MaxTrain < 0 || c.Data.MaxTest < 0 {
		errs = append(errs, errors.New("data.max_train and data.max_test must not be negative"))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	if c.Model.InputSize != dataset.ImageSize || c.Model.NumClasses != dataset.NumClasses {
		errs = append(errs, fmt.Errorf("model: input_size and num_classes must be %d and %d for MNIST",
			dataset.ImageSize, dataset.NumClasses))
	}
	if err := c.Train.validate(); err != nil {
		errs = append(errs, fmt.Errorf("train: %w", err))
	}
	if err := c.FineTune.validate(); err != nil {
		errs = append(errs, fmt.Errorf("finetune: %w", err))
	}
	if c.FineTune.Digit < 0 || c.FineTune.Digit >= c.Model.NumClasses {
		errs = append(errs, fmt.Errorf("finetune.digit %d outside [0, %d)", c.FineTune.Digit, c.Model.NumClasses))
	}
	if c.LoRA.Rank < 1 {
		errs = append(errs, fmt.Errorf("lora.rank must be >= 1, got %d", c.LoRA.Rank))
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

func (p PhaseConfig) validate() error {
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", p.BatchSize)
	}
	return p.Trainer.Validate()
}
