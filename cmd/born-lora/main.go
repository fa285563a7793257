// Command born-lora trains a digit classifier, attaches low-rank adapters,
// fine-tunes them on a single digit and reports how accuracy and parameter
// counts change.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/cpuid/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/born-ml/born-lora/internal/config"
)

const version = "v0.1.0"

// app holds what the persistent flags resolve to.
type app struct {
	configPath string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
	// newLogger is replaced in tests.
	newLogger func(level zapcore.Level) (*zap.Logger, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&app{newLogger: productionLogger}).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func productionLogger(level zapcore.Level) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "born-lora",
		Short: "LoRA fine-tuning of an MNIST classifier",
		Long: `born-lora trains a 784-1000-2000-10 classifier on MNIST, freezes it,
attaches a rank-r adapter to every linear layer and fine-tunes only the
adapters on a single digit. It prints the parameter overhead of the adapters
and the accuracy before fine-tuning, after it, and with adapters disabled.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "born-lora.yaml", "YAML configuration file")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(a),
		newParamsCmd(a),
		newEvalCmd(a),
		newSynthCmd(a),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("logging level: %w", err)
	}
	if a.verbose {
		level = zapcore.DebugLevel
	}
	if a.logger, err = a.newLogger(level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.logger.Debug("host",
		zap.String("cpu", cpuid.CPU.BrandName),
		zap.Int("physical_cores", cpuid.CPU.PhysicalCores),
		zap.Int("logical_cores", cpuid.CPU.LogicalCores),
		zap.Bool("avx2", cpuid.CPU.Supports(cpuid.AVX2)),
		zap.String("command", cmd.Name()),
	)
	return nil
}
