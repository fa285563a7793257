// Package experiment runs the full fine-tuning experiment: train a baseline
// classifier, attach low-rank adapters, freeze the base weights, fine-tune
// the adapters on a single digit and compare the evaluations.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/config"
	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/report"
	"github.com/born-ml/born-lora/internal/runstore"
	"github.com/born-ml/born-lora/internal/train"
)

// Evaluation phases.
const (
	PhaseBaseline     = "baseline"
	PhaseLoRA         = "lora"
	PhaseLoRADisabled = "lora-disabled"
)

// Checks the experiment enforces between phases.
var (
	ErrBaseResized  = errors.New("experiment: attaching adapters changed the base parameter count")
	ErrBaseModified = errors.New("experiment: fine-tuning modified frozen base weights")
	ErrNotRestored  = errors.New("experiment: disabling adapters did not restore the baseline")
)

// Seed streams, one per consumer of randomness.
const (
	streamModel = iota + 1
	streamLoRA
	streamTrainShuffle
	streamFineTuneShuffle
	streamSyntheticTrain
	streamSyntheticTest
)

// Outcome is everything a run produced.
type Outcome struct {
	RunID string // empty when no database is configured

	Before report.Parameters
	After  report.Parameters
	Frozen []string

	Baseline train.Result
	Tuned    train.Result
	Disabled train.Result

	BaselineHistory *train.History
	FineTuneHistory *train.History

	Artifacts []string
}

// Runner carries the collaborators of a run.
type Runner struct {
	cfg    *config.Config
	logger *zap.Logger
	out    io.Writer
}

// NewRunner validates cfg. A nil logger discards logs and a nil out discards
// the printed report.
func NewRunner(cfg *config.Config, logger *zap.Logger, out io.Writer) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("experiment: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if out == nil {
		out = io.Discard
	}
	return &Runner{cfg: cfg, logger: logger, out: out}, nil
}

func (r *Runner) source(stream uint64) rand.Source {
	return rand.NewPCG(r.cfg.Seed, stream)
}

// LoadData returns the train and test splits, from disk or synthetic.
func (r *Runner) LoadData(ctx context.Context) (trainSet, testSet *dataset.Dataset, err error) {
	d := r.cfg.Data
	if d.Synthetic {
		r.logger.Info("using synthetic data", zap.Int("train", d.SyntheticTrain), zap.Int("test", d.SyntheticTest))
		return dataset.Synthetic(d.SyntheticTrain, r.source(streamSyntheticTrain)),
			dataset.Synthetic(d.SyntheticTest, r.source(streamSyntheticTest)), nil
	}

	trainSet, testSet, err = dataset.LoadSplits(ctx, d.Dir, d.MaxTrain, d.MaxTest)
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: load data: %w", err)
	}
	r.logger.Info("loaded MNIST", zap.String("dir", d.Dir),
		zap.Int("train", trainSet.Len()), zap.Int("test", testSet.Len()))
	return trainSet, testSet, nil
}

// Run executes every phase and writes the report to the runner's output.
func (r *Runner) Run(ctx context.Context) (*Outcome, error) {
	trainSet, testSet, err := r.LoadData(ctx)
	if err != nil {
		return nil, err
	}

	store, runID, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store != nil {
		defer store.Close()
	}
	out := &Outcome{RunID: runID}

	net, err := classifier.New(r.cfg.Model, r.source(streamModel))
	if err != nil {
		return nil, err
	}
	testLoader, err := dataset.NewLoader(testSet, r.cfg.Train.BatchSize, nil)
	if err != nil {
		return nil, err
	}

	// Baseline.
	trainLoader, err := dataset.NewLoader(trainSet, r.cfg.Train.BatchSize, r.source(streamTrainShuffle))
	if err != nil {
		return nil, err
	}
	if out.BaselineHistory, err = r.trainPhase(ctx, "baseline", r.cfg.Train.Trainer, net, trainLoader); err != nil {
		return nil, err
	}
	snapshot := net.Snapshot()

	if out.Baseline, err = r.evaluate(ctx, store, runID, PhaseBaseline, net, testLoader); err != nil {
		return nil, err
	}

	out.Before = report.CountParameters(net)
	if err := out.Before.Write(r.out); err != nil {
		return nil, err
	}

	// Adapters.
	set, err := net.AttachLoRA(lora.Config{Rank: r.cfg.LoRA.Rank, Alpha: r.cfg.LoRA.Alpha, Source: r.source(streamLoRA)})
	if err != nil {
		return nil, err
	}
	out.After = report.CountParameters(net)
	if err := out.After.Write(r.out); err != nil {
		return nil, err
	}
	if out.After.Original != out.Before.Original {
		return nil, fmt.Errorf("%w: %d != %d", ErrBaseResized, out.After.Original, out.Before.Original)
	}
	if store != nil {
		if err := store.SetLoRAParams(ctx, runID, out.After.LoRA); err != nil {
			return nil, err
		}
	}

	out.Frozen = net.FreezeBase()
	if err := report.WriteFrozen(r.out, out.Frozen); err != nil {
		return nil, err
	}

	// Fine-tune on one digit.
	subset := trainSet.OnlyDigit(r.cfg.FineTune.Digit)
	r.logger.Info("fine-tuning subset", zap.Int("digit", r.cfg.FineTune.Digit), zap.Int("samples", subset.Len()))
	ftLoader, err := dataset.NewLoader(subset, r.cfg.FineTune.BatchSize, r.source(streamFineTuneShuffle))
	if err != nil {
		return nil, fmt.Errorf("experiment: fine-tuning subset: %w", err)
	}
	if out.FineTuneHistory, err = r.trainPhase(ctx, "finetune", r.cfg.FineTune.Trainer, net, ftLoader); err != nil {
		return nil, err
	}

	if changed := net.ChangedSince(snapshot); len(changed) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrBaseModified, changed)
	}

	if out.Tuned, err = r.evaluate(ctx, store, runID, PhaseLoRA, net, testLoader); err != nil {
		return nil, err
	}

	set.SetEnabled(false)
	out.Disabled, err = r.evaluate(ctx, store, runID, PhaseLoRADisabled, net, testLoader)
	set.SetEnabled(true)
	if err != nil {
		return nil, err
	}
	if out.Disabled != out.Baseline {
		return nil, fmt.Errorf("%w: accuracy %.4f, baseline %.4f",
			ErrNotRestored, out.Disabled.Accuracy(), out.Baseline.Accuracy())
	}

	if out.Artifacts, err = r.saveArtifacts(net, set, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Runner) trainPhase(ctx context.Context, phase string, cfg train.Config, model train.Model, loader *dataset.Loader) (*train.History, error) {
	trainer, err := train.NewTrainer(cfg, r.logger.With(zap.String("phase", phase)))
	if err != nil {
		return nil, err
	}
	h, err := trainer.Train(ctx, model, loader)
	if err != nil {
		return nil, fmt.Errorf("experiment: %s: %w", phase, err)
	}
	return h, nil
}

func (r *Runner) evaluate(ctx context.Context, store *runstore.Store, runID, phase string, model train.Model, loader *dataset.Loader) (train.Result, error) {
	res, err := train.Evaluate(ctx, model, loader)
	if err != nil {
		return res, fmt.Errorf("experiment: evaluate %s: %w", phase, err)
	}
	r.logger.Info("evaluation", zap.String("phase", phase),
		zap.Int("correct", res.Correct), zap.Int("total", res.Total), zap.Float64("accuracy", res.Accuracy()))

	if _, err := fmt.Fprintf(r.out, "== %s ==\n", phase); err != nil {
		return res, err
	}
	if err := res.Write(r.out); err != nil {
		return res, err
	}

	if store != nil {
		err := store.RecordEvaluation(ctx, runID, runstore.Evaluation{
			Phase:       phase,
			Correct:     res.Correct,
			Total:       res.Total,
			WrongCounts: res.WrongCounts[:],
		})
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

// openStore opens the run database when one is configured and records the
// start of the run.
func (r *Runner) openStore(ctx context.Context) (*runstore.Store, string, error) {
	if r.cfg.Output.Database == "" {
		return nil, "", nil
	}
	path := r.outputPath(r.cfg.Output.Database)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("experiment: create output directory: %w", err)
	}
	store, err := runstore.Open(ctx, path)
	if err != nil {
		return nil, "", err
	}

	snapshot, err := yaml.Marshal(r.cfg)
	if err != nil {
		_ = store.Close()
		return nil, "", fmt.Errorf("experiment: marshal config: %w", err)
	}
	runID, err := store.BeginRun(ctx, runstore.Run{
		Seed:       r.cfg.Seed,
		Rank:       r.cfg.LoRA.Rank,
		Alpha:      r.cfg.LoRA.Alpha,
		Digit:      r.cfg.FineTune.Digit,
		BaseParams: classifierParams(r.cfg.Model),
		Config:     string(snapshot),
	})
	if err != nil {
		_ = store.Close()
		return nil, "", err
	}
	r.logger.Info("run started", zap.String("run_id", runID), zap.String("database", path))
	return store, runID, nil
}

func (r *Runner) outputPath(name string) string {
	if filepath.IsAbs(name) || r.cfg.Output.Dir == "" {
		return name
	}
	return filepath.Join(r.cfg.Output.Dir, name)
}

func (r *Runner) saveArtifacts(net *classifier.Net, set *lora.Set, out *Outcome) ([]string, error) {
	var artifacts []string
	if r.cfg.Output.Dir != "" {
		paths, err := SaveCheckpoints(r.cfg.Output.Dir, net, set, r.cfg.LoRA, r.cfg.FineTune.Digit)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, paths...)
	}
	if r.cfg.Output.LossPlot != "" {
		path := r.outputPath(r.cfg.Output.LossPlot)
		err := report.SaveLossPlot(path, "Running loss",
			report.Series{Name: "baseline", Values: out.BaselineHistory.RunningLoss},
			report.Series{Name: "lora", Values: out.FineTuneHistory.RunningLoss},
		)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, path)
	}
	for _, a := range artifacts {
		r.logger.Info("artifact written", zap.String("path", a))
	}
	return artifacts, nil
}

// classifierParams counts weights and biases of a network with cfg's sizes.
func classifierParams(cfg classifier.Config) int {
	return cfg.InputSize*cfg.Hidden1 + cfg.Hidden1 +
		cfg.Hidden1*cfg.Hidden2 + cfg.Hidden2 +
		cfg.Hidden2*cfg.NumClasses + cfg.NumClasses
}
