package experiment

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/config"
	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/serialization"
	"github.com/born-ml/born-lora/internal/train"
)

// Checkpoint file names inside the output directory.
const (
	BaseCheckpoint = "base.safetensors"
	LoRACheckpoint = "lora.safetensors"
)

// Metadata keys of the adapter checkpoint.
const (
	metaRank  = "lora_rank"
	metaAlpha = "lora_alpha"
	metaDigit = "finetune_digit"
)

// SaveCheckpoints writes the base weights and the adapter factors as two
// separate files, so one base checkpoint can serve several adapters.
func SaveCheckpoints(dir string, net *classifier.Net, set *lora.Set, cfg config.LoRAConfig, digit int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("experiment: create checkpoint directory: %w", err)
	}

	base := filepath.Join(dir, BaseCheckpoint)
	if err := serialization.WriteSafeTensors(base, net.StateDict(), map[string]string{"format": "born-lora"}); err != nil {
		return nil, fmt.Errorf("experiment: write base checkpoint: %w", err)
	}

	adapters := filepath.Join(dir, LoRACheckpoint)
	meta := map[string]string{
		"format":  "born-lora",
		metaRank:  strconv.Itoa(cfg.Rank),
		metaAlpha: strconv.FormatFloat(float64(cfg.Alpha), 'g', -1, 32),
		metaDigit: strconv.Itoa(digit),
	}
	if err := serialization.WriteSafeTensors(adapters, set.StateDict(), meta); err != nil {
		return nil, fmt.Errorf("experiment: write adapter checkpoint: %w", err)
	}
	return []string{base, adapters}, nil
}

// LoadCheckpoints rebuilds a network with adapters from the files written by
// SaveCheckpoints. Rank and alpha come from the adapter checkpoint.
func LoadCheckpoints(dir string, modelCfg classifier.Config) (*classifier.Net, *lora.Set, error) {
	base, err := serialization.ReadSafeTensors(filepath.Join(dir, BaseCheckpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: read base checkpoint: %w", err)
	}
	adapters, err := serialization.ReadSafeTensors(filepath.Join(dir, LoRACheckpoint))
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: read adapter checkpoint: %w", err)
	}

	rank, err := strconv.Atoi(adapters.Metadata[metaRank])
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: adapter checkpoint %s: %w", metaRank, err)
	}
	alpha, err := strconv.ParseFloat(adapters.Metadata[metaAlpha], 32)
	if err != nil {
		return nil, nil, fmt.Errorf("experiment: adapter checkpoint %s: %w", metaAlpha, err)
	}

	// Weights are overwritten below, the source only has to be valid.
	net, err := classifier.New(modelCfg, nil)
	if err != nil {
		return nil, nil, err
	}
	if err := net.LoadStateDict(base.Tensors); err != nil {
		return nil, nil, fmt.Errorf("experiment: load base weights: %w", err)
	}
	set, err := net.AttachLoRA(lora.Config{Rank: rank, Alpha: float32(alpha)})
	if err != nil {
		return nil, nil, err
	}
	if err := set.LoadStateDict(adapters.Tensors); err != nil {
		return nil, nil, fmt.Errorf("experiment: load adapters: %w", err)
	}
	net.FreezeBase()
	return net, set, nil
}

// EvaluateCheckpoints loads the checkpoints of a previous run from the
// output directory and evaluates them on the test split with adapters
// enabled and disabled.
func (r *Runner) EvaluateCheckpoints(ctx context.Context) (tuned, disabled train.Result, err error) {
	net, set, err := LoadCheckpoints(r.cfg.Output.Dir, r.cfg.Model)
	if err != nil {
		return tuned, disabled, err
	}
	r.logger.Info("checkpoints loaded", zap.String("dir", r.cfg.Output.Dir), zap.Int("adapters", set.Len()))

	_, testSet, err := r.LoadData(ctx)
	if err != nil {
		return tuned, disabled, err
	}
	loader, err := dataset.NewLoader(testSet, r.cfg.Train.BatchSize, nil)
	if err != nil {
		return tuned, disabled, err
	}

	if tuned, err = r.evaluate(ctx, nil, "", PhaseLoRA, net, loader); err != nil {
		return tuned, disabled, err
	}
	set.SetEnabled(false)
	defer set.SetEnabled(true)
	disabled, err = r.evaluate(ctx, nil, "", PhaseLoRADisabled, net, loader)
	return tuned, disabled, err
}
