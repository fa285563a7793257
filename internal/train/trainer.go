// Package train runs the supervised training loop and the accuracy
// evaluation used before and after low-rank fine-tuning.
package train

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/optim"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Model is what the trainer and evaluator drive.
type Model interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradLogits *tensor.Tensor) error
	Parameters() []*nn.Parameter
}

// Config controls one training run.
type Config struct {
	Epochs int `yaml:"epochs"`
	// IterationLimit caps the total number of optimizer steps across all
	// epochs. Zero means no cap.
	IterationLimit int     `yaml:"iteration_limit"`
	LearningRate   float32 `yaml:"learning_rate"`
	// Optimizer is "adam" (default) or "sgd".
	Optimizer string  `yaml:"optimizer"`
	Momentum  float32 `yaml:"momentum"`
	// LogEvery logs the running loss every N steps. Zero disables progress logs.
	LogEvery int `yaml:"log_every"`
}

// Validate rejects configurations the loop cannot run.
func (c Config) Validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.IterationLimit < 0 {
		return fmt.Errorf("iteration limit must not be negative, got %d", c.IterationLimit)
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning rate must not be negative, got %v", c.LearningRate)
	}
	switch c.Optimizer {
	case "", "adam", "sgd":
	default:
		return fmt.Errorf("unknown optimizer %q (want adam or sgd)", c.Optimizer)
	}
	return nil
}

// History records per-step losses of one run.
type History struct {
	Losses      []float64 // loss of every step
	RunningLoss []float64 // mean loss of the epoch so far, per step
	Steps       int
	Epochs      int  // epochs started
	Stopped     bool // true when the iteration limit ended the run
}

// MeanLoss returns the mean step loss of the run.
func (h *History) MeanLoss() float64 {
	if len(h.Losses) == 0 {
		return 0
	}
	return stat.Mean(h.Losses, nil)
}

// Trainer runs the training loop.
type Trainer struct {
	cfg    Config
	logger *zap.Logger
}

// NewTrainer creates a trainer. A nil logger disables logging.
func NewTrainer(cfg Config, logger *zap.Logger) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{cfg: cfg, logger: logger}, nil
}

func (t *Trainer) newOptimizer(params []*nn.Parameter) optim.Optimizer {
	if t.cfg.Optimizer == "sgd" {
		return optim.NewSGD(params, optim.SGDConfig{LR: t.cfg.LearningRate, Momentum: t.cfg.Momentum})
	}
	return optim.NewAdam(params, optim.AdamConfig{LR: t.cfg.LearningRate})
}

// Train optimises every parameter of model that requires gradients.
//
// Frozen parameters are excluded up front, so freezing the base weights and
// calling Train fine-tunes only what is left. The context is checked between
// steps.
func (t *Trainer) Train(ctx context.Context, model Model, loader *dataset.Loader) (*History, error) {
	params := optim.Trainable(model.Parameters())
	if len(params) == 0 {
		return nil, fmt.Errorf("train: model has no trainable parameters")
	}
	optimizer := t.newOptimizer(params)
	criterion := nn.NewCrossEntropyLoss()

	t.logger.Info("training started",
		zap.Int("epochs", t.cfg.Epochs),
		zap.Int("iteration_limit", t.cfg.IterationLimit),
		zap.Int("batches_per_epoch", loader.NumBatches()),
		zap.Int("trainable_parameters", nn.CountParameters(params)),
	)

	h := &History{}
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		h.Epochs = epoch
		runningLoss := 0.0
		for i, batch := range loader.Epoch() {
			if err := ctx.Err(); err != nil {
				return h, err
			}

			loss, err := t.step(model, optimizer, criterion, batch)
			if err != nil {
				return h, fmt.Errorf("epoch %d step %d: %w", epoch, i+1, err)
			}

			runningLoss += loss
			h.Losses = append(h.Losses, loss)
			h.RunningLoss = append(h.RunningLoss, runningLoss/float64(i+1))
			h.Steps++

			if t.cfg.LogEvery > 0 && h.Steps%t.cfg.LogEvery == 0 {
				t.logger.Info("training progress",
					zap.Int("epoch", epoch),
					zap.Int("step", h.Steps),
					zap.Float64("loss", runningLoss/float64(i+1)),
				)
			}

			if t.cfg.IterationLimit > 0 && h.Steps >= t.cfg.IterationLimit {
				h.Stopped = true
				t.logger.Info("iteration limit reached", zap.Int("steps", h.Steps))
				return h, nil
			}
		}
		t.logger.Debug("epoch finished", zap.Int("epoch", epoch), zap.Float64("mean_loss", h.MeanLoss()))
	}
	return h, nil
}

func (t *Trainer) step(model Model, optimizer optim.Optimizer, criterion *nn.CrossEntropyLoss, batch dataset.Batch) (float64, error) {
	optimizer.ZeroGrad()

	logits, err := model.Forward(batch.Images)
	if err != nil {
		return 0, err
	}
	loss, err := criterion.Forward(logits, batch.Labels)
	if err != nil {
		return 0, err
	}
	grad, err := criterion.Backward()
	if err != nil {
		return 0, err
	}
	if err := model.Backward(grad); err != nil {
		return 0, err
	}
	optimizer.Step()
	return float64(loss), nil
}
