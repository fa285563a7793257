// Package classifier implements the fully-connected digit classifier that
// low-rank adapters are fine-tuned on.
//
// Architecture:
//   - Input: 784 features (28×28 flattened image)
//   - linear1: 784 → 1000, ReLU
//   - linear2: 1000 → 2000, ReLU
//   - linear3: 2000 → 10 (logits)
package classifier

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Config holds the layer sizes.
type Config struct {
	InputSize  int `yaml:"input_size"`
	Hidden1    int `yaml:"hidden1"`
	Hidden2    int `yaml:"hidden2"`
	NumClasses int `yaml:"num_classes"`
}

// DefaultConfig returns the 784 → 1000 → 2000 → 10 network.
func DefaultConfig() Config {
	return Config{InputSize: 784, Hidden1: 1000, Hidden2: 2000, NumClasses: 10}
}

// Validate checks that every layer size is positive.
func (c Config) Validate() error {
	if c.InputSize <= 0 || c.Hidden1 <= 0 || c.Hidden2 <= 0 || c.NumClasses <= 0 {
		return fmt.Errorf("classifier: layer sizes must be positive, got %d→%d→%d→%d",
			c.InputSize, c.Hidden1, c.Hidden2, c.NumClasses)
	}
	return nil
}

// Net is the three-layer classifier.
type Net struct {
	cfg     Config
	linear1 *nn.Linear
	relu1   *nn.ReLU
	linear2 *nn.Linear
	relu2   *nn.ReLU
	linear3 *nn.Linear

	adapters *lora.Set
}

// New builds a network with Xavier-initialised weights drawn from src.
func New(cfg Config, src rand.Source) (*Net, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Net{
		cfg:     cfg,
		linear1: nn.NewLinear("linear1", cfg.InputSize, cfg.Hidden1, src),
		relu1:   nn.NewReLU(),
		linear2: nn.NewLinear("linear2", cfg.Hidden1, cfg.Hidden2, src),
		relu2:   nn.NewReLU(),
		linear3: nn.NewLinear("linear3", cfg.Hidden2, cfg.NumClasses, src),
	}, nil
}

// Config returns the layer sizes the network was built with.
func (n *Net) Config() Config {
	return n.cfg
}

func (n *Net) modules() []nn.Module {
	return []nn.Module{n.linear1, n.relu1, n.linear2, n.relu2, n.linear3}
}

// Forward maps a batch of images to logits.
//
// Any input whose element count is a multiple of the input size is viewed as
// [batch, input_size], so [batch, 28, 28] and [batch, 784] are both accepted.
func (n *Net) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	total := input.NumElements()
	if total == 0 || total%n.cfg.InputSize != 0 {
		return nil, fmt.Errorf("classifier: input %v is not a batch of %d features", input.Shape(), n.cfg.InputSize)
	}
	x, err := input.Reshape(total/n.cfg.InputSize, n.cfg.InputSize)
	if err != nil {
		return nil, err
	}

	for _, m := range n.modules() {
		x, err = m.Forward(x)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

// Backward propagates the logits gradient through every layer.
func (n *Net) Backward(gradLogits *tensor.Tensor) error {
	mods := n.modules()
	grad := gradLogits
	var err error
	for i := len(mods) - 1; i >= 0; i-- {
		grad, err = mods[i].Backward(grad)
		if err != nil {
			return err
		}
	}
	return nil
}

// Predict returns the arg-max class of each row of input.
func (n *Net) Predict(input *tensor.Tensor) ([]int, error) {
	logits, err := n.Forward(input)
	if err != nil {
		return nil, err
	}
	return tensor.ArgMaxRows(logits)
}

// Layers returns the adaptable linear layers in order.
func (n *Net) Layers() []*nn.Linear {
	return []*nn.Linear{n.linear1, n.linear2, n.linear3}
}

// Parameters returns every parameter, including adapter factors once
// AttachLoRA has been called.
func (n *Net) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, l := range n.Layers() {
		params = append(params, l.Parameters()...)
	}
	return params
}

// BaseParameters returns the weights and biases only.
func (n *Net) BaseParameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, l := range n.Layers() {
		params = append(params, l.BaseParameters()...)
	}
	return params
}

// NumBaseParameters counts weight and bias elements. Attaching adapters
// never changes it.
func (n *Net) NumBaseParameters() int {
	return nn.CountParameters(n.BaseParameters())
}

// AttachLoRA creates one adapter per linear layer, sized from the layer's
// weight, installs it as the layer's weight transform and returns the set
// owning them. Adapter parameters are named "<layer>.lora_a/b".
func (n *Net) AttachLoRA(cfg lora.Config) (*lora.Set, error) {
	if n.adapters != nil {
		return nil, fmt.Errorf("classifier: %w", nn.ErrTransformAttached)
	}
	for _, l := range n.Layers() {
		if l.WeightTransform() != nil {
			return nil, fmt.Errorf("classifier: layer %s: %w", l.Name(), nn.ErrTransformAttached)
		}
	}

	set := lora.NewSet()
	adapters := make([]*lora.Adapter, 0, 3)
	for _, l := range n.Layers() {
		layerCfg := cfg
		layerCfg.Name = l.Name()
		ad, err := lora.ForWeight(l.Weight().Tensor(), layerCfg)
		if err != nil {
			return nil, fmt.Errorf("classifier: adapter for %s: %w", l.Name(), err)
		}
		if err := set.Add(l.Name(), ad); err != nil {
			return nil, err
		}
		adapters = append(adapters, ad)
	}

	// Every layer was checked free above and every adapter is built, so
	// installing cannot fail halfway.
	for i, l := range n.Layers() {
		if err := l.SetWeightTransform(adapters[i]); err != nil {
			return nil, err
		}
	}
	n.adapters = set
	return set, nil
}

// Adapters returns the attached adapter set, or nil.
func (n *Net) Adapters() *lora.Set {
	return n.adapters
}

// Freeze sets RequiresGrad(false) on every parameter for which keep returns
// false and returns the names of the parameters it froze.
func (n *Net) Freeze(keep func(*nn.Parameter) bool) []string {
	var frozen []string
	for _, p := range n.Parameters() {
		if keep(p) {
			continue
		}
		p.SetRequiresGrad(false)
		frozen = append(frozen, p.Name())
	}
	return frozen
}

// FreezeBase freezes every non-LoRA parameter.
func (n *Net) FreezeBase() []string {
	return n.Freeze(IsLoRAParameter)
}

// IsLoRAParameter reports whether p is an adapter factor.
func IsLoRAParameter(p *nn.Parameter) bool {
	return strings.Contains(p.Name(), "lora")
}

// StateDict returns the base weights keyed "<layer>.weight" / "<layer>.bias".
func (n *Net) StateDict() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, 6)
	for _, l := range n.Layers() {
		for key, t := range l.StateDict() {
			out[l.Name()+"."+key] = t
		}
	}
	return out
}

// LoadStateDict restores base weights saved by StateDict. Every layer is
// checked before any weight is written, so a bad entry leaves the network
// unchanged.
func (n *Net) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	layers := n.Layers()
	subs := make([]map[string]*tensor.Tensor, len(layers))
	for i, l := range layers {
		prefix := l.Name() + "."
		sub := map[string]*tensor.Tensor{}
		for key, t := range stateDict {
			if strings.HasPrefix(key, prefix) {
				sub[strings.TrimPrefix(key, prefix)] = t
			}
		}
		if err := l.CheckStateDict(sub); err != nil {
			return err
		}
		subs[i] = sub
	}
	for i, l := range layers {
		if err := l.LoadStateDict(subs[i]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot deep-copies the base weights.
func (n *Net) Snapshot() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, 6)
	for name, t := range n.StateDict() {
		out[name] = t.Clone()
	}
	return out
}

// ChangedSince returns the names of base parameters whose values differ
// from snapshot. An empty result means the frozen weights were untouched.
func (n *Net) ChangedSince(snapshot map[string]*tensor.Tensor) []string {
	var changed []string
	for _, p := range n.BaseParameters() {
		prev, ok := snapshot[p.Name()]
		if !ok || !prev.Equal(p.Tensor()) {
			changed = append(changed, p.Name())
		}
	}
	return changed
}
