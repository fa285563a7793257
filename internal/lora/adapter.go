// Package lora implements low-rank adaptation of weight matrices.
//
// An Adapter wraps one weight matrix W of shape (featuresIn × featuresOut)
// and produces the effective weight
//
//	W_eff = W + (alpha / rank) · reshape(B @ A, shape(W))
//
// where A is (rank × featuresOut) and B is (featuresIn × rank). A starts as
// standard normal noise and B as zeros, so a fresh adapter leaves W unchanged.
// Only A and B are trainable; W stays owned by the host layer.
//
// Adapters are attached to nn.Linear layers through nn.WeightTransform, and a
// Set groups the adapters of one model so they can be switched on and off
// together.
package lora

import (
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Config holds adapter hyperparameters.
type Config struct {
	Rank  int     // Inner dimension of the factors, >= 1
	Alpha float32 // Scale numerator; the correction is multiplied by Alpha/Rank
	// Source feeds the N(0, 1) initialisation of A. Nil uses the global
	// math/rand/v2 source.
	Source rand.Source
	// Name prefixes the factor parameter names ("<Name>.lora_a").
	Name string
}

// DefaultConfig returns rank 1, alpha 1.
func DefaultConfig() Config {
	return Config{Rank: 1, Alpha: 1}
}

// Adapter is the low-rank correction for a single weight matrix.
//
// Adapters are not safe for concurrent use.
type Adapter struct {
	featuresIn  int
	featuresOut int
	rank        int
	scale       float32
	enabled     bool

	a *nn.Parameter // [rank, featuresOut]
	b *nn.Parameter // [featuresIn, rank]
}

// NewAdapter creates an adapter for a (featuresIn × featuresOut) weight.
//
// A is filled with independent N(0, 1) samples, B with zeros, and the
// adapter starts enabled. Returns ErrInvalidDimension when cfg.Rank < 1 or a
// feature dimension is not positive.
func NewAdapter(featuresIn, featuresOut int, cfg Config) (*Adapter, error) {
	if cfg.Rank < 1 {
		return nil, fmt.Errorf("%w: rank %d must be >= 1", ErrInvalidDimension, cfg.Rank)
	}
	if featuresIn <= 0 || featuresOut <= 0 {
		return nil, fmt.Errorf("%w: features %d×%d must be positive", ErrInvalidDimension, featuresIn, featuresOut)
	}

	prefix := ""
	if cfg.Name != "" {
		prefix = cfg.Name + "."
	}

	return &Adapter{
		featuresIn:  featuresIn,
		featuresOut: featuresOut,
		rank:        cfg.Rank,
		scale:       cfg.Alpha / float32(cfg.Rank),
		enabled:     true,
		a:           nn.NewParameter(prefix+"lora_a", nn.Randn(tensor.Shape{cfg.Rank, featuresOut}, cfg.Source)),
		b:           nn.NewParameter(prefix+"lora_b", tensor.Zeros(tensor.Shape{featuresIn, cfg.Rank})),
	}, nil
}

// ForWeight sizes a new adapter from the shape of an existing 2D weight.
func ForWeight(weight *tensor.Tensor, cfg Config) (*Adapter, error) {
	shape := weight.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: weight must be 2D, got %v", ErrInvalidDimension, shape)
	}
	return NewAdapter(shape[0], shape[1], cfg)
}

// delta returns scale · (B @ A) as a (featuresIn × featuresOut) tensor.
func (ad *Adapter) delta() (*tensor.Tensor, error) {
	d := tensor.Zeros(tensor.Shape{ad.featuresIn, ad.featuresOut})
	if err := tensor.Gemm(false, false, ad.scale, ad.b.Tensor(), ad.a.Tensor(), 0, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Apply returns the effective weight for w.
//
// When the adapter is disabled w itself is returned. Otherwise a new tensor
// w + scale · reshape(B @ A, shape(w)) is returned. w is never modified.
// Returns ErrDimensionMismatch when w does not hold featuresIn·featuresOut
// elements.
func (ad *Adapter) Apply(w *tensor.Tensor) (*tensor.Tensor, error) {
	if !ad.enabled {
		return w, nil
	}
	if w.NumElements() != ad.featuresIn*ad.featuresOut {
		return nil, fmt.Errorf("%w: weight %v has %d elements, low-rank product [%d, %d] has %d",
			ErrDimensionMismatch, w.Shape(), w.NumElements(),
			ad.featuresIn, ad.featuresOut, ad.featuresIn*ad.featuresOut)
	}

	d, err := ad.delta()
	if err != nil {
		return nil, err
	}
	out := w.Clone()
	if err := tensor.AddScaledInPlace(out, d, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// Backward accumulates factor gradients from grad = ∂L/∂W_eff:
//
//	∂L/∂A = scale · Bᵀ @ G
//	∂L/∂B = scale · G @ Aᵀ
//
// A disabled adapter takes no part in the forward pass, so it receives no
// gradient.
func (ad *Adapter) Backward(grad *tensor.Tensor) error {
	if !ad.enabled {
		return nil
	}
	if grad.NumElements() != ad.featuresIn*ad.featuresOut {
		return fmt.Errorf("%w: gradient %v does not match [%d, %d]",
			ErrDimensionMismatch, grad.Shape(), ad.featuresIn, ad.featuresOut)
	}
	g, err := grad.Reshape(ad.featuresIn, ad.featuresOut)
	if err != nil {
		return err
	}

	if ad.a.RequiresGrad() {
		gradA := tensor.Zeros(ad.a.Tensor().Shape())
		if err := tensor.Gemm(true, false, ad.scale, ad.b.Tensor(), g, 0, gradA); err != nil {
			return err
		}
		if err := ad.a.AccumulateGrad(gradA); err != nil {
			return err
		}
	}
	if ad.b.RequiresGrad() {
		gradB := tensor.Zeros(ad.b.Tensor().Shape())
		if err := tensor.Gemm(false, true, ad.scale, g, ad.a.Tensor(), 0, gradB); err != nil {
			return err
		}
		if err := ad.b.AccumulateGrad(gradB); err != nil {
			return err
		}
	}
	return nil
}

// SetEnabled toggles whether Apply adds the low-rank correction.
func (ad *Adapter) SetEnabled(enabled bool) {
	ad.enabled = enabled
}

// Enabled reports whether the correction is applied.
func (ad *Adapter) Enabled() bool {
	return ad.enabled
}

// TrainableParameters returns exactly [A, B].
func (ad *Adapter) TrainableParameters() []*nn.Parameter {
	return []*nn.Parameter{ad.a, ad.b}
}

// NumParameters returns rank·featuresOut + featuresIn·rank.
func (ad *Adapter) NumParameters() int {
	return ad.a.NumElements() + ad.b.NumElements()
}

// A returns the (rank × featuresOut) factor.
func (ad *Adapter) A() *nn.Parameter { return ad.a }

// B returns the (featuresIn × rank) factor.
func (ad *Adapter) B() *nn.Parameter { return ad.b }

// Rank returns the factor inner dimension.
func (ad *Adapter) Rank() int { return ad.rank }

// Scale returns alpha / rank.
func (ad *Adapter) Scale() float32 { return ad.scale }

// FeaturesIn returns the row count of the wrapped weight.
func (ad *Adapter) FeaturesIn() int { return ad.featuresIn }

// FeaturesOut returns the column count of the wrapped weight.
func (ad *Adapter) FeaturesOut() int { return ad.featuresOut }

// StateDict returns the factors keyed "lora_a" and "lora_b".
func (ad *Adapter) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"lora_a": ad.a.Tensor(),
		"lora_b": ad.b.Tensor(),
	}
}

type factor struct {
	key   string
	param *nn.Parameter
}

func (ad *Adapter) factors() []factor {
	return []factor{{"lora_a", ad.a}, {"lora_b", ad.b}}
}

// checkStateDict validates both factors of stateDict without copying.
func (ad *Adapter) checkStateDict(stateDict map[string]*tensor.Tensor) error {
	for _, f := range ad.factors() {
		src, ok := stateDict[f.key]
		if !ok {
			return fmt.Errorf("lora: missing %s in state dict", f.key)
		}
		want := f.param.Tensor().Shape()
		if !src.Shape().Equal(want) {
			return fmt.Errorf("%w: %s expected %v, got %v", ErrDimensionMismatch, f.key, want, src.Shape())
		}
	}
	return nil
}

// LoadStateDict copies factors saved by StateDict into the adapter. Both
// factors are validated before either is written.
func (ad *Adapter) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	if err := ad.checkStateDict(stateDict); err != nil {
		return err
	}
	for _, f := range ad.factors() {
		copy(f.param.Tensor().Data(), stateDict[f.key].Data())
	}
	return nil
}
