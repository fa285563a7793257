package nn

import (
	"fmt"

	"github.com/born-ml/born-lora/internal/tensor"
)

// Parameter represents a trainable parameter in a neural network.
//
// Parameters are tensors that receive gradients during training. A frozen
// parameter (RequiresGrad() == false) keeps its values: layers skip its
// gradient and optimizers skip its update.
//
// Example:
//
//	weight := nn.NewParameter("linear1.weight", weightTensor)
//	weight.SetRequiresGrad(false) // freeze
type Parameter struct {
	name         string
	tensor       *tensor.Tensor
	grad         *tensor.Tensor // allocated on first AccumulateGrad
	requiresGrad bool
}

// NewParameter creates a new trainable parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:         name,
		tensor:       t,
		requiresGrad: true,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// NumElements returns the number of scalar values held by the parameter.
func (p *Parameter) NumElements() int {
	return p.tensor.NumElements()
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been accumulated since the last ZeroGrad.
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// AccumulateGrad adds g to the parameter gradient.
func (p *Parameter) AccumulateGrad(g *tensor.Tensor) error {
	if g.NumElements() != p.tensor.NumElements() {
		return fmt.Errorf("parameter %s: gradient %v does not match %v", p.name, g.Shape(), p.tensor.Shape())
	}
	if p.grad == nil {
		p.grad = tensor.Zeros(p.tensor.Shape())
	}
	return tensor.AddScaledInPlace(p.grad, g, 1)
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// RequiresGrad reports whether the parameter is trainable.
func (p *Parameter) RequiresGrad() bool {
	return p.requiresGrad
}

// SetRequiresGrad freezes (false) or unfreezes (true) the parameter.
// Freezing also drops any pending gradient.
func (p *Parameter) SetRequiresGrad(requiresGrad bool) {
	p.requiresGrad = requiresGrad
	if !requiresGrad {
		p.grad = nil
	}
}
