// Package optim implements optimization algorithms for training neural networks.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - SGD: Stochastic Gradient Descent with momentum
//   - Adam: Adaptive Moment Estimation
//
// Optimizers read the gradients accumulated on each nn.Parameter by the
// modules' Backward methods. Frozen parameters (RequiresGrad() == false) and
// parameters without a gradient are left untouched, which is what makes
// fine-tuning only the low-rank factors possible with an unmodified
// parameter list.
//
// Example usage:
//
//	optimizer := optim.NewAdam(model.Parameters(), optim.AdamConfig{LR: 0.001})
//
//	for _, batch := range batches {
//	    optimizer.ZeroGrad()
//	    logits, _ := model.Forward(batch.Images)
//	    loss, _ := criterion.Forward(logits, batch.Labels)
//	    grad, _ := criterion.Backward()
//	    _ = model.Backward(grad)
//	    optimizer.Step()
//	}
package optim

import (
	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies the accumulated gradients to every trainable parameter.
	Step()

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// getGradient returns the gradient to apply to param, or nil when the
// parameter is frozen or did not take part in the last backward pass.
func getGradient(param *nn.Parameter) *tensor.Tensor {
	if !param.RequiresGrad() {
		return nil
	}
	return param.Grad()
}

// Trainable filters params down to those that require gradients.
func Trainable(params []*nn.Parameter) []*nn.Parameter {
	out := make([]*nn.Parameter, 0, len(params))
	for _, p := range params {
		if p.RequiresGrad() {
			out = append(out, p)
		}
	}
	return out
}
