// Package nn implements the neural network modules used to train the digit
// classifier and its low-rank adapters.
//
// This package provides:
//   - Module interface: Forward/Backward/Parameters for every layer
//   - Parameter: trainable tensor with gradient and freeze flag
//   - Linear: fully connected layer with an optional weight transform
//   - ReLU activation and CrossEntropyLoss
//
// Gradients are computed by each module's explicit Backward method, which
// consumes the activations cached by the preceding Forward call.
package nn

import (
	"github.com/born-ml/born-lora/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Backward must be called after Forward with the gradient of the loss with
// respect to the module output. It accumulates parameter gradients and
// returns the gradient with respect to the module input.
type Module interface {
	Forward(input *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*Parameter
}

// WeightTransform rewrites a layer weight every time the layer reads it.
//
// Apply must not mutate its argument. Backward receives the gradient of the
// loss with respect to the transformed weight and accumulates gradients for
// the transform's own parameters.
type WeightTransform interface {
	Apply(weight *tensor.Tensor) (*tensor.Tensor, error)
	Backward(gradEffective *tensor.Tensor) error
}

// parameterOwner is implemented by transforms that carry trainable state.
type parameterOwner interface {
	TrainableParameters() []*Parameter
}

// CountParameters returns the total number of elements across params.
func CountParameters(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.NumElements()
	}
	return total
}
