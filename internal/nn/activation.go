package nn

import (
	"fmt"

	"github.com/born-ml/born-lora/internal/parallel"
	"github.com/born-ml/born-lora/internal/tensor"
)

var elementwise = parallel.DefaultConfig()

// ReLU is a Rectified Linear Unit activation module.
//
// Applies the element-wise function: f(x) = max(0, x)
type ReLU struct {
	output *tensor.Tensor
}

// NewReLU creates a new ReLU activation module.
func NewReLU() *ReLU {
	return &ReLU{}
}

// Forward applies ReLU activation: f(x) = max(0, x).
func (r *ReLU) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	out := input.Clone()
	data := out.Data()
	parallel.Range(len(data), func(start, end int) {
		for i := start; i < end; i++ {
			if data[i] < 0 {
				data[i] = 0
			}
		}
	}, elementwise)
	r.output = out
	return out, nil
}

// Backward passes the gradient through where the forward output was positive.
func (r *ReLU) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if r.output == nil {
		return nil, fmt.Errorf("relu: backward called before forward")
	}
	if !gradOutput.Shape().Equal(r.output.Shape()) {
		return nil, fmt.Errorf("relu: gradient shape %v does not match output %v", gradOutput.Shape(), r.output.Shape())
	}
	grad := gradOutput.Clone()
	data := grad.Data()
	out := r.output.Data()
	parallel.Range(len(data), func(start, end int) {
		for i := start; i < end; i++ {
			if out[i] <= 0 {
				data[i] = 0
			}
		}
	}, elementwise)
	return grad, nil
}

// Parameters returns an empty slice (ReLU has no trainable parameters).
func (r *ReLU) Parameters() []*Parameter {
	return nil
}
