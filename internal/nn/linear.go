package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/born-ml/born-lora/internal/tensor"
)

// ErrTransformAttached is returned when a layer already routes its weight
// through a transform.
var ErrTransformAttached = errors.New("weight transform already attached")

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W_eff.T + b
// where:
//   - x is the input tensor with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - W_eff is W routed through the optional WeightTransform (W itself when none)
//   - b is the bias vector with shape [out_features]
//
// Weights are initialized using Xavier/Glorot initialization.
// Biases are initialized to zeros.
//
// Example:
//
//	layer := nn.NewLinear("linear1", 784, 1000, src)
//	output, err := layer.Forward(input) // [batch, 784] -> [batch, 1000]
type Linear struct {
	name        string
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features]
	transform   WeightTransform

	// Cached by Forward for Backward.
	input     *tensor.Tensor
	effective *tensor.Tensor
}

// NewLinear creates a new Linear layer whose parameters are named
// "<name>.weight" and "<name>.bias".
func NewLinear(name string, inFeatures, outFeatures int, src rand.Source) *Linear {
	weightShape := tensor.Shape{outFeatures, inFeatures}
	weight := NewParameter(name+".weight", Xavier(inFeatures, outFeatures, weightShape, src))
	bias := NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures}))

	return &Linear{
		name:        name,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      weight,
		bias:        bias,
	}
}

// Name returns the layer name used as parameter prefix.
func (l *Linear) Name() string {
	return l.name
}

// SetWeightTransform routes every subsequent weight read through t.
//
// Attaching a second transform fails with ErrTransformAttached; pass nil to
// detach the current one.
func (l *Linear) SetWeightTransform(t WeightTransform) error {
	if t != nil && l.transform != nil {
		return fmt.Errorf("linear %s: %w", l.name, ErrTransformAttached)
	}
	l.transform = t
	return nil
}

// WeightTransform returns the attached transform, or nil.
func (l *Linear) WeightTransform() WeightTransform {
	return l.transform
}

// EffectiveWeight returns the weight as seen by Forward: the stored weight
// passed through the transform when one is attached.
func (l *Linear) EffectiveWeight() (*tensor.Tensor, error) {
	w := l.weight.Tensor()
	if l.transform == nil {
		return w, nil
	}
	eff, err := l.transform.Apply(w)
	if err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.name, err)
	}
	return eff, nil
}

// Forward computes y = x @ W_eff.T + b.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *Linear) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	shape := input.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("linear %s: expected 2D input [batch, features], got shape %v", l.name, shape)
	}
	if shape[1] != l.inFeatures {
		return nil, fmt.Errorf("linear %s: expected input with %d features, got %d", l.name, l.inFeatures, shape[1])
	}

	w, err := l.EffectiveWeight()
	if err != nil {
		return nil, err
	}

	output, err := tensor.MatMulT(input, w, false, true)
	if err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.name, err)
	}
	if err := tensor.AddRowVector(output, l.bias.Tensor()); err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.name, err)
	}

	l.input = input
	l.effective = w
	return output, nil
}

// Backward propagates gradOutput ([batch, out_features]) through the layer.
//
// Gradients are accumulated into the weight and bias only when they require
// gradients. The gradient with respect to the effective weight is always
// handed to the transform, which decides what to do with it.
func (l *Linear) Backward(gradOutput *tensor.Tensor) (*tensor.Tensor, error) {
	if l.input == nil {
		return nil, fmt.Errorf("linear %s: backward called before forward", l.name)
	}
	if !gradOutput.Shape().Equal(tensor.Shape{l.input.Shape()[0], l.outFeatures}) {
		return nil, fmt.Errorf("linear %s: gradient shape %v does not match output [%d, %d]",
			l.name, gradOutput.Shape(), l.input.Shape()[0], l.outFeatures)
	}

	if l.weight.RequiresGrad() || l.transform != nil {
		// dL/dW_eff = gradOutput.T @ input: [out, batch] @ [batch, in]
		gradWeight, err := tensor.MatMulT(gradOutput, l.input, true, false)
		if err != nil {
			return nil, fmt.Errorf("linear %s: %w", l.name, err)
		}
		if l.weight.RequiresGrad() {
			if err := l.weight.AccumulateGrad(gradWeight); err != nil {
				return nil, err
			}
		}
		if l.transform != nil {
			if err := l.transform.Backward(gradWeight); err != nil {
				return nil, fmt.Errorf("linear %s: %w", l.name, err)
			}
		}
	}

	if l.bias.RequiresGrad() {
		gradBias, err := tensor.SumRows(gradOutput)
		if err != nil {
			return nil, fmt.Errorf("linear %s: %w", l.name, err)
		}
		if err := l.bias.AccumulateGrad(gradBias); err != nil {
			return nil, err
		}
	}

	// dL/dx = gradOutput @ W_eff: [batch, out] @ [out, in]
	gradInput, err := tensor.MatMul(gradOutput, l.effective)
	if err != nil {
		return nil, fmt.Errorf("linear %s: %w", l.name, err)
	}
	return gradInput, nil
}

// Parameters returns the layer parameters followed by those of its transform.
func (l *Linear) Parameters() []*Parameter {
	params := []*Parameter{l.weight, l.bias}
	if owner, ok := l.transform.(parameterOwner); ok {
		params = append(params, owner.TrainableParameters()...)
	}
	return params
}

// BaseParameters returns [weight, bias], excluding transform parameters.
func (l *Linear) BaseParameters() []*Parameter {
	return []*Parameter{l.weight, l.bias}
}

// Weight returns the stored (untransformed) weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// StateDict returns a map of parameter names to tensors.
// The stored weight is returned, never the transformed one.
func (l *Linear) StateDict() map[string]*tensor.Tensor {
	return map[string]*tensor.Tensor{
		"weight": l.weight.Tensor(),
		"bias":   l.bias.Tensor(),
	}
}

type stateEntry struct {
	key   string
	param *Parameter
}

func (l *Linear) stateEntries() []stateEntry {
	return []stateEntry{{"weight", l.weight}, {"bias", l.bias}}
}

// CheckStateDict reports whether stateDict holds every parameter of the
// layer with the right shape, without loading anything.
func (l *Linear) CheckStateDict(stateDict map[string]*tensor.Tensor) error {
	for _, e := range l.stateEntries() {
		src, ok := stateDict[e.key]
		if !ok {
			return fmt.Errorf("linear %s: missing %s in state dict", l.name, e.key)
		}
		want := e.param.Tensor().Shape()
		if !src.Shape().Equal(want) {
			return fmt.Errorf("linear %s: %s shape mismatch: expected %v, got %v", l.name, e.key, want, src.Shape())
		}
	}
	return nil
}

// LoadStateDict loads parameters from a state dictionary. Nothing is
// written unless every entry passes CheckStateDict.
func (l *Linear) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	if err := l.CheckStateDict(stateDict); err != nil {
		return err
	}
	for _, e := range l.stateEntries() {
		copy(e.param.Tensor().Data(), stateDict[e.key].Data())
	}
	return nil
}
