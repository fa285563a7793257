// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package nn

import (
	"math/rand/v2"

	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Module is a layer with a forward and an explicit backward pass.
type Module = nn.Module

// WeightTransform rewrites a layer's weight on every read.
type WeightTransform = nn.WeightTransform

// Parameter represents a trainable parameter in a neural network.
type Parameter = nn.Parameter

// NewParameter creates a new parameter with the given name and tensor.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return nn.NewParameter(name, t)
}

// ErrTransformAttached is returned when a layer already has a transform.
var ErrTransformAttached = nn.ErrTransformAttached

// Layers

// Linear represents a fully connected layer, y = x @ Wᵀ + b.
type Linear = nn.Linear

// NewLinear creates a new linear layer with Xavier initialization.
//
// Example:
//
//	layer := nn.NewLinear("fc", 784, 128, rand.NewPCG(1, 2))
func NewLinear(name string, inFeatures, outFeatures int, src rand.Source) *Linear {
	return nn.NewLinear(name, inFeatures, outFeatures, src)
}

// ReLU is the rectified linear activation.
type ReLU = nn.ReLU

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU {
	return nn.NewReLU()
}

// Loss functions

// CrossEntropyLoss combines log-softmax and negative log-likelihood.
type CrossEntropyLoss = nn.CrossEntropyLoss

// NewCrossEntropyLoss creates a cross-entropy loss.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return nn.NewCrossEntropyLoss()
}

// Initialization

// Xavier samples U(-√(6/(fanIn+fanOut)), √(6/(fanIn+fanOut))).
func Xavier(fanIn, fanOut int, shape tensor.Shape, src rand.Source) *tensor.Tensor {
	return nn.Xavier(fanIn, fanOut, shape, src)
}

// Randn samples N(0, 1).
func Randn(shape tensor.Shape, src rand.Source) *tensor.Tensor {
	return nn.Randn(shape, src)
}

// CountParameters sums the element counts of params.
func CountParameters(params []*Parameter) int {
	return nn.CountParameters(params)
}
