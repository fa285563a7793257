// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers the classifier is built from.
//
// # Overview
//
// This package contains:
//   - Layers: Linear (with an optional weight transform), ReLU
//   - Loss functions: CrossEntropyLoss
//   - Utilities: Module interface, Parameter, WeightTransform
//   - Initialization: Xavier, Randn
//
// Every module implements an explicit Backward pass. Parameters with
// RequiresGrad() == false never receive gradients, which is how base weights
// are frozen while adapters train.
//
// # Weight transforms
//
// A Linear layer reads its weight through an optional WeightTransform. The
// lora package provides one:
//
//	layer := nn.NewLinear("linear1", 784, 1000, rand.NewPCG(1, 2))
//	adapter, _ := lora.ForWeight(layer.Weight().Tensor(), lora.DefaultConfig())
//	_ = layer.SetWeightTransform(adapter)
package nn
