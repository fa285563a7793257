// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package lora provides low-rank adapters for linear layer weights.
//
// An adapter holds two factors, A (rank × featuresOut) drawn from N(0, 1) and
// B (featuresIn × rank) starting at zero, and rewrites a weight as
//
//	W_eff = W + (alpha / rank) · (B @ A)
//
// Attached to an nn.Linear through SetWeightTransform, it lets a frozen
// layer be fine-tuned by training only A and B.
//
// Example:
//
//	layer := nn.NewLinear("fc", 784, 1000, rand.NewPCG(1, 2))
//	adapter, err := lora.ForWeight(layer.Weight().Tensor(), lora.Config{Rank: 4, Alpha: 8})
//	if err != nil {
//	    return err
//	}
//	_ = layer.SetWeightTransform(adapter)
//	layer.Weight().SetRequiresGrad(false)
//
//	set := lora.NewSet()
//	_ = set.Add("fc", adapter)
//	set.SetEnabled(false) // the layer now behaves exactly as before
package lora

import (
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Adapter is a low-rank update of one weight matrix.
type Adapter = lora.Adapter

// Config controls adapter construction.
type Config = lora.Config

// Set is a caller-owned collection of named adapters.
type Set = lora.Set

// Errors returned by adapter construction and application.
var (
	ErrInvalidDimension  = lora.ErrInvalidDimension
	ErrDimensionMismatch = lora.ErrDimensionMismatch
)

// DefaultConfig returns rank 1, alpha 1.
func DefaultConfig() Config {
	return lora.DefaultConfig()
}

// NewAdapter creates an adapter for a (featuresIn × featuresOut) weight.
func NewAdapter(featuresIn, featuresOut int, cfg Config) (*Adapter, error) {
	return lora.NewAdapter(featuresIn, featuresOut, cfg)
}

// ForWeight sizes an adapter from a 2D weight's shape.
func ForWeight(weight *tensor.Tensor, cfg Config) (*Adapter, error) {
	return lora.ForWeight(weight, cfg)
}

// NewSet creates an empty adapter set.
func NewSet() *Set {
	return lora.NewSet()
}
