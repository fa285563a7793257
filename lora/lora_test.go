// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package lora_test

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-lora/lora"
	"github.com/born-ml/born-lora/nn"
	"github.com/born-ml/born-lora/tensor"
)

func TestAdapterOnLinear(t *testing.T) {
	layer := nn.NewLinear("fc", 6, 4, rand.NewPCG(1, 1))
	adapter, err := lora.ForWeight(layer.Weight().Tensor(), lora.Config{Rank: 2, Alpha: 4, Source: rand.NewPCG(2, 2)})
	require.NoError(t, err)
	require.NoError(t, layer.SetWeightTransform(adapter))
	assert.True(t, errors.Is(layer.SetWeightTransform(adapter), nn.ErrTransformAttached))

	set := lora.NewSet()
	require.NoError(t, set.Add("fc", adapter))
	assert.Equal(t, 2*6+4*2, set.NumParameters())

	adapter.B().Tensor().Fill(1)
	w, err := layer.EffectiveWeight()
	require.NoError(t, err)
	assert.False(t, w.Equal(layer.Weight().Tensor()))

	set.SetEnabled(false)
	w, err = layer.EffectiveWeight()
	require.NoError(t, err)
	assert.Same(t, layer.Weight().Tensor(), w)
}

func TestErrors(t *testing.T) {
	_, err := lora.NewAdapter(4, 4, lora.Config{Rank: 0, Alpha: 1})
	assert.True(t, errors.Is(err, lora.ErrInvalidDimension))

	adapter, err := lora.NewAdapter(2, 2, lora.DefaultConfig())
	require.NoError(t, err)
	_, err = adapter.Apply(tensor.Zeros(tensor.Shape{3, 3}))
	assert.True(t, errors.Is(err, lora.ErrDimensionMismatch))
}
