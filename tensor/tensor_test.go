// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-lora/tensor"
)

func TestPublicAPI(t *testing.T) {
	y, err := tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{4, 1})
	require.NoError(t, err)

	z, err := tensor.MatMul(tensor.Eye(4), y)
	require.NoError(t, err)
	assert.True(t, z.Equal(y))

	_, err = tensor.New(tensor.Shape{0, 3})
	assert.Error(t, err)
	assert.Equal(t, []float32{2, 2}, tensor.Full(tensor.Shape{2}, 2).Data())
}
