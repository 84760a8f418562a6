// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor_test

import (
	"testing"

	"github.com/born-ml/brew/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicTensor(t *testing.T) {
	x := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	assert.Equal(t, tensor.Shape{2, 3}, x.Shape())
	assert.Equal(t, 6.0, x.At(1, 2))

	x.Reshape(3, 2)
	assert.Equal(t, 6.0, x.At(2, 1))

	y := tensor.New(nil, 4)
	require.Equal(t, 4, y.Count())
	assert.Equal(t, 0.0, y.AsumData())
	assert.Equal(t, "accelerator", tensor.Accelerator.String())
}
