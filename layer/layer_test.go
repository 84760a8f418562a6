// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package layer_test

import (
	"testing"

	"github.com/born-ml/brew/layer"
	"github.com/born-ml/brew/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicLayer(t *testing.T) {
	assert.Contains(t, layer.Types(), "InnerProduct")

	p := layer.DefaultParameter()
	p.Name, p.Type = "act", "TanH"
	l, err := layer.New(p)
	require.NoError(t, err)
	assert.Equal(t, layer.Unconfigured, l.State())

	ctx := layer.NewContext(1701)
	assert.Equal(t, layer.Train, ctx.Phase)
	bottom := []*tensor.Tensor{tensor.FromSlice([]float64{0, 0}, 2)}
	top := []*tensor.Tensor{tensor.New(nil)}
	l.SetUp(ctx, bottom, top)
	l.Forward(ctx, bottom, top)
	assert.Equal(t, layer.Ready, l.State())
	assert.Equal(t, []float64{0, 0}, top[0].HostData())
}
