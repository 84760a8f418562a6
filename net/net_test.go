// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package net_test

import (
	"testing"

	"github.com/born-ml/brew/layer"
	"github.com/born-ml/brew/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicNet(t *testing.T) {
	param, err := net.Parse([]byte(`
name: tiny
inputs:
  - {name: data, shape: [4, 3], filler: {type: gaussian}}
layers:
  - name: ip
    type: InnerProduct
    bottom: [data]
    top: [ip]
    inner_product_param: {num_output: 2, weight_filler: {type: xavier}}
  - {name: loss, type: HingeLoss, bottom: [ip], top: [loss]}
`))
	require.NoError(t, err)

	ctx := layer.NewContext(1701)
	n, err := net.New(param, ctx)
	require.NoError(t, err)
	defer func() { _ = n.Close() }()

	loss := n.ForwardBackward(ctx)
	assert.GreaterOrEqual(t, loss, 0.0)
	assert.Len(t, n.Params(), 2)

	_, err = net.Load("does-not-exist.yaml")
	assert.Error(t, err)
}
