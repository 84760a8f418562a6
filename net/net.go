// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package net provides the public net executor of brew.
//
// A net is built from a YAML configuration naming its inputs and an
// ordered list of layers wired by blob name:
//
//	name: tiny
//	inputs:
//	  - {name: data, shape: [4, 3], filler: {type: gaussian}}
//	layers:
//	  - name: ip
//	    type: InnerProduct
//	    bottom: [data]
//	    top: [ip]
//	    inner_product_param: {num_output: 2, weight_filler: {type: xavier}}
//	  - {name: loss, type: HingeLoss, bottom: [ip], top: [loss]}
//
// Example:
//
//	param, err := net.Load("tiny.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx := layer.NewContext(1701)
//	n, err := net.New(param, ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Close()
//	loss := n.ForwardBackward(ctx)
package net

import (
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/net"
)

// Net is an initialized network.
type Net = net.Net

// Parameter is the configuration of a net.
type Parameter = config.NetParameter

// Load reads a net configuration from a YAML file.
func Load(path string) (*Parameter, error) {
	return config.Load(path)
}

// Parse decodes a net configuration from YAML bytes.
func Parse(data []byte) (*Parameter, error) {
	return config.Parse(data)
}

// New builds and sets up a net. Configuration and shape errors are
// returned, never panicked.
func New(param *Parameter, ctx *layer.Context) (*Net, error) {
	return net.New(param, ctx)
}
