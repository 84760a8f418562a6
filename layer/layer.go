// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layer provides the public layer API of brew.
//
// A layer turns bottom tensors into top tensors and, given gradients on its
// tops, computes gradients on its bottoms and learnable parameters. Layer
// variants register by type name; a net configuration picks them by that
// name.
//
// Example:
//
//	p := layer.DefaultParameter()
//	p.Name, p.Type = "act", "TanH"
//	l, err := layer.New(p)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx := layer.NewContext(1701)
//	l.SetUp(ctx, bottom, top)
//	l.Forward(ctx, bottom, top)
package layer

import (
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/layer"
)

// Layer wraps a variant with the shared lifecycle and bookkeeping.
type Layer = layer.Layer

// Impl is the computation of one layer variant.
type Impl = layer.Impl

// Constructor builds a variant from its configuration.
type Constructor = layer.Constructor

// Parameter is the configuration of one layer.
type Parameter = config.LayerParameter

// Context carries the execution settings shared by every layer call.
type Context = layer.Context

// Phase selects training or evaluation behavior.
type Phase = layer.Phase

// Phases.
const (
	Train Phase = layer.Train
	Test  Phase = layer.Test
)

// State is a position in the layer lifecycle.
type State = layer.State

// Lifecycle states.
const (
	Unconfigured State = layer.Unconfigured
	Configured   State = layer.Configured
	Shaped       State = layer.Shaped
	Ready        State = layer.Ready
)

// DefaultParameter returns a layer configuration with every default
// applied.
func DefaultParameter() Parameter {
	return config.DefaultLayerParameter()
}

// NewContext returns a host-mode training context seeded with seed.
func NewContext(seed int64) *Context {
	return layer.NewContext(seed)
}

// New instantiates the variant registered under param.Type.
func New(param Parameter) (*Layer, error) {
	return layer.New(param)
}

// Register adds a variant under typ. It panics if typ is taken.
func Register(typ string, c Constructor) {
	layer.Register(typ, c)
}

// Types returns the registered type names in sorted order.
func Types() []string {
	return layer.Types()
}
