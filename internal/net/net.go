// Package net assembles layers into a directed acyclic graph of named
// blobs and runs forward and backward passes over it.
//
// Layers execute in declaration order, which must be topological: every
// bottom is either a net input or a top of an earlier layer. A layer may
// name a bottom as one of its tops to compute in place. Blobs read by
// more than one layer are routed through automatically inserted Split
// layers so their gradients sum.
package net

import (
	"fmt"
	"slices"
	"strings"

	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/filler"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Net is an initialized network.
type Net struct {
	name string

	layers      []*layer.Layer
	layerByName map[string]int
	bottoms     [][]*tensor.Tensor
	tops        [][]*tensor.Tensor

	blobs     []*tensor.Tensor
	blobNames []string
	blobIndex map[string]int
	inputs    []int

	layerNeedBackward  []bool
	bottomNeedBackward [][]bool

	params []*tensor.Tensor
}

// New builds a net from param: it creates and fills the inputs, resolves
// every layer through the registry and sets it up. Configuration and shape
// errors raised while setting up layers are returned as errors.
func New(param *config.NetParameter, ctx *layer.Context) (n *Net, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(error)
			if !ok {
				e = errors.Errorf("%v", r)
			}
			n, err = nil, errors.Wrapf(e, "net %s", param.Name)
		}
	}()

	n = &Net{
		name:        param.Name,
		layerByName: make(map[string]int),
		blobIndex:   make(map[string]int),
	}
	// blobNeedBackward is indexed like n.blobs.
	var blobNeedBackward []bool

	for _, in := range param.Inputs {
		if _, dup := n.blobIndex[in.Name]; dup {
			return nil, errors.Errorf("net %s: input %q declared twice", param.Name, in.Name)
		}
		if err := tensor.Shape(in.Shape).Validate(); err != nil {
			return nil, errors.Wrapf(err, "net %s: input %q", param.Name, in.Name)
		}
		t := tensor.New(ctx.Device, in.Shape...)
		filler.New(in.Filler, ctx.Rand).Fill(t)
		n.inputs = append(n.inputs, n.addBlob(in.Name, t))
		blobNeedBackward = append(blobNeedBackward, false)
		klog.V(1).Infof("Input %s: %s", in.Name, t.Shape())
	}

	for _, lp := range insertSplits(param.Inputs, param.Layers, lossWeightOf) {
		if lp.Name == "" {
			return nil, errors.Errorf("net %s: layer %d has no name", param.Name, len(n.layers))
		}
		if _, dup := n.layerByName[lp.Name]; dup {
			return nil, errors.Errorf("net %s: layer %q declared twice", param.Name, lp.Name)
		}
		l, err := layer.New(lp)
		if err != nil {
			return nil, errors.Wrapf(err, "net %s", param.Name)
		}
		if len(lp.PropagateDown) != 0 && len(lp.PropagateDown) != len(lp.Bottom) {
			return nil, errors.Errorf("layer %s: %d propagate_down flags for %d bottoms",
				lp.Name, len(lp.PropagateDown), len(lp.Bottom))
		}

		bottom := make([]*tensor.Tensor, len(lp.Bottom))
		bottomIDs := make([]int, len(lp.Bottom))
		for i, name := range lp.Bottom {
			id, ok := n.blobIndex[name]
			if !ok {
				return nil, errors.Errorf("layer %s: unknown bottom blob %q (bottoms must be inputs or tops of earlier layers)",
					lp.Name, name)
			}
			bottom[i], bottomIDs[i] = n.blobs[id], id
		}

		top := make([]*tensor.Tensor, len(lp.Top))
		topIDs := make([]int, len(lp.Top))
		for i, name := range lp.Top {
			if id, ok := n.blobIndex[name]; ok {
				if !slices.Contains(lp.Bottom, name) {
					return nil, errors.Errorf("layer %s: top blob %q is produced by more than one layer", lp.Name, name)
				}
				top[i], topIDs[i] = n.blobs[id], id
				continue
			}
			id := n.addBlob(name, tensor.New(ctx.Device))
			blobNeedBackward = append(blobNeedBackward, false)
			top[i], topIDs[i] = n.blobs[id], id
		}

		klog.V(1).Infof("Creating layer %s (%s)", lp.Name, lp.Type)
		l.SetUp(ctx, bottom, top)
		for i, t := range top {
			klog.V(1).Infof("Top shape %s: %s", lp.Top[i], t.Shape())
			if w := l.LossWeight(i); w != 0 {
				klog.V(1).Infof("    with loss weight %g", w)
			}
		}

		needBackward := false
		bottomNeed := make([]bool, len(bottom))
		for i, id := range bottomIDs {
			propagate := len(lp.PropagateDown) == 0 || lp.PropagateDown[i]
			bottomNeed[i] = blobNeedBackward[id] && propagate
			needBackward = needBackward || blobNeedBackward[id]
		}
		for i, p := range l.Params() {
			if l.ParamPropagateDown(i) {
				needBackward = true
			}
			n.params = append(n.params, p)
		}
		for _, id := range topIDs {
			blobNeedBackward[id] = needBackward
		}

		n.layerByName[lp.Name] = len(n.layers)
		n.layers = append(n.layers, l)
		n.bottoms = append(n.bottoms, bottom)
		n.tops = append(n.tops, top)
		n.layerNeedBackward = append(n.layerNeedBackward, needBackward)
		n.bottomNeedBackward = append(n.bottomNeedBackward, bottomNeed)
	}

	n.pruneBackward(param.ForceBackward)
	for i, l := range n.layers {
		if n.layerNeedBackward[i] {
			klog.V(1).Infof("%s needs backward computation", l.Name())
		} else {
			klog.V(1).Infof("%s does not need backward computation", l.Name())
		}
	}
	klog.V(1).Infof("Network %s initialized with %d layers", n.name, len(n.layers))
	return n, nil
}

// pruneBackward walks the layers in reverse and disables backward for
// layers that cannot reach a loss, then applies force_backward.
func (n *Net) pruneBackward(force bool) {
	underLoss := make(map[*tensor.Tensor]bool)
	skip := make(map[*tensor.Tensor]bool)
	for i := len(n.layers) - 1; i >= 0; i-- {
		l := n.layers[i]
		contributes := false
		skipPropagate := true
		for j, t := range n.tops[i] {
			if l.LossWeight(j) != 0 || underLoss[t] {
				contributes = true
			}
			if !skip[t] {
				skipPropagate = false
			}
		}
		if n.layerNeedBackward[i] && skipPropagate {
			n.layerNeedBackward[i] = false
			for j := range n.bottomNeedBackward[i] {
				n.bottomNeedBackward[i][j] = false
			}
		}
		if !contributes {
			n.layerNeedBackward[i] = false
		}
		for j, b := range n.bottoms[i] {
			if contributes {
				underLoss[b] = true
			} else {
				n.bottomNeedBackward[i][j] = false
			}
			if !n.bottomNeedBackward[i][j] {
				skip[b] = true
			}
		}
	}

	if !force {
		return
	}
	for i, l := range n.layers {
		n.layerNeedBackward[i] = true
		propagate := l.Param().PropagateDown
		for j := range n.bottomNeedBackward[i] {
			allowed := l.AllowForceBackward(j) && (len(propagate) == 0 || propagate[j])
			n.bottomNeedBackward[i][j] = n.bottomNeedBackward[i][j] || allowed
		}
	}
}

// lossWeightOf returns the loss weight top t of lp will get at SetUp: the
// configured weight, or 1 on top 0 of a loss variant. A weight list whose
// length does not match the tops yields 0 here and fails at SetUp.
func lossWeightOf(lp config.LayerParameter, t int) float64 {
	if len(lp.LossWeight) > 0 {
		if len(lp.LossWeight) != len(lp.Top) {
			return 0
		}
		return lp.LossWeight[t]
	}
	if t != 0 {
		return 0
	}
	l, err := layer.New(lp)
	if err != nil || !l.IsLoss() {
		return 0
	}
	return 1
}

func (n *Net) addBlob(name string, t *tensor.Tensor) int {
	id := len(n.blobs)
	n.blobs = append(n.blobs, t)
	n.blobNames = append(n.blobNames, name)
	n.blobIndex[name] = id
	return id
}

// Name returns the configured net name.
func (n *Net) Name() string { return n.name }

// Forward reshapes and runs every layer in order, returning the sum of the
// weighted losses.
func (n *Net) Forward(ctx *layer.Context) float64 {
	loss := 0.0
	for i, l := range n.layers {
		l.Reshape(n.bottoms[i], n.tops[i])
		loss += l.Forward(ctx, n.bottoms[i], n.tops[i])
	}
	return loss
}

// Backward runs every layer that needs it in reverse order. Parameter
// gradients accumulate; call ClearParamDiffs between iterations.
func (n *Net) Backward(ctx *layer.Context) {
	for i := len(n.layers) - 1; i >= 0; i-- {
		if n.layerNeedBackward[i] {
			n.layers[i].Backward(ctx, n.tops[i], n.bottomNeedBackward[i], n.bottoms[i])
		}
	}
}

// ForwardBackward runs Forward then Backward and returns the loss.
func (n *Net) ForwardBackward(ctx *layer.Context) float64 {
	loss := n.Forward(ctx)
	n.Backward(ctx)
	return loss
}

// ClearParamDiffs zeroes every parameter gradient.
func (n *Net) ClearParamDiffs() {
	for _, p := range n.params {
		p.SetDiffZero()
	}
}

// Blob returns the tensor registered under name, or nil.
func (n *Net) Blob(name string) *tensor.Tensor {
	id, ok := n.blobIndex[name]
	if !ok {
		return nil
	}
	return n.blobs[id]
}

// BlobNames returns the blob names in creation order.
func (n *Net) BlobNames() []string { return n.blobNames }

// Inputs returns the input tensors in declaration order.
func (n *Net) Inputs() []*tensor.Tensor {
	out := make([]*tensor.Tensor, len(n.inputs))
	for i, id := range n.inputs {
		out[i] = n.blobs[id]
	}
	return out
}

// Layer returns the layer named name, or nil.
func (n *Net) Layer(name string) *layer.Layer {
	i, ok := n.layerByName[name]
	if !ok {
		return nil
	}
	return n.layers[i]
}

// Layers returns the layers in execution order, including inserted splits.
func (n *Net) Layers() []*layer.Layer { return n.layers }

// LayerBlobs returns the bottoms and tops wired to layer i.
func (n *Net) LayerBlobs(i int) (bottom, top []*tensor.Tensor) {
	return n.bottoms[i], n.tops[i]
}

// NeedsBackward reports whether layer i runs during Backward.
func (n *Net) NeedsBackward(i int) bool { return n.layerNeedBackward[i] }

// BottomNeedsBackward reports the propagate flags passed to layer i.
func (n *Net) BottomNeedsBackward(i int) []bool { return n.bottomNeedBackward[i] }

// Params returns every learnable tensor in layer order.
func (n *Net) Params() []*tensor.Tensor { return n.params }

// Close closes every layer, returning the first error.
func (n *Net) Close() error {
	var first error
	for _, l := range n.layers {
		if err := l.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close layer %s", l.Name())
		}
	}
	return first
}

// String lists the layers and their blobs.
func (n *Net) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "net %s", n.name)
	for i, l := range n.layers {
		fmt.Fprintf(&b, "\n  %s (%s): %d bottoms -> %d tops", l.Name(), l.Type(), len(n.bottoms[i]), len(n.tops[i]))
	}
	return b.String()
}
