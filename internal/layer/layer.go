// Package layer implements the layer abstraction and its concrete variants.
//
// A layer is split in two:
//   - Impl: the variant-specific computation (Configure, Reshape, Forward,
//     Backward), plus optional capabilities discovered by type assertion
//   - Layer: the wrapper every caller uses; it enforces the lifecycle,
//     the bottom/top arity, loss weights and parameter propagate flags
//
// Lifecycle:
//
//	Unconfigured --Configure--> Configured --Reshape--> Shaped --Forward--> Ready
//	                                                      ^                   |
//	                                                      +-----Reshape-------+
//
// Variants register themselves by type name; New resolves a
// config.LayerParameter through that registry.
//
// Shape and configuration errors are fatal and panic. Parameter gradients
// accumulate across Backward calls; input gradients are overwritten.
package layer

import (
	"fmt"
	"io"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

// Impl is the computation of one layer variant.
type Impl interface {
	// Configure runs once: validate configuration, allocate and fill
	// parameters.
	Configure(ctx *Context, bottom, top []*tensor.Tensor)

	// Reshape sizes the tops and any scratch tensors from the bottom
	// shapes. It must be idempotent.
	Reshape(bottom, top []*tensor.Tensor)

	// Forward computes top values from bottom values.
	Forward(ctx *Context, bottom, top []*tensor.Tensor)

	// Backward computes bottom gradients for every bottom whose
	// propagateDown flag is set, and accumulates parameter gradients.
	Backward(ctx *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor)
}

// DeviceImpl is implemented by variants with accelerator kernels. Without
// it the host path runs in every mode, syncing buffers as needed.
type DeviceImpl interface {
	ForwardDevice(ctx *Context, bottom, top []*tensor.Tensor)
	BackwardDevice(ctx *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor)
}

// ParamOwner is implemented by variants with learnable parameters.
// Embedding ParamSet provides it.
type ParamOwner interface {
	Params() []*tensor.Tensor
	ParamPropagateDown(i int) bool
	SetParamPropagateDown(i int, v bool)
}

// Arity bounds the number of bottoms and tops. A negative maximum means
// unbounded.
type Arity struct {
	MinBottom, MaxBottom int
	MinTop, MaxTop       int
}

// Exact returns an Arity with fixed counts.
func Exact(bottoms, tops int) Arity {
	return Arity{MinBottom: bottoms, MaxBottom: bottoms, MinTop: tops, MaxTop: tops}
}

// ArityReporter is implemented by variants that constrain their arity.
type ArityReporter interface {
	Arity() Arity
}

// Loss is implemented by variants whose first top is an objective. Such
// layers default to a loss weight of 1 on top 0.
type Loss interface {
	IsLoss() bool
}

// InPlaceChecker is implemented by variants that accept top[i] ==
// bottom[i]. Others panic at SetUp when handed aliased tensors.
type InPlaceChecker interface {
	AllowInPlace() bool
}

// ForceBackwardChecker is implemented by variants with bottoms that can
// never receive a gradient, such as indicator inputs.
type ForceBackwardChecker interface {
	AllowForceBackward(bottom int) bool
}

// Stateful is implemented by variants that carry state from one Forward
// call to the next.
type Stateful interface {
	ResetState()
}

// State is a position in the layer lifecycle.
type State int

// Lifecycle states.
const (
	Unconfigured State = iota
	Configured
	Shaped
	Ready
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "UNCONFIGURED"
	case Configured:
		return "CONFIGURED"
	case Shaped:
		return "SHAPED"
	case Ready:
		return "READY"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Layer wraps an Impl with lifecycle and bookkeeping.
type Layer struct {
	param       config.LayerParameter
	impl        Impl
	state       State
	numBottom   int
	numTop      int
	lossWeights []float64
}

// Wrap builds a Layer around impl without going through the registry.
func Wrap(param config.LayerParameter, impl Impl) *Layer {
	return &Layer{param: param, impl: impl}
}

// Name returns the configured layer name.
func (l *Layer) Name() string { return l.param.Name }

// Type returns the configured layer type.
func (l *Layer) Type() string { return l.param.Type }

// Param returns the layer configuration.
func (l *Layer) Param() config.LayerParameter { return l.param }

// Impl returns the wrapped variant.
func (l *Layer) Impl() Impl { return l.impl }

// State returns the lifecycle state.
func (l *Layer) State() State { return l.state }

// SetUp configures the layer and shapes its tops. It may be called once.
func (l *Layer) SetUp(ctx *Context, bottom, top []*tensor.Tensor) {
	if l.state != Unconfigured {
		panic(errors.Errorf("layer %s: SetUp called in state %s", l.Name(), l.state))
	}
	l.checkArity(bottom, top)
	l.checkInPlace(bottom, top)
	l.numBottom, l.numTop = len(bottom), len(top)

	l.impl.Configure(ctx, bottom, top)
	l.applyParamPropagateDown()
	l.state = Configured

	l.Reshape(bottom, top)
	l.setLossWeights(top)
}

// Reshape re-sizes tops and scratch tensors after a bottom shape change.
func (l *Layer) Reshape(bottom, top []*tensor.Tensor) {
	if l.state == Unconfigured {
		panic(errors.Errorf("layer %s: Reshape before SetUp", l.Name()))
	}
	l.checkCounts(bottom, top)
	l.impl.Reshape(bottom, top)
	l.state = Shaped
}

// Forward computes the tops and returns the weighted loss: the sum over
// tops with a non-zero loss weight w of w times the sum of the top values.
func (l *Layer) Forward(ctx *Context, bottom, top []*tensor.Tensor) float64 {
	if l.state < Shaped {
		panic(errors.Errorf("layer %s: Forward in state %s", l.Name(), l.state))
	}
	l.checkCounts(bottom, top)
	if d, ok := l.impl.(DeviceImpl); ok && ctx.UseDevice() {
		d.ForwardDevice(ctx, bottom, top)
	} else {
		l.impl.Forward(ctx, bottom, top)
	}
	l.state = Ready

	loss := 0.0
	for i, w := range l.lossWeights {
		if w == 0 {
			continue
		}
		cpu.Set(w, top[i].MutableHostDiff())
		loss += cpu.Dot(top[i].HostData(), top[i].HostDiff())
	}
	return loss
}

// Backward propagates top gradients. propagateDown has one flag per
// bottom; a nil slice means all true.
func (l *Layer) Backward(ctx *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if l.state != Ready {
		panic(errors.Errorf("layer %s: Backward in state %s", l.Name(), l.state))
	}
	l.checkCounts(bottom, top)
	if propagateDown == nil {
		propagateDown = make([]bool, len(bottom))
		for i := range propagateDown {
			propagateDown[i] = true
		}
	}
	if len(propagateDown) != len(bottom) {
		panic(errors.Errorf("layer %s: %d propagate flags for %d bottoms", l.Name(), len(propagateDown), len(bottom)))
	}
	if d, ok := l.impl.(DeviceImpl); ok && ctx.UseDevice() {
		d.BackwardDevice(ctx, top, propagateDown, bottom)
		return
	}
	l.impl.Backward(ctx, top, propagateDown, bottom)
}

// Params returns the learnable tensors, or nil.
func (l *Layer) Params() []*tensor.Tensor {
	if p, ok := l.impl.(ParamOwner); ok {
		return p.Params()
	}
	return nil
}

// ParamPropagateDown reports whether parameter i receives gradients.
func (l *Layer) ParamPropagateDown(i int) bool {
	if p, ok := l.impl.(ParamOwner); ok {
		return p.ParamPropagateDown(i)
	}
	return false
}

// SetParamPropagateDown freezes (false) or unfreezes parameter i.
func (l *Layer) SetParamPropagateDown(i int, v bool) {
	if p, ok := l.impl.(ParamOwner); ok {
		p.SetParamPropagateDown(i, v)
	}
}

// LossWeight returns the loss weight of top i.
func (l *Layer) LossWeight(i int) float64 {
	if i < 0 || i >= len(l.lossWeights) {
		return 0
	}
	return l.lossWeights[i]
}

// IsLoss reports whether the variant is a loss layer.
func (l *Layer) IsLoss() bool {
	lo, ok := l.impl.(Loss)
	return ok && lo.IsLoss()
}

// AllowInPlace reports whether the variant accepts aliased tops.
func (l *Layer) AllowInPlace() bool {
	ip, ok := l.impl.(InPlaceChecker)
	return ok && ip.AllowInPlace()
}

// AllowForceBackward reports whether a net configured with
// force_backward may request a gradient for bottom i.
func (l *Layer) AllowForceBackward(i int) bool {
	if f, ok := l.impl.(ForceBackwardChecker); ok {
		return f.AllowForceBackward(i)
	}
	return true
}

// ResetState clears state carried between Forward calls, if any.
func (l *Layer) ResetState() {
	if st, ok := l.impl.(Stateful); ok {
		st.ResetState()
	}
}

// Close releases resources held by the variant, such as open files.
func (l *Layer) Close() error {
	if c, ok := l.impl.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (l *Layer) checkArity(bottom, top []*tensor.Tensor) {
	r, ok := l.impl.(ArityReporter)
	if !ok {
		return
	}
	a := r.Arity()
	if len(bottom) < a.MinBottom || (a.MaxBottom >= 0 && len(bottom) > a.MaxBottom) {
		panic(errors.Errorf("layer %s (%s): got %d bottoms, want %s", l.Name(), l.Type(), len(bottom), bounds(a.MinBottom, a.MaxBottom)))
	}
	if len(top) < a.MinTop || (a.MaxTop >= 0 && len(top) > a.MaxTop) {
		panic(errors.Errorf("layer %s (%s): got %d tops, want %s", l.Name(), l.Type(), len(top), bounds(a.MinTop, a.MaxTop)))
	}
}

func bounds(lo, hi int) string {
	switch {
	case lo == hi:
		return fmt.Sprintf("exactly %d", lo)
	case hi < 0:
		return fmt.Sprintf("at least %d", lo)
	default:
		return fmt.Sprintf("between %d and %d", lo, hi)
	}
}

func (l *Layer) checkInPlace(bottom, top []*tensor.Tensor) {
	if l.AllowInPlace() {
		return
	}
	for _, b := range bottom {
		for _, t := range top {
			if b == t {
				panic(errors.Errorf("layer %s (%s) does not support in-place computation", l.Name(), l.Type()))
			}
		}
	}
}

func (l *Layer) checkCounts(bottom, top []*tensor.Tensor) {
	if len(bottom) != l.numBottom || len(top) != l.numTop {
		panic(errors.Errorf("layer %s: set up with %d bottoms and %d tops, called with %d and %d",
			l.Name(), l.numBottom, l.numTop, len(bottom), len(top)))
	}
}

func (l *Layer) applyParamPropagateDown() {
	p, ok := l.impl.(ParamOwner)
	if !ok {
		return
	}
	flags := l.param.ParamPropagateDown
	if len(flags) > len(p.Params()) {
		panic(errors.Errorf("layer %s: %d param_propagate_down flags for %d parameters", l.Name(), len(flags), len(p.Params())))
	}
	for i, v := range flags {
		p.SetParamPropagateDown(i, v)
	}
}

func (l *Layer) setLossWeights(top []*tensor.Tensor) {
	l.lossWeights = make([]float64, len(top))
	weights := l.param.LossWeight
	if len(weights) == 0 {
		if l.IsLoss() && len(top) > 0 {
			l.lossWeights[0] = 1
		}
		return
	}
	if len(weights) != len(top) {
		panic(errors.Errorf("layer %s: %d loss weights for %d tops", l.Name(), len(weights), len(top)))
	}
	copy(l.lossWeights, weights)
}

// ParamSet holds a variant's learnable tensors and their propagate flags.
// Variants embed it to implement ParamOwner.
type ParamSet struct {
	blobs     []*tensor.Tensor
	propagate []bool
}

// AddParam appends a learnable tensor, propagating by default.
func (p *ParamSet) AddParam(t *tensor.Tensor) {
	p.blobs = append(p.blobs, t)
	p.propagate = append(p.propagate, true)
}

// Params returns the learnable tensors.
func (p *ParamSet) Params() []*tensor.Tensor {
	return p.blobs
}

// ParamPropagateDown reports whether parameter i receives gradients.
func (p *ParamSet) ParamPropagateDown(i int) bool {
	if i < 0 || i >= len(p.propagate) {
		return false
	}
	return p.propagate[i]
}

// SetParamPropagateDown sets the propagate flag of parameter i.
func (p *ParamSet) SetParamPropagateDown(i int, v bool) {
	if i < 0 || i >= len(p.propagate) {
		panic(errors.Errorf("layer: parameter index %d out of range [0, %d)", i, len(p.propagate)))
	}
	p.propagate[i] = v
}
