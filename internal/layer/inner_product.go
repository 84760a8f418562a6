package layer

import (
	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/filler"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

func init() {
	Register("InnerProduct", func(param config.LayerParameter) Impl {
		return &InnerProduct{param: param.InnerProduct}
	})
}

// InnerProduct is a fully connected layer: y = x Wᵀ + b.
//
// Axes before Axis index independent samples (M); the remaining axes are
// flattened into the input vector (K). W has shape (NumOutput, K) and b
// has shape (NumOutput). The top has the leading axes of the input
// followed by NumOutput.
type InnerProduct struct {
	ParamSet
	param   config.InnerProductParameter
	m, k, n int
	ones    []float64
}

// Arity implements ArityReporter.
func (l *InnerProduct) Arity() Arity { return Exact(1, 1) }

// Configure implements Impl.
func (l *InnerProduct) Configure(ctx *Context, bottom, _ []*tensor.Tensor) {
	if l.param.NumOutput <= 0 {
		panic(errors.Errorf("InnerProduct: num_output must be positive, got %d", l.param.NumOutput))
	}
	axis := bottom[0].CanonicalAxisIndex(l.param.Axis)
	l.n = l.param.NumOutput
	l.k = bottom[0].CountFrom(axis)

	weight := tensor.New(nil, l.n, l.k)
	filler.New(l.param.WeightFiller, ctx.Rand).Fill(weight)
	l.AddParam(weight)
	if l.param.BiasTerm {
		bias := tensor.New(nil, l.n)
		filler.New(l.param.BiasFiller, ctx.Rand).Fill(bias)
		l.AddParam(bias)
	}
}

// Reshape implements Impl.
func (l *InnerProduct) Reshape(bottom, top []*tensor.Tensor) {
	axis := bottom[0].CanonicalAxisIndex(l.param.Axis)
	if k := bottom[0].CountFrom(axis); k != l.k {
		panic(errors.Errorf("InnerProduct: input size %d does not match weight size %d", k, l.k))
	}
	l.m = bottom[0].CountRange(0, axis)

	shape := append(bottom[0].Shape()[:axis:axis], l.n)
	top[0].Reshape(shape...)

	if len(l.ones) != l.m {
		l.ones = make([]float64, l.m)
		cpu.Set(1, l.ones)
	}
}

// Forward implements Impl.
func (l *InnerProduct) Forward(_ *Context, bottom, top []*tensor.Tensor) {
	x := bottom[0].HostData()
	y := top[0].MutableHostData()
	w := l.blobs[0].HostData()
	cpu.Gemm(false, true, l.m, l.n, l.k, 1, x, w, 0, y)
	if l.param.BiasTerm {
		// y += 1 · bᵀ
		cpu.Gemm(false, false, l.m, l.n, 1, 1, l.ones, l.blobs[1].HostData(), 1, y)
	}
}

// Backward implements Impl.
func (l *InnerProduct) Backward(_ *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	dy := top[0].HostDiff()
	if l.ParamPropagateDown(0) {
		// dW += dyᵀ x
		cpu.Gemm(true, false, l.n, l.k, l.m, 1, dy, bottom[0].HostData(), 1, l.blobs[0].MutableHostDiff())
	}
	if l.param.BiasTerm && l.ParamPropagateDown(1) {
		// db += dyᵀ 1
		cpu.Gemv(true, l.m, l.n, 1, dy, l.ones, 1, l.blobs[1].MutableHostDiff())
	}
	if propagateDown[0] {
		// dx = dy W
		cpu.Gemm(false, false, l.m, l.k, l.n, 1, dy, l.blobs[0].HostData(), 0, bottom[0].MutableHostDiff())
	}
}
