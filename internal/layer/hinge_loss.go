package layer

import (
	"math"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

func init() {
	Register("HingeLoss", func(param config.LayerParameter) Impl {
		return &HingeLoss{param: param.HingeLoss}
	})
}

// HingeLoss computes, for inputs x of N samples,
//
//	t = max(0, x + offset)
//	L1: loss = Σ|t| / N
//	L2: loss = Σt² / N
//
// The inputs are expected to already carry the label sign. The top is a
// 0-axis scalar.
type HingeLoss struct {
	param config.HingeLossParameter
	temp  *tensor.Tensor
}

// Arity implements ArityReporter.
func (l *HingeLoss) Arity() Arity { return Exact(1, 1) }

// IsLoss implements Loss.
func (l *HingeLoss) IsLoss() bool { return true }

// Configure implements Impl.
func (l *HingeLoss) Configure(_ *Context, bottom, _ []*tensor.Tensor) {
	switch l.param.Norm {
	case config.L1, config.L2:
	default:
		panic(errors.Errorf("HingeLoss: unknown norm %q", l.param.Norm))
	}
	if bottom[0].NumAxes() < 1 {
		panic(errors.Errorf("HingeLoss: input needs a sample axis, got %s", bottom[0]))
	}
	l.temp = tensor.New(nil)
}

// Reshape implements Impl.
func (l *HingeLoss) Reshape(bottom, top []*tensor.Tensor) {
	top[0].Reshape()
	l.temp.ReshapeLike(bottom[0])
}

// Forward implements Impl.
func (l *HingeLoss) Forward(_ *Context, bottom, top []*tensor.Tensor) {
	x := bottom[0].HostData()
	temp := l.temp.MutableHostData()
	for i, v := range x {
		temp[i] = math.Max(0, v+l.param.Offset)
	}

	num := float64(bottom[0].ShapeAt(0))
	loss := top[0].MutableHostData()
	if l.param.Norm == config.L1 {
		loss[0] = cpu.Asum(temp) / num
	} else {
		loss[0] = cpu.Sumsq(temp) / num
	}
}

// Backward implements Impl.
func (l *HingeLoss) Backward(_ *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if !propagateDown[0] {
		return
	}
	num := float64(bottom[0].ShapeAt(0))
	weight := top[0].HostDiff()[0]
	temp := l.temp.HostData()
	diff := bottom[0].MutableHostDiff()
	if l.param.Norm == config.L1 {
		cpu.Sign(diff, temp)
		cpu.Scal(weight/num, diff)
		return
	}
	cpu.Copy(diff, temp)
	cpu.Scal(2*weight/num, diff)
}
