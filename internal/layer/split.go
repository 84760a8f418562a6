package layer

import (
	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
)

func init() {
	Register("Split", func(config.LayerParameter) Impl { return &Split{} })
}

// Split copies one bottom into several tops and sums their gradients on
// the way back. The net inserts it wherever a blob feeds more than one
// layer, so each consumer writes its own gradient.
type Split struct{}

// Arity implements ArityReporter.
func (l *Split) Arity() Arity {
	return Arity{MinBottom: 1, MaxBottom: 1, MinTop: 1, MaxTop: -1}
}

// Configure implements Impl.
func (l *Split) Configure(_ *Context, _, _ []*tensor.Tensor) {}

// Reshape implements Impl.
func (l *Split) Reshape(bottom, top []*tensor.Tensor) {
	for _, t := range top {
		t.ReshapeLike(bottom[0])
	}
}

// Forward implements Impl.
func (l *Split) Forward(_ *Context, bottom, top []*tensor.Tensor) {
	x := bottom[0].HostData()
	for _, t := range top {
		cpu.Copy(t.MutableHostData(), x)
	}
}

// Backward implements Impl.
func (l *Split) Backward(_ *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if !propagateDown[0] {
		return
	}
	dx := bottom[0].MutableHostDiff()
	cpu.Copy(dx, top[0].HostDiff())
	for _, t := range top[1:] {
		cpu.Axpy(1, t.HostDiff(), dx)
	}
}
