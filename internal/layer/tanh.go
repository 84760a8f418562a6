package layer

import (
	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
)

func init() {
	newTanh := func(config.LayerParameter) Impl { return &Tanh{} }
	Register("TanH", newTanh)
	Register("Tanh", newTanh)
}

// Tanh applies y = tanh(x) elementwise.
type Tanh struct{}

// Arity implements ArityReporter.
func (l *Tanh) Arity() Arity { return Exact(1, 1) }

// AllowInPlace implements InPlaceChecker.
func (l *Tanh) AllowInPlace() bool { return true }

// Configure implements Impl.
func (l *Tanh) Configure(_ *Context, _, _ []*tensor.Tensor) {}

// Reshape implements Impl.
func (l *Tanh) Reshape(bottom, top []*tensor.Tensor) {
	if top[0] != bottom[0] {
		top[0].ReshapeLike(bottom[0])
	}
}

// Forward implements Impl.
func (l *Tanh) Forward(_ *Context, bottom, top []*tensor.Tensor) {
	cpu.Tanh(top[0].MutableHostData(), bottom[0].HostData())
}

// Backward implements Impl. The derivative is computed from the output,
// so it stays correct in place.
func (l *Tanh) Backward(_ *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if !propagateDown[0] {
		return
	}
	cpu.TanhGrad(bottom[0].MutableHostDiff(), top[0].HostData(), top[0].HostDiff())
}
