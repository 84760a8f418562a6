package layer

import (
	"math"
	"math/rand"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/parallel"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func init() {
	Register("NestedDropout", func(param config.LayerParameter) Impl {
		return &NestedDropout{param: param.NestedDropout}
	})
}

// NestedDropout keeps an ordered prefix of channels per sample during
// training. For an input of shape (N, C, ...) each sample i keeps
//
//	k_i = min(frontier + 1 + G_i, C),  G_i ~ Geometric(p)
//
// channels, scaled by Scale, and zeroes the rest. The backward pass
// applies the same mask. After each training backward pass the frontier
// channel is tested for convergence: if every sample's mean absolute top
// gradient on that channel is at most ConvergeThreshold, the frontier
// advances by one, up to C-1.
//
// In the test phase both passes copy through unchanged.
type NestedDropout struct {
	param    config.NestedDropoutParameter
	frontier int
	keep     []int // channels kept per sample by the last training forward
}

// Arity implements ArityReporter.
func (l *NestedDropout) Arity() Arity { return Exact(1, 1) }

// AllowInPlace implements InPlaceChecker.
func (l *NestedDropout) AllowInPlace() bool { return true }

// Frontier returns the index of the channel currently tested for
// convergence.
func (l *NestedDropout) Frontier() int { return l.frontier }

// Keep returns the per-sample kept channel counts of the last training
// forward pass.
func (l *NestedDropout) Keep() []int { return l.keep }

// Configure implements Impl.
func (l *NestedDropout) Configure(_ *Context, bottom, _ []*tensor.Tensor) {
	p := l.param.GeomRate
	if !(p > 0 && p <= 1) {
		panic(errors.Errorf("NestedDropout: geom_rate must be in (0, 1], got %g", p))
	}
	if bottom[0].NumAxes() < 2 {
		panic(errors.Errorf("NestedDropout: input must have at least 2 axes (N, C, ...), got %s", bottom[0]))
	}
	l.frontier = 0
}

// Reshape implements Impl.
func (l *NestedDropout) Reshape(bottom, top []*tensor.Tensor) {
	if top[0] != bottom[0] {
		top[0].ReshapeLike(bottom[0])
	}
	if bottom[0].NumAxes() < 2 {
		panic(errors.Errorf("NestedDropout: input must have at least 2 axes (N, C, ...), got %s", bottom[0]))
	}
	num, channels := bottom[0].ShapeAt(0), bottom[0].ShapeAt(1)
	l.frontier = min(l.frontier, max(channels-1, 0))
	if cap(l.keep) < num {
		l.keep = make([]int, num)
	}
	l.keep = l.keep[:num]
}

// Forward implements Impl.
func (l *NestedDropout) Forward(ctx *Context, bottom, top []*tensor.Tensor) {
	if ctx.Phase != Train {
		if top[0] != bottom[0] {
			cpu.Copy(top[0].MutableHostData(), bottom[0].HostData())
		}
		return
	}

	num, channels, inner := dims(bottom[0])
	for i := 0; i < num; i++ {
		l.keep[i] = min(l.frontier+1+geometric(ctx.Rand, l.param.GeomRate), channels)
	}
	l.applyMask(top[0].MutableHostData(), bottom[0].HostData(), num, channels, inner)
}

// Backward implements Impl.
func (l *NestedDropout) Backward(ctx *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if !propagateDown[0] {
		return
	}
	if ctx.Phase != Train {
		if top[0] != bottom[0] {
			cpu.Copy(bottom[0].MutableHostDiff(), top[0].HostDiff())
		}
		return
	}

	num, channels, inner := dims(bottom[0])
	dy := top[0].HostDiff()

	// Test the frontier before the mask is applied, since top and bottom
	// may share a diff buffer.
	converged := channels > 0
	for i := 0; converged && i < num; i++ {
		start := (i*channels + l.frontier) * inner
		converged = cpu.Asum(dy[start:start+inner]) <= l.param.ConvergeThreshold*float64(inner)
	}

	l.applyMask(bottom[0].MutableHostDiff(), dy, num, channels, inner)

	if converged && l.frontier < channels-1 {
		l.frontier++
		klog.V(1).Infof("NestedDropout: unit %d converged, frontier now %d", l.frontier-1, l.frontier)
	}
}

// applyMask writes Scale·src into dst for the first keep[i] channels of
// sample i and zeroes the others. dst and src may alias.
func (l *NestedDropout) applyMask(dst, src []float64, num, channels, inner int) {
	parallel.ForBatch(num, channels, func(i, c int) {
		start := (i*channels + c) * inner
		d := dst[start : start+inner]
		if c >= l.keep[i] {
			cpu.Set(0, d)
			return
		}
		for j, v := range src[start : start+inner] {
			d[j] = v * l.param.Scale
		}
	}, cpu.Parallel)
}

// dims splits a (N, C, ...) tensor into samples, channels and the element
// count per channel.
func dims(t *tensor.Tensor) (num, channels, inner int) {
	return t.ShapeAt(0), t.ShapeAt(1), t.CountFrom(2)
}

// geometric draws the number of failures before the first success of a
// Bernoulli(p) trial by inversion.
func geometric(rng *rand.Rand, p float64) int {
	if p >= 1 {
		return 0
	}
	u := 1 - rng.Float64() // (0, 1]
	return int(math.Floor(math.Log(u) / math.Log1p(-p)))
}
