// Package cpu implements the host math kernels used by layers.
//
// Every kernel works on []float64 views of tensor buffers. Vector kernels
// wrap gonum's floats package; matrix products go through blas64, which
// uses gonum's pure-Go BLAS unless a native implementation is registered.
package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/brew/internal/parallel"
	"gonum.org/v1/gonum/floats"
)

// Parallel controls how the elementwise kernels split long vectors.
var Parallel = parallel.DefaultConfig()

// Asum returns the sum of absolute values of x.
func Asum(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return floats.Norm(x, 1)
}

// Dot returns the inner product of x and y.
func Dot(x, y []float64) float64 {
	checkLen("dot", x, y)
	return floats.Dot(x, y)
}

// Sumsq returns the sum of squares of x.
func Sumsq(x []float64) float64 {
	return floats.Dot(x, x)
}

// Scal scales x by alpha in place.
func Scal(alpha float64, x []float64) {
	floats.Scale(alpha, x)
}

// Axpy computes y = alpha*x + y.
func Axpy(alpha float64, x, y []float64) {
	checkLen("axpy", x, y)
	floats.AddScaled(y, alpha, x)
}

// Copy copies src into dst.
func Copy(dst, src []float64) {
	checkLen("copy", dst, src)
	copy(dst, src)
}

// Set fills x with alpha.
func Set(alpha float64, x []float64) {
	for i := range x {
		x[i] = alpha
	}
}

// Sign writes sign(x) into dst: -1, 0 or 1.
func Sign(dst, x []float64) {
	checkLen("sign", dst, x)
	for i, v := range x {
		switch {
		case v > 0:
			dst[i] = 1
		case v < 0:
			dst[i] = -1
		default:
			dst[i] = 0
		}
	}
}

// Tanh writes tanh(x) into dst. dst and x may alias.
func Tanh(dst, x []float64) {
	checkLen("tanh", dst, x)
	parallel.ForRange(len(x), func(start, end int) {
		for i := start; i < end; i++ {
			dst[i] = math.Tanh(x[i])
		}
	}, Parallel)
}

// TanhGrad computes dx = dy * (1 - y^2) from the forward output y.
// dx may alias dy.
func TanhGrad(dx, y, dy []float64) {
	checkLen("tanh grad", y, dy)
	checkLen("tanh grad", dx, y)
	parallel.ForRange(len(y), func(start, end int) {
		for i := start; i < end; i++ {
			v := y[i]
			dx[i] = dy[i] * (1 - v*v)
		}
	}, Parallel)
}

func checkLen(op string, a, b []float64) {
	if len(a) != len(b) {
		panic(fmt.Sprintf("%s: length mismatch %d vs %d", op, len(a), len(b)))
	}
}
