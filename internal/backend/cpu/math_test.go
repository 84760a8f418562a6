package cpu

import (
	"math"
	"testing"

	"github.com/born-ml/brew/internal/parallel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epsilon = 1e-12

func TestVectorKernels(t *testing.T) {
	x := []float64{1, -2, 3, -4}
	y := []float64{0.5, 0.5, -1, 2}

	assert.InDelta(t, 10, Asum(x), epsilon)
	assert.InDelta(t, 0.5-1-3-8, Dot(x, y), epsilon)
	assert.InDelta(t, 30, Sumsq(x), epsilon)
	assert.Zero(t, Asum(nil))

	z := append([]float64(nil), y...)
	Axpy(2, x, z)
	assert.Equal(t, []float64{2.5, -3.5, 5, -6}, z)

	Scal(0.5, z)
	assert.Equal(t, []float64{1.25, -1.75, 2.5, -3}, z)

	Set(7, z)
	assert.Equal(t, []float64{7, 7, 7, 7}, z)
}

func TestSign(t *testing.T) {
	dst := make([]float64, 5)
	Sign(dst, []float64{-0.1, 0, 2, -3, math.SmallestNonzeroFloat64})
	assert.Equal(t, []float64{-1, 0, 1, -1, 1}, dst)
}

func TestTanhAndGrad(t *testing.T) {
	x := []float64{-1, 0, 0.5}
	y := make([]float64, 3)
	Tanh(y, x)
	for i := range x {
		assert.InDelta(t, math.Tanh(x[i]), y[i], epsilon)
	}

	dy := []float64{1, 2, 3}
	dx := make([]float64, 3)
	TanhGrad(dx, y, dy)
	for i := range x {
		assert.InDelta(t, dy[i]*(1-y[i]*y[i]), dx[i], epsilon)
	}

	// In place.
	Tanh(x, x)
	assert.Equal(t, y, x)
}

func TestTanhParallel(t *testing.T) {
	saved := Parallel
	t.Cleanup(func() { Parallel = saved })
	Parallel = parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

	x := make([]float64, 1000)
	for i := range x {
		x[i] = float64(i-500) / 100
	}
	y := make([]float64, len(x))
	Tanh(y, x)
	dx := make([]float64, len(x))
	TanhGrad(dx, y, x)
	for i := range x {
		require.InDelta(t, math.Tanh(x[i]), y[i], epsilon)
		require.InDelta(t, x[i]*(1-y[i]*y[i]), dx[i], epsilon)
	}
}

func TestLengthMismatchPanics(t *testing.T) {
	assert.Panics(t, func() { Dot([]float64{1}, []float64{1, 2}) })
	assert.Panics(t, func() { Axpy(1, []float64{1}, []float64{1, 2}) })
	assert.Panics(t, func() { Sign(make([]float64, 1), []float64{1, 2}) })
}

func TestGemm(t *testing.T) {
	// A: 2x3, B: 3x2
	a := []float64{1, 2, 3, 4, 5, 6}
	b := []float64{7, 8, 9, 10, 11, 12}
	want := []float64{58, 64, 139, 154}

	tests := []struct {
		name           string
		transA, transB bool
		a, b           []float64
	}{
		{"NN", false, false, a, b},
		{"TN", true, false, []float64{1, 4, 2, 5, 3, 6}, b},
		{"NT", false, true, a, []float64{7, 9, 11, 8, 10, 12}},
		{"TT", true, true, []float64{1, 4, 2, 5, 3, 6}, []float64{7, 9, 11, 8, 10, 12}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := make([]float64, 4)
			Gemm(tt.transA, tt.transB, 2, 2, 3, 1, tt.a, tt.b, 0, c)
			assert.InDeltaSlice(t, want, c, epsilon)
		})
	}
}

func TestGemmAccumulates(t *testing.T) {
	c := []float64{1, 1, 1, 1}
	Gemm(false, false, 2, 2, 1, 2, []float64{1, 2}, []float64{3, 4}, 1, c)
	assert.InDeltaSlice(t, []float64{7, 9, 13, 17}, c, epsilon)
}

func TestGemmDegenerate(t *testing.T) {
	c := []float64{3, 3}
	Gemm(false, false, 1, 2, 0, 1, nil, nil, 0.5, c)
	assert.Equal(t, []float64{1.5, 1.5}, c)

	require.NotPanics(t, func() {
		Gemm(false, false, 0, 2, 3, 1, nil, make([]float64, 6), 0, nil)
	})
}

func TestGemv(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6} // 2x3
	y := make([]float64, 2)
	Gemv(false, 2, 3, 1, a, []float64{1, 1, 1}, 0, y)
	assert.InDeltaSlice(t, []float64{6, 15}, y, epsilon)

	yt := []float64{1, 1, 1}
	Gemv(true, 2, 3, 1, a, []float64{1, 2}, 1, yt)
	assert.InDeltaSlice(t, []float64{10, 13, 16}, yt, epsilon)
}
