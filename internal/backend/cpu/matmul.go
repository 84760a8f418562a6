package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
)

// Gemm computes C = alpha * op(A) * op(B) + beta * C for row-major
// matrices, where op(A) is M×K, op(B) is K×N and C is M×N.
// transA/transB select whether A (stored K×M) and B (stored N×K) are
// transposed.
func Gemm(transA, transB bool, m, n, k int, alpha float64, a, b []float64, beta float64, c []float64) {
	if len(c) < m*n {
		panic(fmt.Sprintf("gemm: C has %d elements, need %d", len(c), m*n))
	}
	if m == 0 || n == 0 {
		return
	}
	cm := general(m, n, c)
	if k == 0 {
		Scal(beta, cm.Data[:m*n])
		return
	}

	am, ta := general(m, k, a), blas.NoTrans
	if transA {
		am, ta = general(k, m, a), blas.Trans
	}
	bm, tb := general(k, n, b), blas.NoTrans
	if transB {
		bm, tb = general(n, k, b), blas.Trans
	}
	blas64.Gemm(ta, tb, alpha, am, bm, beta, cm)
}

// Gemv computes y = alpha * op(A) * x + beta * y where A is stored M×N.
func Gemv(transA bool, m, n int, alpha float64, a, x []float64, beta float64, y []float64) {
	if m == 0 || n == 0 {
		if transA {
			Scal(beta, y[:n])
		} else {
			Scal(beta, y[:m])
		}
		return
	}
	t := blas.NoTrans
	xn, yn := n, m
	if transA {
		t = blas.Trans
		xn, yn = m, n
	}
	blas64.Gemv(t, alpha, general(m, n, a),
		blas64.Vector{N: xn, Inc: 1, Data: x},
		beta,
		blas64.Vector{N: yn, Inc: 1, Data: y})
}

func general(rows, cols int, data []float64) blas64.General {
	if len(data) < rows*cols {
		panic(fmt.Sprintf("gemm: matrix %dx%d backed by %d elements", rows, cols, len(data)))
	}
	return blas64.General{Rows: rows, Cols: cols, Stride: cols, Data: data[:rows*cols]}
}
