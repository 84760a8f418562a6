package layer

import (
	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/filler"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

func init() {
	Register("RNN", func(param config.LayerParameter) Impl {
		return &RNN{param: param.Recurrent}
	})
}

// Parameter indices of the RNN layer.
const (
	rnnWxh = iota
	rnnWhh
	rnnBh
	rnnWho
	rnnBo
)

// RNN is a single-layer Elman network unrolled over the leading time axis.
// Bottoms are x of shape (T, N, ...) and the continuation indicators cont of
// shape (T, N); the top has shape (T, N, NumOutput). For each t:
//
//	h_t = tanh(x_t W_xhᵀ + (cont_t · h_{t-1}) W_hhᵀ + b_h)
//	o_t = tanh(h_t W_hoᵀ + b_o)
//
// h_{-1} is the last hidden state of the previous Forward call, zero
// initially and whenever the batch size changes. A cont value of 0 starts a
// new sequence. Backward runs BPTT within one call; cont receives no
// gradient.
type RNN struct {
	ParamSet
	param config.RecurrentParameter

	steps, num   int // T, N
	in, hid, out int // D, H, O

	hidden *tensor.Tensor // (T, N, H) hidden states of the last forward
	gated  *tensor.Tensor // (T, N, H) cont_t · h_{t-1} inputs of the last forward
	carry  []float64      // (N, H) h_{T-1} carried into the next call
	ones   []float64      // (N)

	dOut, dHidden, dPre, dNext []float64
}

// Arity implements ArityReporter.
func (l *RNN) Arity() Arity { return Exact(2, 1) }

// AllowForceBackward implements ForceBackwardChecker: cont takes no
// gradient.
func (l *RNN) AllowForceBackward(bottom int) bool { return bottom != 1 }

// Hidden returns the hidden width H.
func (l *RNN) Hidden() int { return l.hid }

// Configure implements Impl.
func (l *RNN) Configure(ctx *Context, bottom, _ []*tensor.Tensor) {
	if l.param.NumOutput <= 0 {
		panic(errors.Errorf("RNN: num_output must be positive, got %d", l.param.NumOutput))
	}
	if bottom[0].NumAxes() < 2 {
		panic(errors.Errorf("RNN: input must have shape (T, N, ...), got %s", bottom[0]))
	}
	l.out = l.param.NumOutput
	l.hid = l.param.NumHidden
	if l.hid <= 0 {
		l.hid = l.out
	}
	l.in = bottom[0].CountFrom(2)

	weights := filler.New(l.param.WeightFiller, ctx.Rand)
	biases := filler.New(l.param.BiasFiller, ctx.Rand)
	for _, p := range []struct {
		shape []int
		f     filler.Filler
	}{
		{[]int{l.hid, l.in}, weights},  // W_xh
		{[]int{l.hid, l.hid}, weights}, // W_hh
		{[]int{l.hid}, biases},         // b_h
		{[]int{l.out, l.hid}, weights}, // W_ho
		{[]int{l.out}, biases},         // b_o
	} {
		t := tensor.New(nil, p.shape...)
		p.f.Fill(t)
		l.AddParam(t)
	}

	l.hidden = tensor.New(nil)
	l.gated = tensor.New(nil)
}

// Reshape implements Impl.
func (l *RNN) Reshape(bottom, top []*tensor.Tensor) {
	x, cont := bottom[0], bottom[1]
	if x.NumAxes() < 2 {
		panic(errors.Errorf("RNN: input must have shape (T, N, ...), got %s", x))
	}
	if d := x.CountFrom(2); d != l.in {
		panic(errors.Errorf("RNN: input size %d does not match weight size %d", d, l.in))
	}
	l.steps, l.num = x.ShapeAt(0), x.ShapeAt(1)
	if !cont.Shape().Equal(tensor.Shape{l.steps, l.num}) {
		panic(errors.Errorf("RNN: cont must have shape (%d, %d), got %s", l.steps, l.num, cont))
	}

	top[0].Reshape(l.steps, l.num, l.out)
	l.hidden.Reshape(l.steps, l.num, l.hid)
	l.gated.Reshape(l.steps, l.num, l.hid)

	if len(l.carry) != l.num*l.hid {
		l.carry = make([]float64, l.num*l.hid)
		l.ones = make([]float64, l.num)
		cpu.Set(1, l.ones)
		l.dOut = make([]float64, l.num*l.out)
		l.dHidden = make([]float64, l.num*l.hid)
		l.dPre = make([]float64, l.num*l.hid)
		l.dNext = make([]float64, l.num*l.hid)
	}
}

// ResetState zeroes the hidden state carried between Forward calls.
func (l *RNN) ResetState() {
	cpu.Set(0, l.carry)
}

// Forward implements Impl.
func (l *RNN) Forward(_ *Context, bottom, top []*tensor.Tensor) {
	n, d, h, o := l.num, l.in, l.hid, l.out
	x := bottom[0].HostData()
	cont := bottom[1].HostData()
	y := top[0].MutableHostData()
	hs := l.hidden.MutableHostData()
	gs := l.gated.MutableHostData()
	wxh, whh, bh := l.blobs[rnnWxh].HostData(), l.blobs[rnnWhh].HostData(), l.blobs[rnnBh].HostData()
	who, bo := l.blobs[rnnWho].HostData(), l.blobs[rnnBo].HostData()

	for t := 0; t < l.steps; t++ {
		xt := x[t*n*d : (t+1)*n*d]
		ht := hs[t*n*h : (t+1)*n*h]
		gt := gs[t*n*h : (t+1)*n*h]
		yt := y[t*n*o : (t+1)*n*o]

		prev := l.carry
		if t > 0 {
			prev = hs[(t-1)*n*h : t*n*h]
		}
		for i := 0; i < n; i++ {
			c := cont[t*n+i]
			for j := 0; j < h; j++ {
				gt[i*h+j] = c * prev[i*h+j]
			}
		}

		cpu.Gemm(false, true, n, h, d, 1, xt, wxh, 0, ht)
		cpu.Gemm(false, true, n, h, h, 1, gt, whh, 1, ht)
		cpu.Gemm(false, false, n, h, 1, 1, l.ones, bh, 1, ht)
		cpu.Tanh(ht, ht)

		cpu.Gemm(false, true, n, o, h, 1, ht, who, 0, yt)
		cpu.Gemm(false, false, n, o, 1, 1, l.ones, bo, 1, yt)
		cpu.Tanh(yt, yt)
	}
	if l.steps > 0 {
		copy(l.carry, hs[(l.steps-1)*n*h:])
	}
}

// Backward implements Impl.
func (l *RNN) Backward(_ *Context, top []*tensor.Tensor, propagateDown []bool, bottom []*tensor.Tensor) {
	if propagateDown[1] {
		panic(errors.New("RNN: cannot backpropagate to the sequence continuation indicators"))
	}
	n, d, h, o := l.num, l.in, l.hid, l.out
	x := bottom[0].HostData()
	cont := bottom[1].HostData()
	y := top[0].HostData()
	dy := top[0].HostDiff()
	hs := l.hidden.HostData()
	gs := l.gated.HostData()
	wxh, whh, who := l.blobs[rnnWxh].HostData(), l.blobs[rnnWhh].HostData(), l.blobs[rnnWho].HostData()

	var dx []float64
	if propagateDown[0] {
		dx = bottom[0].MutableHostDiff()
	}
	cpu.Set(0, l.dNext)

	for t := l.steps - 1; t >= 0; t-- {
		xt := x[t*n*d : (t+1)*n*d]
		ht := hs[t*n*h : (t+1)*n*h]
		gt := gs[t*n*h : (t+1)*n*h]

		cpu.TanhGrad(l.dOut, y[t*n*o:(t+1)*n*o], dy[t*n*o:(t+1)*n*o])
		if l.ParamPropagateDown(rnnWho) {
			cpu.Gemm(true, false, o, h, n, 1, l.dOut, ht, 1, l.blobs[rnnWho].MutableHostDiff())
		}
		if l.ParamPropagateDown(rnnBo) {
			cpu.Gemv(true, n, o, 1, l.dOut, l.ones, 1, l.blobs[rnnBo].MutableHostDiff())
		}

		// dh = do W_ho + gradient flowing back from step t+1
		cpu.Copy(l.dHidden, l.dNext)
		cpu.Gemm(false, false, n, h, o, 1, l.dOut, who, 1, l.dHidden)
		cpu.TanhGrad(l.dPre, ht, l.dHidden)

		if l.ParamPropagateDown(rnnWxh) {
			cpu.Gemm(true, false, h, d, n, 1, l.dPre, xt, 1, l.blobs[rnnWxh].MutableHostDiff())
		}
		if l.ParamPropagateDown(rnnWhh) {
			cpu.Gemm(true, false, h, h, n, 1, l.dPre, gt, 1, l.blobs[rnnWhh].MutableHostDiff())
		}
		if l.ParamPropagateDown(rnnBh) {
			cpu.Gemv(true, n, h, 1, l.dPre, l.ones, 1, l.blobs[rnnBh].MutableHostDiff())
		}
		if dx != nil {
			cpu.Gemm(false, false, n, d, h, 1, l.dPre, wxh, 0, dx[t*n*d:(t+1)*n*d])
		}

		if t == 0 {
			break
		}
		cpu.Gemm(false, false, n, h, h, 1, l.dPre, whh, 0, l.dNext)
		for i := 0; i < n; i++ {
			cpu.Scal(cont[t*n+i], l.dNext[i*h:(i+1)*h])
		}
	}
}
