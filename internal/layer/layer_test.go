package layer_test

import (
	"math/rand"
	"testing"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/backend/sim"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/filler"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/memory"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seed = 1701

func newParam(name, typ string) config.LayerParameter {
	p := config.DefaultLayerParameter()
	p.Name = name
	p.Type = typ
	return p
}

func mustNew(t *testing.T, p config.LayerParameter) *layer.Layer {
	t.Helper()
	l, err := layer.New(p)
	require.NoError(t, err)
	return l
}

// gaussian returns a tensor of the given shape filled from N(0, std²).
func gaussian(std float64, shape ...int) *tensor.Tensor {
	p := config.DefaultFillerParameter()
	p.Type = "gaussian"
	p.Std = std
	t := tensor.New(nil, shape...)
	filler.New(p, rand.New(rand.NewSource(seed))).Fill(t) //nolint:gosec // deterministic test seed
	return t
}

func vec(ts ...*tensor.Tensor) []*tensor.Tensor { return ts }

func TestRegistry(t *testing.T) {
	types := layer.Types()
	for _, typ := range []string{"HDF5Output", "HingeLoss", "InnerProduct", "NestedDropout", "OutputWriter", "RNN", "TanH"} {
		assert.Contains(t, types, typ)
	}
	assert.IsIncreasing(t, types)

	_, err := layer.New(newParam("mystery", "Convolution"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown type "Convolution"`)

	assert.Panics(t, func() {
		layer.Register("TanH", func(config.LayerParameter) layer.Impl { return &layer.Tanh{} })
	})
}

func TestLifecycle(t *testing.T) {
	ctx := layer.NewContext(seed)
	l := mustNew(t, newParam("act", "TanH"))
	bottom := vec(gaussian(1, 2, 3))
	top := vec(tensor.New(nil))

	assert.Equal(t, layer.Unconfigured, l.State())
	assert.Panics(t, func() { l.Reshape(bottom, top) })
	assert.Panics(t, func() { l.Forward(ctx, bottom, top) })

	l.SetUp(ctx, bottom, top)
	assert.Equal(t, layer.Shaped, l.State())
	assert.Equal(t, tensor.Shape{2, 3}, top[0].Shape())
	assert.Panics(t, func() { l.Backward(ctx, top, nil, bottom) })
	assert.Panics(t, func() { l.SetUp(ctx, bottom, top) })

	l.Forward(ctx, bottom, top)
	assert.Equal(t, layer.Ready, l.State())
	l.Backward(ctx, top, nil, bottom)

	bottom[0].Reshape(4, 3)
	l.Reshape(bottom, top)
	assert.Equal(t, layer.Shaped, l.State())
	assert.Equal(t, tensor.Shape{4, 3}, top[0].Shape())
	assert.Equal(t, "SHAPED", l.State().String())
}

func TestArityAndInPlace(t *testing.T) {
	ctx := layer.NewContext(seed)
	x := gaussian(1, 2, 3)

	tooMany := mustNew(t, newParam("act", "TanH"))
	assert.Panics(t, func() { tooMany.SetUp(ctx, vec(x, x), vec(tensor.New(nil))) })

	ip := newParam("fc", "InnerProduct")
	ip.InnerProduct.NumOutput = 2
	aliased := mustNew(t, ip)
	assert.Panics(t, func() { aliased.SetUp(ctx, vec(x), vec(x)) })

	inPlace := mustNew(t, newParam("act", "TanH"))
	require.NotPanics(t, func() { inPlace.SetUp(ctx, vec(x), vec(x)) })
	assert.True(t, inPlace.AllowInPlace())

	assert.Panics(t, func() { inPlace.Forward(ctx, vec(x, x), vec(x)) })
	inPlace.Forward(ctx, vec(x), vec(x))
	assert.Panics(t, func() { inPlace.Backward(ctx, vec(x), []bool{true, true}, vec(x)) })
}

func TestLossWeights(t *testing.T) {
	ctx := layer.NewContext(seed)

	hinge := mustNew(t, newParam("loss", "HingeLoss"))
	x := tensor.FromSlice([]float64{0.5, -2, 1.5, 3}, 4)
	loss := tensor.New(nil)
	hinge.SetUp(ctx, vec(x), vec(loss))
	assert.True(t, hinge.IsLoss())
	assert.Equal(t, 1.0, hinge.LossWeight(0))
	assert.InDelta(t, 5.0/4, hinge.Forward(ctx, vec(x), vec(loss)), 1e-12)
	assert.Equal(t, 1.0, loss.HostDiff()[0])

	p := newParam("act", "TanH")
	p.LossWeight = []float64{2}
	act := mustNew(t, p)
	y := tensor.New(nil)
	act.SetUp(ctx, vec(x), vec(y))
	assert.False(t, act.IsLoss())
	got := act.Forward(ctx, vec(x), vec(y))
	want := 0.0
	for _, v := range y.HostData() {
		want += 2 * v
	}
	assert.InDelta(t, want, got, 1e-12)
	assert.Equal(t, []float64{2, 2, 2, 2}, y.HostDiff())

	plain := mustNew(t, newParam("act", "TanH"))
	plain.SetUp(ctx, vec(x), vec(tensor.New(nil)))
	assert.Equal(t, 0.0, plain.LossWeight(0))
	assert.Equal(t, 0.0, plain.LossWeight(3))

	p.LossWeight = []float64{1, 1}
	bad := mustNew(t, p)
	assert.Panics(t, func() { bad.SetUp(ctx, vec(x), vec(tensor.New(nil))) })
}

func TestParamPropagateDown(t *testing.T) {
	ctx := layer.NewContext(seed)
	p := newParam("fc", "InnerProduct")
	p.InnerProduct.NumOutput = 2
	p.InnerProduct.WeightFiller.Type = "gaussian"
	p.InnerProduct.BiasFiller.Type = "gaussian"
	p.ParamPropagateDown = []bool{false}
	l := mustNew(t, p)

	x := gaussian(1, 3, 4)
	y := tensor.New(nil)
	l.SetUp(ctx, vec(x), vec(y))
	require.Len(t, l.Params(), 2)
	assert.False(t, l.ParamPropagateDown(0))
	assert.True(t, l.ParamPropagateDown(1))

	l.Forward(ctx, vec(x), vec(y))
	cpu.Set(1, y.MutableHostDiff())
	l.Backward(ctx, vec(y), nil, vec(x))
	assert.Equal(t, 0.0, l.Params()[0].AsumDiff())
	// db = Σ over the 3 samples of dy
	assert.Equal(t, []float64{3, 3}, l.Params()[1].HostDiff())

	// Parameter gradients accumulate; input gradients are overwritten.
	dx := append([]float64(nil), x.HostDiff()...)
	l.Backward(ctx, vec(y), nil, vec(x))
	assert.Equal(t, []float64{6, 6}, l.Params()[1].HostDiff())
	assert.Equal(t, dx, x.HostDiff())

	l.SetParamPropagateDown(0, true)
	assert.True(t, l.ParamPropagateDown(0))

	p.ParamPropagateDown = []bool{true, true, true}
	tooMany := mustNew(t, p)
	assert.Panics(t, func() { tooMany.SetUp(ctx, vec(x), vec(tensor.New(nil))) })
}

// probe counts which path the wrapper dispatches to.
type probe struct {
	host, device int
}

func (p *probe) Configure(_ *layer.Context, _, _ []*tensor.Tensor) {}

func (p *probe) Reshape(bottom, top []*tensor.Tensor) { top[0].ReshapeLike(bottom[0]) }

func (p *probe) Forward(_ *layer.Context, _, _ []*tensor.Tensor) { p.host++ }

func (p *probe) Backward(_ *layer.Context, _ []*tensor.Tensor, _ []bool, _ []*tensor.Tensor) {
	p.host++
}

func (p *probe) ForwardDevice(_ *layer.Context, _, _ []*tensor.Tensor) { p.device++ }

func (p *probe) BackwardDevice(_ *layer.Context, _ []*tensor.Tensor, _ []bool, _ []*tensor.Tensor) {
	p.device++
}

func TestDeviceDispatch(t *testing.T) {
	impl := &probe{}
	l := layer.Wrap(newParam("probe", "Probe"), impl)
	assert.Nil(t, l.Params())
	assert.False(t, l.ParamPropagateDown(0))

	dev := sim.New()
	x := tensor.New(dev, 2, 2)
	y := tensor.New(dev)
	ctx := layer.NewContext(seed)
	l.SetUp(ctx, vec(x), vec(y))

	l.Forward(ctx, vec(x), vec(y))
	l.Backward(ctx, vec(y), nil, vec(x))
	assert.Equal(t, 2, impl.host)
	assert.Equal(t, 0, impl.device)

	// Accelerator mode without a device stays on the host.
	ctx.Mode = memory.Accelerator
	l.Forward(ctx, vec(x), vec(y))
	assert.Equal(t, 3, impl.host)

	ctx.Device = dev
	assert.True(t, ctx.UseDevice())
	l.Forward(ctx, vec(x), vec(y))
	l.Backward(ctx, vec(y), []bool{false}, vec(x))
	assert.Equal(t, 3, impl.host)
	assert.Equal(t, 2, impl.device)
}

func TestContext(t *testing.T) {
	ctx := layer.NewContext(3)
	assert.Equal(t, layer.Train, ctx.Phase)
	assert.Equal(t, memory.Host, ctx.Mode)
	assert.False(t, ctx.UseDevice())

	ctx.Seed(11)
	a := ctx.Rand.Float64()
	ctx.Seed(11)
	assert.Equal(t, a, ctx.Rand.Float64())

	phase, err := layer.ParsePhase("test")
	require.NoError(t, err)
	assert.Equal(t, layer.Test, phase)
	assert.Equal(t, "test", phase.String())
	_, err = layer.ParsePhase("deploy")
	assert.Error(t, err)
}

func TestReshapeIsIdempotent(t *testing.T) {
	ip := newParam("fc", "InnerProduct")
	ip.InnerProduct.NumOutput = 3
	ip.InnerProduct.WeightFiller.Type = "gaussian"

	tests := []struct {
		name   string
		param  config.LayerParameter
		bottom func() []*tensor.Tensor
	}{
		{"InnerProduct", ip, func() []*tensor.Tensor { return vec(gaussian(1, 4, 2, 3)) }},
		{"RNN", rnnParam(0), func() []*tensor.Tensor {
			x, cont, _ := rnnBlobs(2, 3)
			cpu.Set(1, cont.MutableHostData())
			return vec(x, cont)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := layer.NewContext(seed)
			l := mustNew(t, tt.param)
			bottom := tt.bottom()
			top := vec(tensor.New(nil))
			l.SetUp(ctx, bottom, top)
			l.Forward(ctx, bottom, top)

			shape := top[0].Shape().Clone()
			capacity := top[0].Capacity()
			data := top[0].Data()
			for i := 0; i < 2; i++ {
				l.Reshape(bottom, top)
				assert.Equal(t, shape, top[0].Shape())
				assert.Equal(t, capacity, top[0].Capacity())
				assert.Same(t, data, top[0].Data())
			}
		})
	}
}

func TestReshapeKeepsRNNState(t *testing.T) {
	x, cont, _ := rnnBlobs(2, 3)
	cpu.Set(1, cont.MutableHostData())
	bottom := vec(x, cont)

	// Two layers built from the same seed share their weights.
	plain, reshaped := mustNew(t, rnnParam(0)), mustNew(t, rnnParam(0))
	yPlain, yReshaped := tensor.New(nil), tensor.New(nil)
	plain.SetUp(layer.NewContext(seed), bottom, vec(yPlain))
	reshaped.SetUp(layer.NewContext(seed), bottom, vec(yReshaped))

	ctx := layer.NewContext(seed)
	plain.Forward(ctx, bottom, vec(yPlain))
	first := append([]float64(nil), yPlain.HostData()...)
	plain.Forward(ctx, bottom, vec(yPlain))
	require.NotEqual(t, first, yPlain.HostData(), "the second call starts from the carried state")

	reshaped.Forward(ctx, bottom, vec(yReshaped))
	reshaped.Reshape(bottom, vec(yReshaped))
	reshaped.Reshape(bottom, vec(yReshaped))
	reshaped.Forward(ctx, bottom, vec(yReshaped))
	assert.Equal(t, yPlain.HostData(), yReshaped.HostData())
}
