package tensor

import (
	"math"
	"testing"

	"github.com/born-ml/brew/internal/backend/sim"
	"github.com/born-ml/brew/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensor_Initialization(t *testing.T) {
	blob := New(nil, 2, 3, 4, 5)
	assert.Equal(t, 4, blob.NumAxes())
	assert.Equal(t, 120, blob.Count())
	assert.Equal(t, 2, blob.Num())
	assert.Equal(t, 3, blob.Channels())
	assert.Equal(t, 4, blob.Height())
	assert.Equal(t, 5, blob.Width())
	assert.Equal(t, Shape{2, 3, 4, 5}, blob.Shape())
	assert.Equal(t, "2 3 4 5 (120)", blob.String())

	// Fresh buffers read as zero.
	for _, v := range blob.HostData() {
		assert.Zero(t, v)
	}
	for _, v := range blob.HostDiff() {
		assert.Zero(t, v)
	}
}

func TestTensor_ScalarAndEmpty(t *testing.T) {
	scalar := New(nil)
	assert.Equal(t, 0, scalar.NumAxes())
	assert.Equal(t, 1, scalar.Count())
	scalar.Set(3.5)
	assert.Equal(t, 3.5, scalar.At())

	empty := New(nil, 0, 4)
	assert.Equal(t, 0, empty.Count())
	assert.Nil(t, empty.HostData())
}

func TestTensor_Counts(t *testing.T) {
	blob := New(nil, 2, 3, 4, 5)

	tests := []struct {
		name       string
		start, end int
		want       int
	}{
		{"all", 0, 4, 120},
		{"leading", 0, 2, 6},
		{"inner", 1, 3, 12},
		{"empty range", 2, 2, 1},
		{"trailing", 2, 4, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, blob.CountRange(tt.start, tt.end))
		})
	}

	assert.Equal(t, 60, blob.CountFrom(1))
	assert.Equal(t, 1, blob.CountFrom(4))
	assert.Equal(t, 6, blob.CountRange(0, blob.CanonicalAxisIndex(-2)))
	assert.Panics(t, func() { blob.CountRange(3, 2) })
	assert.Panics(t, func() { blob.CountRange(0, 5) })
}

func TestTensor_CanonicalAxisIndex(t *testing.T) {
	blob := New(nil, 2, 3, 4, 5)
	assert.Equal(t, 0, blob.CanonicalAxisIndex(0))
	assert.Equal(t, 3, blob.CanonicalAxisIndex(-1))
	assert.Equal(t, 0, blob.CanonicalAxisIndex(-4))
	assert.Equal(t, 5, blob.ShapeAt(-1))
	assert.Panics(t, func() { blob.CanonicalAxisIndex(4) })
	assert.Panics(t, func() { blob.CanonicalAxisIndex(-5) })
}

func TestTensor_LegacyAccessors(t *testing.T) {
	blob := New(nil, 7)
	assert.Equal(t, 7, blob.Num())
	assert.Equal(t, 1, blob.Channels())
	assert.Equal(t, 1, blob.Width())

	big := New(nil, 1, 1, 1, 1, 2)
	assert.Panics(t, func() { big.Num() })
}

func TestTensor_ReshapeValidation(t *testing.T) {
	blob := New(nil, 1)
	assert.Panics(t, func() { blob.Reshape(2, -1) })
	assert.Panics(t, func() { blob.Reshape(math.MaxInt, 2) })
	assert.Panics(t, func() { blob.Reshape(make([]int, MaxAxes+1)...) })
	assert.NotPanics(t, func() { blob.Reshape(make([]int, MaxAxes)...) })
}

func TestTensor_ReshapeIsIdempotentAndKeepsStorage(t *testing.T) {
	blob := New(nil, 2, 3, 4)
	data := blob.Data()
	blob.Set(42, 1, 2, 3)

	blob.Reshape(2, 3, 4)
	assert.Same(t, data, blob.Data())
	assert.Equal(t, 42.0, blob.At(1, 2, 3))

	// Shrinking and regrowing to capacity keeps the buffers.
	blob.Reshape(4)
	assert.Equal(t, 4, blob.Count())
	assert.Equal(t, 24, blob.Capacity())
	blob.Reshape(4, 6)
	assert.Same(t, data, blob.Data())
	assert.Equal(t, 42.0, blob.HostData()[23])
}

func TestTensor_ReshapeGrowthReallocates(t *testing.T) {
	blob := New(nil, 2, 3)
	data, diff := blob.Data(), blob.Diff()
	blob.Set(1, 0, 0)

	blob.Reshape(3, 3)
	assert.NotSame(t, data, blob.Data())
	assert.NotSame(t, diff, blob.Diff())
	assert.Equal(t, 9, blob.Capacity())
	assert.Equal(t, blob.Data().Size(), blob.Diff().Size())
	assert.Zero(t, blob.At(0, 0), "growth discards contents")
}

func TestTensor_ReshapeLike(t *testing.T) {
	a := New(nil, 2, 3)
	b := New(nil, 6, 1, 1)
	a.ReshapeLike(b)
	assert.True(t, a.ShapeEqual(b))
}

func TestTensor_Offset(t *testing.T) {
	blob := New(nil, 2, 3, 4, 5)
	assert.Equal(t, 0, blob.Offset())
	assert.Equal(t, 60, blob.Offset(1))
	assert.Equal(t, 1*60+2*20+3*5+4, blob.Offset(1, 2, 3, 4))
	assert.Equal(t, 1*60+2*20, blob.Offset(1, 2))

	assert.Panics(t, func() { blob.Offset(2) })
	assert.Panics(t, func() { blob.Offset(0, -1) })
	assert.Panics(t, func() { blob.Offset(0, 0, 0, 0, 0) })
}

func TestTensor_AtSetDiff(t *testing.T) {
	blob := New(nil, 2, 2)
	blob.Set(1.5, 1, 0)
	blob.SetDiff(-2, 0, 1)
	assert.Equal(t, []float64{0, 0, 1.5, 0}, blob.HostData())
	assert.Equal(t, []float64{0, -2, 0, 0}, blob.HostDiff())
	assert.Equal(t, -2.0, blob.DiffAt(0, 1))
}

func TestTensor_Reductions(t *testing.T) {
	blob := FromSlice([]float64{1, -2, 3, -4}, 2, 2)
	copy(blob.MutableHostDiff(), []float64{0.5, 0.5, -0.5, 0})

	assert.InDelta(t, 10, blob.AsumData(), 1e-12)
	assert.InDelta(t, 30, blob.SumsqData(), 1e-12)
	assert.InDelta(t, 1.5, blob.AsumDiff(), 1e-12)
	assert.InDelta(t, 0.75, blob.SumsqDiff(), 1e-12)

	blob.ScaleData(2)
	blob.ScaleDiff(-1)
	assert.Equal(t, []float64{2, -4, 6, -8}, blob.HostData())
	assert.Equal(t, []float64{-0.5, -0.5, 0.5, 0}, blob.HostDiff())

	blob.SetDiffZero()
	assert.Zero(t, blob.AsumDiff())
}

func TestTensor_FromSliceLengthMismatch(t *testing.T) {
	assert.Panics(t, func() { FromSlice([]float64{1, 2, 3}, 2, 2) })
}

func TestTensor_CopyFromHost(t *testing.T) {
	src := FromSlice([]float64{1, 2, 3, 4, 5, 6}, 2, 3)
	copy(src.MutableHostDiff(), []float64{6, 5, 4, 3, 2, 1})

	dst := New(nil, 2, 3)
	dst.CopyFrom(src, false, memory.Host)
	assert.Equal(t, src.HostData(), dst.HostData())
	assert.Equal(t, make([]float64, 6), dst.HostDiff())

	dst.CopyFrom(src, true, memory.Host)
	assert.Equal(t, src.HostDiff(), dst.HostDiff())

	// Same count, different shape: reshaped to match.
	flat := New(nil, 6)
	flat.CopyFrom(src, false, memory.Host)
	assert.Equal(t, Shape{2, 3}, flat.Shape())
}

func TestTensor_CopyFromCountMismatch(t *testing.T) {
	src := New(nil, 2, 3)
	dst := New(nil, 2, 2)
	assert.Panics(t, func() { dst.CopyFrom(src, false, memory.Host) })
}

func TestTensor_CopyFromDevice(t *testing.T) {
	dev := sim.New()
	src := New(dev, 4)
	copy(src.MutableHostData(), []float64{1, 2, 3, 4})
	dst := New(dev, 4)

	dst.CopyFrom(src, false, memory.Accelerator)
	assert.Equal(t, memory.HeadAtDevice, dst.Data().Head())
	assert.Equal(t, 1, dev.Stats().DeviceCopies)
	assert.Equal(t, []float64{1, 2, 3, 4}, dst.HostData())
}

func TestTensor_CopyFromAcceleratorWithoutDevice(t *testing.T) {
	src := FromSlice([]float64{1, 2}, 2)
	dst := New(nil, 2)
	dst.CopyFrom(src, false, memory.Accelerator)
	assert.Equal(t, []float64{1, 2}, dst.HostData())
}

func TestTensor_DeviceAccessors(t *testing.T) {
	host := New(nil, 3)
	assert.Nil(t, host.DeviceData())
	assert.Nil(t, host.MutableDeviceDiff())

	dev := sim.New()
	blob := New(dev, 3)
	blob.Set(2, 1)
	buf := blob.DeviceData()
	require.NotNil(t, buf)
	assert.Equal(t, 3*8, buf.Size())
	assert.Equal(t, memory.Synced, blob.Data().Head())
	assert.Equal(t, memory.Uninitialized, blob.Diff().Head())
}

func TestTensor_Clone(t *testing.T) {
	dev := sim.New()
	blob := New(dev, 2)
	blob.Set(1, 0)
	blob.SetDiff(3, 1)

	c := blob.Clone()
	assert.Nil(t, c.Device())
	assert.Equal(t, []float64{1, 0}, c.HostData())
	assert.Equal(t, []float64{0, 3}, c.HostDiff())

	c.Set(9, 0)
	assert.Equal(t, 1.0, blob.At(0))
}

func TestTensor_Release(t *testing.T) {
	blob := FromSlice([]float64{1, 2}, 2)
	blob.Release()
	assert.Equal(t, Shape{2}, blob.Shape())
	assert.Equal(t, []float64{0, 0}, blob.HostData())
}
