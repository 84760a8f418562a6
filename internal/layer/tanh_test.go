package layer_test

import (
	"math"
	"testing"

	"github.com/born-ml/brew/internal/gradcheck"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTanh(t *testing.T) {
	ctx := layer.NewContext(seed)
	l := mustNew(t, newParam("act", "TanH"))
	x := gaussian(2, 2, 3, 4)
	y := tensor.New(nil)
	l.SetUp(ctx, vec(x), vec(y))
	l.Forward(ctx, vec(x), vec(y))
	for i, v := range x.HostData() {
		assert.InDelta(t, math.Tanh(v), y.HostData()[i], 1e-12)
	}
}

func TestTanhGradient(t *testing.T) {
	l := mustNew(t, newParam("act", "Tanh"))
	x := gaussian(1, 2, 3, 2)
	report := gradcheck.New(1e-2, 1e-3).CheckGradientEltwise(l, layer.NewContext(seed), vec(x), vec(tensor.New(nil)))
	require.NoError(t, report.Err())
	assert.Equal(t, x.Count()*x.Count(), report.Checked)
}
