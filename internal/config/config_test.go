package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tinyNet = `
name: tiny
force_backward: true
inputs:
  - name: data
    shape: [4, 3]
    filler: {type: gaussian, std: 0.5}
  - name: cont
    shape: [4, 1]
layers:
  - name: ip
    type: InnerProduct
    bottom: [data]
    top: [ip]
    inner_product_param:
      num_output: 2
      weight_filler: {type: xavier}
  - name: drop
    type: NestedDropout
    bottom: [ip]
    top: [drop]
    nested_dropout_param: {geom_rate: 0.9}
  - name: loss
    type: HingeLoss
    bottom: [drop]
    top: [loss]
    loss_weight: [0.5]
    hinge_loss_param: {norm: L2, offset: 1}
`

func TestParse_Net(t *testing.T) {
	param, err := Parse([]byte(tinyNet))
	require.NoError(t, err)

	assert.Equal(t, "tiny", param.Name)
	assert.True(t, param.ForceBackward)
	require.Len(t, param.Inputs, 2)
	assert.Equal(t, []int{4, 3}, param.Inputs[0].Shape)
	require.Len(t, param.Layers, 3)

	ip := param.Layers[0]
	assert.Equal(t, "InnerProduct", ip.Type)
	assert.Equal(t, []string{"data"}, ip.Bottom)
	assert.Equal(t, []string{"ip"}, ip.Top)
	assert.Equal(t, 2, ip.InnerProduct.NumOutput)

	loss := param.Layers[2]
	assert.Equal(t, []float64{0.5}, loss.LossWeight)
	assert.Equal(t, L2, loss.HingeLoss.Norm)
	assert.Equal(t, 1.0, loss.HingeLoss.Offset)
}

func TestParse_Defaults(t *testing.T) {
	param, err := Parse([]byte(tinyNet))
	require.NoError(t, err)

	// Filler partially specified: unspecified fields keep defaults.
	data := param.Inputs[0].Filler
	assert.Equal(t, "gaussian", data.Type)
	assert.Equal(t, 0.5, data.Std)
	assert.Equal(t, -1, data.Sparse)

	// Filler omitted entirely.
	assert.Equal(t, DefaultFillerParameter(), param.Inputs[1].Filler)

	ip := param.Layers[0].InnerProduct
	assert.True(t, ip.BiasTerm)
	assert.Equal(t, 1, ip.Axis)
	assert.Equal(t, "xavier", ip.WeightFiller.Type)
	assert.Equal(t, "constant", ip.BiasFiller.Type)

	drop := param.Layers[1].NestedDropout
	assert.Equal(t, 0.9, drop.GeomRate)
	assert.Equal(t, 1.0, drop.Scale)
	assert.Equal(t, 1e-3, drop.ConvergeThreshold)

	// Sub-records of other layer types still carry defaults.
	assert.Equal(t, L1, param.Layers[0].HingeLoss.Norm)
	assert.Equal(t, DefaultRecurrentParameter(), param.Layers[2].Recurrent)
}

func TestDefaultFillerParameter(t *testing.T) {
	p := DefaultFillerParameter()
	assert.Equal(t, "constant", p.Type)
	assert.Zero(t, p.Value)
	assert.Equal(t, 1.0, p.Max)
	assert.Equal(t, 1.0, p.Std)
	assert.Equal(t, -1, p.Sparse)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty", ""},
		{"unknown key", "name: x\nbogus: 1\n"},
		{"bad type", "layers: 3\n"},
		{"malformed", "layers: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tinyNet), 0o600))

	param, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "tiny", param.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
