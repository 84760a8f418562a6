package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const smallNet = `
name: small
inputs:
  - name: data
    shape: [3, 4]
    filler: {type: uniform, min: -1, max: 1}
layers:
  - name: ip
    type: InnerProduct
    bottom: [data]
    top: [ip]
    inner_product_param:
      num_output: 2
      weight_filler: {type: gaussian, std: 0.5}
  - name: act
    type: TanH
    bottom: [ip]
    top: [act]
  - name: loss
    type: HingeLoss
    bottom: [act]
    top: [loss]
    hinge_loss_param: {norm: L2, offset: 2}
`

func writeNet(t *testing.T, yml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "net.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	return path
}

func TestVersionAndUsage(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, &out))
	assert.Equal(t, "brew "+version+"\n", out.String())

	out.Reset()
	require.NoError(t, run(nil, &out))
	assert.Contains(t, out.String(), "gradcheck")

	err := run([]string{"train"}, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown command "train"`)
}

func TestRun(t *testing.T) {
	path := writeNet(t, smallNet)
	var out bytes.Buffer
	require.NoError(t, run([]string{"run", "-net", path, "-iters", "3"}, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "iteration 0: loss = "))
	assert.Equal(t, strings.TrimPrefix(lines[0], "iteration 0"), strings.TrimPrefix(lines[2], "iteration 2"),
		"inputs and weights are unchanged between iterations")

	out.Reset()
	require.NoError(t, run([]string{"run", "-net", path, "-phase", "test", "-device", "sim"}, &out))
	assert.Contains(t, out.String(), "iteration 0")

	// An unavailable accelerator falls back to the host.
	out.Reset()
	require.NoError(t, run([]string{"run", "-net", path, "-device", "webgpu"}, &out))
	assert.Contains(t, out.String(), "iteration 0")
}

func TestRunErrors(t *testing.T) {
	path := writeNet(t, smallNet)
	var out bytes.Buffer
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing net", []string{"run"}, "-net is required"},
		{"no such file", []string{"run", "-net", filepath.Join(t.TempDir(), "none.yaml")}, "none.yaml"},
		{"bad phase", []string{"run", "-net", path, "-phase", "deploy"}, "deploy"},
		{"bad device", []string{"run", "-net", path, "-device", "tpu"}, `unknown device "tpu"`},
		{"bad flag", []string{"gradcheck", "-bogus"}, "bogus"},
		{"broken net", []string{"run", "-net", writeNet(t, "layers: [{name: a, type: TanH, bottom: [x], top: [y]}]")}, `unknown bottom blob "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(tt.args, &out)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGradcheck(t *testing.T) {
	path := writeNet(t, smallNet)
	var out bytes.Buffer
	require.NoError(t, run([]string{"gradcheck", "-net", path, "-threshold", "1e-2"}, &out))
	for _, name := range []string{"ip (InnerProduct)", "act (TanH)", "loss (HingeLoss)"} {
		assert.Contains(t, out.String(), name)
	}
	assert.Equal(t, 3, strings.Count(out.String(), ", 0 mismatched"))

	out.Reset()
	require.NoError(t, run([]string{"gradcheck", "-net", path, "-exhaustive", "-threshold", "1e-2"}, &out))
	assert.Equal(t, 3, strings.Count(out.String(), ", 0 mismatched"))

	inPlaceNet := strings.Replace(smallNet, "top: [act]", "top: [ip]", 1)
	inPlaceNet = strings.Replace(inPlaceNet, "bottom: [act]", "bottom: [ip]", 1)
	out.Reset()
	require.NoError(t, run([]string{"gradcheck", "-net", writeNet(t, inPlaceNet)}, &out))
	assert.Contains(t, out.String(), "act (TanH): skipped, computes in place")
}
