// Package filler initializes tensors from a config.FillerParameter.
//
// Supported types:
//   - constant: every value equals Value
//   - uniform: U(Min, Max)
//   - gaussian: N(Mean, Std), optionally sparse
//   - positive_unitball: U(0, 1) normalized so every row sums to 1
//   - xavier: U(-a, a) with a = sqrt(3 / fan_in)
//   - expectation: weights whose inner product yields the expected x/y
//     coordinate of a Height×Width map
//   - expectation_data: each value is its own normalized x or y coordinate
//
// Fillers only touch the host buffer and are meant for initialization.
// Configuration errors panic.
package filler

import (
	"math"
	"math/rand"

	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

// Filler writes initial values into a tensor.
type Filler interface {
	Fill(t *tensor.Tensor)
}

// New returns the filler selected by param.Type. rng supplies all
// randomness, so fills are reproducible for a fixed seed.
func New(param config.FillerParameter, rng *rand.Rand) Filler {
	if param.Type != "gaussian" && param.Sparse != -1 {
		panic(errors.Errorf("filler: sparsity not supported by the %s filler (sparse=%d)", param.Type, param.Sparse))
	}
	switch param.Type {
	case "constant":
		return &Constant{Value: param.Value}
	case "uniform":
		return &Uniform{Min: param.Min, Max: param.Max, rng: rng}
	case "gaussian":
		if param.Sparse < -1 {
			panic(errors.Errorf("filler: sparse must be >= -1, got %d", param.Sparse))
		}
		return &Gaussian{Mean: param.Mean, Std: param.Std, Sparse: param.Sparse, rng: rng}
	case "positive_unitball":
		return &PositiveUnitball{rng: rng}
	case "xavier":
		return &Xavier{rng: rng}
	case "expectation":
		return newExpectation(param)
	case "expectation_data":
		return newExpectationData(param)
	default:
		panic(errors.Errorf("filler: unknown filler type %q", param.Type))
	}
}

// Constant fills every element with Value.
type Constant struct {
	Value float64
}

// Fill implements Filler.
func (f *Constant) Fill(t *tensor.Tensor) {
	data := mustData(t)
	for i := range data {
		data[i] = f.Value
	}
}

// Uniform draws from U(Min, Max).
type Uniform struct {
	Min, Max float64
	rng      *rand.Rand
}

// Fill implements Filler.
func (f *Uniform) Fill(t *tensor.Tensor) {
	uniform(f.rng, mustData(t), f.Min, f.Max)
}

// Gaussian draws from N(Mean, Std²).
//
// With Sparse >= 0 the tensor is treated as a weight matrix whose axis 0
// indexes outputs: each element is kept with probability Sparse/shape(0),
// so every output has Sparse non-zero inputs on average.
type Gaussian struct {
	Mean, Std float64
	Sparse    int
	rng       *rand.Rand
}

// Fill implements Filler.
func (f *Gaussian) Fill(t *tensor.Tensor) {
	data := mustData(t)
	for i := range data {
		data[i] = f.rng.NormFloat64()*f.Std + f.Mean
	}
	if f.Sparse < 0 {
		return
	}
	if t.NumAxes() < 1 {
		panic(errors.New("filler: sparse gaussian needs at least one axis"))
	}
	prob := float64(f.Sparse) / float64(t.ShapeAt(0))
	for i := range data {
		if f.rng.Float64() >= prob {
			data[i] = 0
		}
	}
}

// PositiveUnitball fills each row (axis 0 slice) with positive values that
// sum to one.
type PositiveUnitball struct {
	rng *rand.Rand
}

// Fill implements Filler.
func (f *PositiveUnitball) Fill(t *tensor.Tensor) {
	data := mustData(t)
	uniform(f.rng, data, 0, 1)
	num := rows(t)
	dim := len(data) / num
	for i := 0; i < num; i++ {
		row := data[i*dim : (i+1)*dim]
		sum := 0.0
		for _, v := range row {
			sum += v
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// Xavier draws from U(-a, a) with a = sqrt(3 / fan_in), where fan_in is
// the count divided by shape(0). The fan-out is not used.
type Xavier struct {
	rng *rand.Rand
}

// Fill implements Filler.
func (f *Xavier) Fill(t *tensor.Tensor) {
	data := mustData(t)
	fanIn := len(data) / rows(t)
	scale := math.Sqrt(3 / float64(fanIn))
	uniform(f.rng, data, -scale, scale)
}

func uniform(rng *rand.Rand, data []float64, lo, hi float64) {
	if hi < lo {
		panic(errors.Errorf("filler: uniform range [%g, %g) is empty", lo, hi))
	}
	for i := range data {
		data[i] = lo + rng.Float64()*(hi-lo)
	}
}

// mustData returns the writable values of a non-empty tensor.
func mustData(t *tensor.Tensor) []float64 {
	if t.Count() == 0 {
		panic(errors.Errorf("filler: cannot fill empty tensor %s", t))
	}
	return t.MutableHostData()
}

// rows returns shape(0), or 1 for a scalar.
func rows(t *tensor.Tensor) int {
	if t.NumAxes() == 0 {
		return 1
	}
	return t.ShapeAt(0)
}
