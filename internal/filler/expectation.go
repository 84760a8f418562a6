package filler

import (
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

// coord maps pixel i of an n-wide axis onto [-1, 1].
// A single-pixel axis maps to 0.
func coord(i, n int) float64 {
	if n <= 1 {
		return 0
	}
	return 2 * (float64(i)/float64(n-1) - 0.5)
}

// Expectation fills an inner-product weight of shape (K, Height·Width) so
// that applying it to a normalized Height×Width map yields expected
// coordinates. Option selects the outputs:
//   - x, y: K = 1, E[x] or E[y]
//   - xy: K = 2, E[x] and E[y]
//   - -x^2y^2: K = 2, -E[x²] and -E[y²]
type Expectation struct {
	Width, Height int
	Option        string
}

func newExpectation(param config.FillerParameter) *Expectation {
	switch param.ExpectationOption {
	case "x", "y", "xy", "-x^2y^2":
	default:
		panic(errors.Errorf("filler: unknown expectation option %q", param.ExpectationOption))
	}
	return &Expectation{Width: param.Width, Height: param.Height, Option: param.ExpectationOption}
}

// Fill implements Filler.
func (f *Expectation) Fill(t *tensor.Tensor) {
	data := mustData(t)
	if t.NumAxes() < 2 {
		panic(errors.Errorf("filler: expectation weight must have at least 2 axes, got %s", t))
	}
	pixels := f.Width * f.Height
	if t.ShapeAt(1) != pixels {
		panic(errors.Errorf("filler: expectation weight axis 1 is %d, want width*height = %d", t.ShapeAt(1), pixels))
	}
	outputs := t.ShapeAt(0)
	want := 1
	if f.Option == "xy" || f.Option == "-x^2y^2" {
		want = 2
	}
	if outputs != want {
		panic(errors.Errorf("filler: expectation option %q needs %d outputs, weight has %d", f.Option, want, outputs))
	}

	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			cx, cy := coord(x, f.Width), coord(y, f.Height)
			offset := y*f.Width + x
			switch f.Option {
			case "x":
				data[offset] = cx
			case "y":
				data[offset] = cy
			case "xy":
				data[offset] = cx
				data[pixels+offset] = cy
			case "-x^2y^2":
				data[offset] = -cx * cx
				data[pixels+offset] = -cy * cy
			}
		}
	}
}

// ExpectationData writes into every element its own normalized x or y
// coordinate within the trailing two axes.
type ExpectationData struct {
	Option string
}

func newExpectationData(param config.FillerParameter) *ExpectationData {
	if param.ExpectationOption != "x" && param.ExpectationOption != "y" {
		panic(errors.Errorf("filler: only x or y allowed as expectation data option, not %q", param.ExpectationOption))
	}
	return &ExpectationData{Option: param.ExpectationOption}
}

// Fill implements Filler.
func (f *ExpectationData) Fill(t *tensor.Tensor) {
	data := mustData(t)
	if t.NumAxes() < 2 {
		panic(errors.Errorf("filler: expectation data needs at least 2 axes, got %s", t))
	}
	width, height := t.ShapeAt(-1), t.ShapeAt(-2)
	maps := t.CountRange(0, t.CanonicalAxisIndex(-2))
	for c := 0; c < maps; c++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := coord(x, width)
				if f.Option == "y" {
					v = coord(y, height)
				}
				data[(c*height+y)*width+x] = v
			}
		}
	}
}
