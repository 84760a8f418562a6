// Package gradcheck compares the analytic gradients of a layer against
// central finite differences.
//
// Every check reduces the layer's tops to a scalar objective, runs Backward
// once to collect the analytic gradient of every checked input, then
// perturbs each element by ±stepsize and re-evaluates the objective:
//
//	numeric = (f(x + step) - f(x - step)) / (2 step)
//
// The two agree when |analytic - numeric| <= threshold · max(|analytic|, |numeric|, 1).
// The context's random source is reseeded before every forward pass so
// stochastic layers see the same draws in each evaluation.
package gradcheck

import (
	"fmt"
	"math"
	"strings"

	"github.com/born-ml/brew/internal/backend/cpu"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

// DefaultSeed is the random seed applied before every forward pass.
const DefaultSeed int64 = 1701

// Checker runs gradient checks with fixed tolerances.
type Checker struct {
	stepsize  float64
	threshold float64
	seed      int64
	kink      float64
	kinkRange float64
}

// Option configures a Checker.
type Option func(*Checker)

// WithSeed sets the seed applied to the context before every forward pass.
func WithSeed(seed int64) Option {
	return func(c *Checker) {
		c.seed = seed
	}
}

// WithKink skips elements whose value lies within kinkRange of kink, where
// the objective is not differentiable (for example 0 for ReLU-like layers).
// A negative kinkRange disables skipping.
func WithKink(kink, kinkRange float64) Option {
	return func(c *Checker) {
		c.kink = kink
		c.kinkRange = kinkRange
	}
}

// New returns a Checker that perturbs inputs by stepsize and accepts a
// relative error up to threshold.
func New(stepsize, threshold float64, opts ...Option) *Checker {
	c := &Checker{
		stepsize:  stepsize,
		threshold: threshold,
		seed:      DefaultSeed,
		kinkRange: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mismatch describes one element whose analytic and numeric gradients
// disagree.
type Mismatch struct {
	Tensor    string // "param[i]" or "bottom[i]"
	Index     int    // flat element index
	Coords    []int
	TopID     int // -1 for the sum-of-squares objective
	TopDataID int
	Analytic  float64
	Numeric   float64
}

func (m Mismatch) String() string {
	target := "Σ½y²"
	if m.TopID >= 0 {
		target = fmt.Sprintf("top[%d][%d]", m.TopID, m.TopDataID)
	}
	return fmt.Sprintf("d%s/d%s%v: analytic %g, numeric %g",
		target, m.Tensor, m.Coords, m.Analytic, m.Numeric)
}

// Report collects the outcome of one or more checks.
type Report struct {
	Checked    int
	Mismatches []Mismatch
}

// OK reports whether every compared element agreed.
func (r *Report) OK() bool { return len(r.Mismatches) == 0 }

// Err returns nil when every compared element agreed, or an error naming
// the first mismatch.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return errors.Errorf("gradient check: %d of %d elements disagree; first: %s",
		len(r.Mismatches), r.Checked, r.Mismatches[0])
}

// String summarizes the report, listing every mismatch.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d checked, %d mismatched", r.Checked, len(r.Mismatches))
	for _, m := range r.Mismatches {
		b.WriteString("\n  ")
		b.WriteString(m.String())
	}
	return b.String()
}

// Merge adds the counts and mismatches of other to r.
func (r *Report) Merge(other *Report) {
	r.Checked += other.Checked
	r.Mismatches = append(r.Mismatches, other.Mismatches...)
}

// CheckGradient checks the gradient of ½ Σ y² over every top element.
// checkBottom selects the bottom to check, or -1 for all of them;
// parameters are always checked unless frozen.
func (c *Checker) CheckGradient(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor, checkBottom int) *Report {
	return c.CheckGradientSingle(l, ctx, bottom, top, checkBottom, -1, -1, false)
}

// CheckGradientExhaustive runs one check per top element, each using that
// element alone as the objective.
func (c *Checker) CheckGradientExhaustive(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor, checkBottom int) *Report {
	prepare(l, ctx, bottom, top)
	if len(top) == 0 {
		panic(errors.New("gradcheck: exhaustive check needs at least one top"))
	}
	report := &Report{}
	for i := range top {
		for j := 0; j < top[i].Count(); j++ {
			report.Merge(c.CheckGradientSingle(l, ctx, bottom, top, checkBottom, i, j, false))
		}
	}
	return report
}

// CheckGradientEltwise checks an elementwise layer: for each top element
// only the matching element of every input is perturbed, and the
// estimates for the others are taken to be zero.
func (c *Checker) CheckGradientEltwise(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor) *Report {
	prepare(l, ctx, bottom, top)
	if len(top) == 0 {
		panic(errors.New("gradcheck: elementwise check needs at least one top"))
	}
	report := &Report{}
	for i := range top {
		for j := 0; j < top[i].Count(); j++ {
			report.Merge(c.CheckGradientSingle(l, ctx, bottom, top, -1, i, j, true))
		}
	}
	return report
}

// CheckGradientSingle checks one objective: ½ Σ y² over all tops when topID
// is negative, otherwise 2 · top[topID][topDataID]. With elementwise set,
// only element topDataID of each checked input is perturbed.
func (c *Checker) CheckGradientSingle(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor,
	checkBottom, topID, topDataID int, elementwise bool) *Report {
	prepare(l, ctx, bottom, top)
	if elementwise {
		if topID < 0 || topDataID < 0 {
			panic(errors.New("gradcheck: elementwise check needs a top element"))
		}
		n := top[topID].Count()
		for i, b := range bottom {
			if b.Count() != n {
				panic(errors.Errorf("gradcheck: elementwise check needs bottom[%d] (%d) to match top[%d] (%d)",
					i, b.Count(), topID, n))
			}
		}
	}
	if checkBottom >= len(bottom) {
		panic(errors.Errorf("gradcheck: bottom %d out of range [0, %d)", checkBottom, len(bottom)))
	}

	var (
		targets []*tensor.Tensor
		names   []string
	)
	for i, p := range l.Params() {
		if !l.ParamPropagateDown(i) {
			continue
		}
		p.SetDiffZero()
		targets = append(targets, p)
		names = append(names, fmt.Sprintf("param[%d]", i))
	}
	propagateDown := make([]bool, len(bottom))
	for i, b := range bottom {
		if checkBottom >= 0 && i != checkBottom {
			continue
		}
		propagateDown[i] = true
		targets = append(targets, b)
		names = append(names, fmt.Sprintf("bottom[%d]", i))
	}
	if len(targets) == 0 {
		panic(errors.Errorf("gradcheck: layer %s has nothing to check", l.Name()))
	}

	c.reset(l, ctx)
	l.Forward(ctx, bottom, top)
	objective(top, topID, topDataID)
	l.Backward(ctx, top, propagateDown, bottom)

	analytic := make([][]float64, len(targets))
	for i, t := range targets {
		analytic[i] = append([]float64(nil), t.HostDiff()...)
	}

	report := &Report{}
	for i, t := range targets {
		for j := 0; j < t.Count(); j++ {
			numeric := 0.0
			if !elementwise || j == topDataID {
				numeric = c.estimate(l, ctx, bottom, top, t, j, topID, topDataID)
			}
			feature := t.HostData()[j]
			if !c.compared(feature) {
				continue
			}
			report.Checked++
			a := analytic[i][j]
			scale := math.Max(math.Max(math.Abs(a), math.Abs(numeric)), 1)
			if math.Abs(a-numeric) > c.threshold*scale {
				report.Mismatches = append(report.Mismatches, Mismatch{
					Tensor:    names[i],
					Index:     j,
					Coords:    coords(t.Shape(), j),
					TopID:     topID,
					TopDataID: topDataID,
					Analytic:  a,
					Numeric:   numeric,
				})
			}
		}
	}
	return report
}

// estimate returns the central difference of the objective with respect
// to element j of t, restoring the element afterwards.
func (c *Checker) estimate(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor,
	t *tensor.Tensor, j, topID, topDataID int) float64 {
	data := t.MutableHostData()
	data[j] += c.stepsize
	c.reset(l, ctx)
	l.Forward(ctx, bottom, top)
	positive := objective(top, topID, topDataID)

	data = t.MutableHostData()
	data[j] -= 2 * c.stepsize
	c.reset(l, ctx)
	l.Forward(ctx, bottom, top)
	negative := objective(top, topID, topDataID)

	data = t.MutableHostData()
	data[j] += c.stepsize
	return (positive - negative) / (2 * c.stepsize)
}

// reset makes every Forward of a check start from the same state: the
// same random draws and no carried state.
func (c *Checker) reset(l *layer.Layer, ctx *layer.Context) {
	ctx.Seed(c.seed)
	l.ResetState()
}

func (c *Checker) compared(feature float64) bool {
	v := math.Abs(feature)
	return c.kink-c.kinkRange > v || v > c.kink+c.kinkRange
}

// objective evaluates the check objective and writes its gradient with
// respect to the tops into the top diffs.
func objective(top []*tensor.Tensor, topID, topDataID int) float64 {
	if topID < 0 {
		loss := 0.0
		for _, t := range top {
			data := t.HostData()
			cpu.Copy(t.MutableHostDiff(), data)
			loss += cpu.Sumsq(data)
		}
		return loss / 2
	}
	for _, t := range top {
		t.SetDiffZero()
	}
	const weight = 2.0
	t := top[topID]
	t.MutableHostDiff()[topDataID] = weight
	return weight * t.HostData()[topDataID]
}

// prepare brings l to a state where Forward may run.
func prepare(l *layer.Layer, ctx *layer.Context, bottom, top []*tensor.Tensor) {
	if l.State() == layer.Unconfigured {
		l.SetUp(ctx, bottom, top)
		return
	}
	l.Reshape(bottom, top)
}

func coords(shape tensor.Shape, index int) []int {
	out := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i] == 0 {
			continue
		}
		out[i] = index % shape[i]
		index /= shape[i]
	}
	return out
}
