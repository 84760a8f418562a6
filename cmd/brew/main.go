// Package main provides the brew CLI: run a net described in YAML, or check
// the gradients of its layers.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/born-ml/brew/internal/backend/sim"
	"github.com/born-ml/brew/internal/backend/webgpu"
	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/gradcheck"
	"github.com/born-ml/brew/internal/layer"
	"github.com/born-ml/brew/internal/memory"
	"github.com/born-ml/brew/internal/net"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const version = "v0.1.0-dev"

func main() {
	defer klog.Flush()
	if err := run(os.Args[1:], os.Stdout); err != nil {
		klog.Fatalf("brew: %v", err)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 {
		usage(w)
		return nil
	}
	switch args[0] {
	case "version":
		fmt.Fprintf(w, "brew %s\n", version)
		return nil
	case "run":
		return runNet(args[1:], w)
	case "gradcheck":
		return checkNet(args[1:], w)
	case "help", "-h", "--help":
		usage(w)
		return nil
	default:
		usage(w)
		return errors.Errorf("unknown command %q", args[0])
	}
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "brew %s\n\n", version)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  version     Show version")
	fmt.Fprintln(w, "  run         Run forward (and backward) passes over a net")
	fmt.Fprintln(w, "  gradcheck   Compare analytic and numeric gradients of every layer")
}

// common holds the flags shared by run and gradcheck.
type common struct {
	netPath string
	device  string
	phase   string
	seed    int64
}

func newFlagSet(name string, w io.Writer, c *common) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(w)
	fs.StringVar(&c.netPath, "net", "", "net configuration (YAML)")
	fs.StringVar(&c.device, "device", "host", "compute device: host, sim or webgpu")
	fs.StringVar(&c.phase, "phase", "train", "phase: train or test")
	fs.Int64Var(&c.seed, "seed", gradcheck.DefaultSeed, "random seed")
	klog.InitFlags(fs)
	return fs
}

// setup loads the net configuration and builds the execution context.
func (c *common) setup() (*config.NetParameter, *layer.Context, error) {
	if c.netPath == "" {
		return nil, nil, errors.New("-net is required")
	}
	param, err := config.Load(c.netPath)
	if err != nil {
		return nil, nil, err
	}
	phase, err := layer.ParsePhase(c.phase)
	if err != nil {
		return nil, nil, err
	}
	dev, err := openDevice(c.device)
	if err != nil {
		return nil, nil, err
	}
	ctx := layer.NewContext(c.seed)
	ctx.Phase = phase
	if dev != nil {
		ctx.Device = dev
		ctx.Mode = memory.Accelerator
		klog.Infof("Using device %s", dev.Name())
	}
	return param, ctx, nil
}

// openDevice returns nil for the host. An unavailable WebGPU device is not
// an error: the net runs on the host instead.
func openDevice(name string) (memory.Device, error) {
	switch name {
	case "host", "":
		return nil, nil
	case "sim":
		return sim.New(), nil
	case "webgpu":
		dev, err := webgpu.New()
		if err != nil {
			klog.Warningf("%v; running on the host", err)
			return nil, nil
		}
		return dev, nil
	default:
		return nil, errors.Errorf("unknown device %q (want host, sim or webgpu)", name)
	}
}

func runNet(args []string, w io.Writer) error {
	var c common
	fs := newFlagSet("run", w, &c)
	iters := fs.Int("iters", 1, "number of iterations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	param, ctx, err := c.setup()
	if err != nil {
		return err
	}
	n, err := net.New(param, ctx)
	if err != nil {
		return err
	}
	for i := 0; i < *iters; i++ {
		var loss float64
		if ctx.Phase == layer.Train {
			n.ClearParamDiffs()
			loss = n.ForwardBackward(ctx)
		} else {
			loss = n.Forward(ctx)
		}
		fmt.Fprintf(w, "iteration %d: loss = %g\n", i, loss)
	}
	return n.Close()
}

func checkNet(args []string, w io.Writer) error {
	var c common
	fs := newFlagSet("gradcheck", w, &c)
	step := fs.Float64("step", 1e-2, "finite difference step")
	threshold := fs.Float64("threshold", 1e-3, "relative error threshold")
	kink := fs.Float64("kink", 0, "value around which elements are skipped")
	kinkRange := fs.Float64("kink-range", -1, "half width of the skipped region; negative disables skipping")
	exhaustive := fs.Bool("exhaustive", false, "check every top element separately")
	if err := fs.Parse(args); err != nil {
		return err
	}
	param, ctx, err := c.setup()
	if err != nil {
		return err
	}
	n, err := net.New(param, ctx)
	if err != nil {
		return err
	}
	defer func() { _ = n.Close() }()

	// Populate every blob so each layer sees realistic inputs.
	n.Forward(ctx)

	checker := gradcheck.New(*step, *threshold,
		gradcheck.WithSeed(c.seed), gradcheck.WithKink(*kink, *kinkRange))
	failed := 0
	for i, l := range n.Layers() {
		bottom, top := n.LayerBlobs(i)
		targets := checkTargets(l, len(bottom))
		switch {
		case len(top) == 0 || len(targets) == 0:
			fmt.Fprintf(w, "%s (%s): skipped, nothing to check\n", l.Name(), l.Type())
			continue
		case inPlace(bottom, top):
			// Perturbing an input that the forward pass overwrites is
			// meaningless.
			fmt.Fprintf(w, "%s (%s): skipped, computes in place\n", l.Name(), l.Type())
			continue
		}
		report := &gradcheck.Report{}
		for _, b := range targets {
			var r *gradcheck.Report
			if *exhaustive {
				r = checker.CheckGradientExhaustive(l, ctx, bottom, top, b)
			} else {
				r = checker.CheckGradient(l, ctx, bottom, top, b)
			}
			report.Merge(r)
		}
		fmt.Fprintf(w, "%s (%s): %s\n", l.Name(), l.Type(), report)
		if !report.OK() {
			failed++
		}
	}
	if failed > 0 {
		return errors.Errorf("gradient check failed for %d layer(s)", failed)
	}
	return nil
}

func inPlace(bottom, top []*tensor.Tensor) bool {
	for _, b := range bottom {
		if slices.Contains(top, b) {
			return true
		}
	}
	return false
}

// checkTargets returns the checkBottom values covering every bottom that
// can take a gradient: -1 when all can.
func checkTargets(l *layer.Layer, bottoms int) []int {
	var allowed []int
	for j := 0; j < bottoms; j++ {
		if l.AllowForceBackward(j) {
			allowed = append(allowed, j)
		}
	}
	if len(allowed) == bottoms && bottoms > 0 {
		return []int{-1}
	}
	return allowed
}
