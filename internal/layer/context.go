package layer

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/brew/internal/memory"
	"github.com/pkg/errors"
)

// Phase selects training or evaluation behavior.
type Phase int

// Supported phases.
const (
	Train Phase = iota
	Test
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case Train:
		return "train"
	case Test:
		return "test"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// ParsePhase parses "train" or "test".
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "train":
		return Train, nil
	case "test":
		return Test, nil
	default:
		return 0, errors.Errorf("unknown phase %q (want train or test)", s)
	}
}

// Context carries the execution settings shared by every layer call.
// Independent contexts can drive independent nets.
type Context struct {
	Mode   memory.Mode
	Phase  Phase
	Device memory.Device
	Rand   *rand.Rand
}

// NewContext returns a host-mode training context seeded with seed.
func NewContext(seed int64) *Context {
	return &Context{
		Mode:  memory.Host,
		Phase: Train,
		Rand:  rand.New(rand.NewSource(seed)), //nolint:gosec // deterministic seed for reproducibility
	}
}

// Seed resets the random source. Layers that draw random numbers produce
// the same draws after every Seed with the same value.
func (c *Context) Seed(seed int64) {
	c.Rand = rand.New(rand.NewSource(seed)) //nolint:gosec // deterministic seed for reproducibility
}

// UseDevice reports whether accelerator paths should run: the mode asks
// for the accelerator and a device is present.
func (c *Context) UseDevice() bool {
	return c.Mode == memory.Accelerator && c.Device != nil
}
