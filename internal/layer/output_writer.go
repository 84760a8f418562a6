package layer

import (
	"fmt"
	"strconv"

	"github.com/born-ml/brew/internal/config"
	"github.com/born-ml/brew/internal/serialization"
	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

func init() {
	newWriter := func(param config.LayerParameter) Impl {
		return &OutputWriter{param: param.OutputWriter, names: param.Bottom}
	}
	Register("OutputWriter", newWriter)
	Register("HDF5Output", newWriter)
}

// OutputWriter is a sink that records a snapshot of every bottom on each
// forward pass, named "<bottom name>_<iteration>", and writes all
// snapshots to a SafeTensors file. The file is created at Configure and
// rewritten by Flush and Close. Backward does nothing.
type OutputWriter struct {
	param     config.OutputWriterParameter
	names     []string
	snapshots map[string]*tensor.Tensor
	iter      int
	closed    bool
}

// Arity implements ArityReporter.
func (l *OutputWriter) Arity() Arity {
	return Arity{MinBottom: 1, MaxBottom: -1, MinTop: 0, MaxTop: 0}
}

// Iterations returns the number of forward passes recorded.
func (l *OutputWriter) Iterations() int { return l.iter }

// Configure implements Impl.
func (l *OutputWriter) Configure(_ *Context, bottom, _ []*tensor.Tensor) {
	if l.param.FileName == "" {
		panic(errors.New("OutputWriter: file_name is required"))
	}
	if len(l.names) != len(bottom) {
		panic(errors.Errorf("OutputWriter: %d bottom names for %d bottoms", len(l.names), len(bottom)))
	}
	l.snapshots = make(map[string]*tensor.Tensor)
	l.iter = 0
	if err := l.Flush(); err != nil {
		panic(errors.Wrapf(err, "OutputWriter: failed to open %s", l.param.FileName))
	}
}

// Reshape implements Impl.
func (l *OutputWriter) Reshape(_, _ []*tensor.Tensor) {}

// Forward implements Impl.
func (l *OutputWriter) Forward(_ *Context, bottom, _ []*tensor.Tensor) {
	for i, b := range bottom {
		id := l.names[i] + "_" + strconv.Itoa(l.iter)
		if l.iter == 0 {
			klog.V(1).Infof("Saving batch %s to %s", id, l.param.FileName)
		}
		l.snapshots[id] = b.Clone()
	}
	l.iter++
}

// Backward implements Impl.
func (l *OutputWriter) Backward(_ *Context, _ []*tensor.Tensor, _ []bool, _ []*tensor.Tensor) {}

// Flush writes every snapshot recorded so far.
func (l *OutputWriter) Flush() error {
	meta := map[string]string{"iterations": fmt.Sprint(l.iter)}
	return serialization.WriteSafeTensors(l.param.FileName, l.snapshots, meta)
}

// Close flushes the file. Further calls do nothing.
func (l *OutputWriter) Close() error {
	if l.closed || l.snapshots == nil {
		return nil
	}
	l.closed = true
	return l.Flush()
}
