package serialization

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"os"
	"sort"

	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

const (
	metadataKey = "__metadata__"
	dtypeF64    = "F64"
)

// SafeTensorHeader represents a tensor in the SafeTensors header.
type SafeTensorHeader struct {
	DType       string   `json:"dtype"`
	Shape       []int64  `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"`
}

// SafeTensorsWriter writes tensors in SafeTensors format.
type SafeTensorsWriter struct {
	file   *os.File
	closed bool
}

// NewSafeTensorsWriter creates (or truncates) a SafeTensors file.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	//nolint:gosec // G304: output path comes from the net definition
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, "create safetensors file")
	}
	return &SafeTensorsWriter{file: file}, nil
}

// WriteSafeTensors writes the host values of tensors to path.
// Tensors are written in alphabetical order by name.
func WriteSafeTensors(path string, tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	writer, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	if err := writer.WriteTensors(tensors, metadata); err != nil {
		_ = writer.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return writer.Close()
}

// WriteTensors writes the header and data for tensors. It may be called
// once per writer.
func (w *SafeTensorsWriter) WriteTensors(tensors map[string]*tensor.Tensor, metadata map[string]string) error {
	if w.closed {
		return errors.New("writer is closed")
	}

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(names)+1)
	var offset int64
	for _, name := range names {
		t := tensors[name]
		shape := t.Shape()
		dims := make([]int64, len(shape))
		for i, dim := range shape {
			dims[i] = int64(dim)
		}
		size := int64(t.Count()) * 8
		header[name] = SafeTensorHeader{
			DType:       dtypeF64,
			Shape:       dims,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	data := make([]byte, 0, offset)
	for _, name := range names {
		for _, v := range tensors[name].HostData() {
			data = binary.LittleEndian.AppendUint64(data, math.Float64bits(v))
		}
	}

	meta := make(map[string]string, len(metadata)+1)
	for k, v := range metadata {
		meta[k] = v
	}
	sum := ComputeChecksum(data)
	meta[checksumKey] = hex.EncodeToString(sum[:])
	header[metadataKey] = meta

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return errors.Wrap(err, "marshal header")
	}

	if err := binary.Write(w.file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return errors.Wrap(err, "write header size")
	}
	if _, err := w.file.Write(headerJSON); err != nil {
		return errors.Wrap(err, "write header")
	}
	if _, err := w.file.Write(data); err != nil {
		return errors.Wrap(err, "write tensor data")
	}
	return nil
}

// Close closes the writer and the underlying file.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
