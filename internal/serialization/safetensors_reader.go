package serialization

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"os"
	"sort"

	"github.com/born-ml/brew/internal/tensor"
	"github.com/pkg/errors"
)

// SafeTensorsHeader is the parsed JSON header of a SafeTensors file.
type SafeTensorsHeader struct {
	Metadata map[string]string
	Tensors  map[string]SafeTensorHeader
}

// UnmarshalJSON splits the __metadata__ entry from the tensor entries.
func (h *SafeTensorsHeader) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metadataRaw, ok := rawMap[metadataKey]; ok {
		if err := json.Unmarshal(metadataRaw, &h.Metadata); err != nil {
			return errors.Wrap(err, "unmarshal metadata")
		}
	}

	h.Tensors = make(map[string]SafeTensorHeader, len(rawMap))
	for key, value := range rawMap {
		if key == metadataKey {
			continue
		}
		var info SafeTensorHeader
		if err := json.Unmarshal(value, &info); err != nil {
			return errors.Wrapf(err, "unmarshal tensor %s", key)
		}
		h.Tensors[key] = info
	}
	return nil
}

// ReadSafeTensors reads every tensor of an F64 SafeTensors file into
// host-only tensors, after validating names, offsets and the checksum.
func ReadSafeTensors(path string) (map[string]*tensor.Tensor, map[string]string, error) {
	//nolint:gosec // G304: path comes from the caller
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open safetensors file")
	}
	defer func() { _ = file.Close() }()

	tensors, meta, err := Decode(file)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "read %s", path)
	}
	return tensors, meta, nil
}

// Decode reads a SafeTensors stream.
func Decode(r io.Reader) (map[string]*tensor.Tensor, map[string]string, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, nil, errors.Wrap(err, "read header size")
	}
	if headerSize > MaxHeaderSize {
		return nil, nil, errors.Wrapf(ErrHeaderTooLarge, "%d bytes", headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, nil, errors.Wrap(err, "read header")
	}
	var header SafeTensorsHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, nil, errors.Wrap(err, "parse header")
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read tensor data")
	}
	if stored, ok := header.Metadata[checksumKey]; ok {
		if err := ValidateChecksum(data, stored); err != nil {
			return nil, nil, err
		}
	}

	names := make([]string, 0, len(header.Tensors))
	metas := make([]TensorMeta, 0, len(header.Tensors))
	for name, info := range header.Tensors {
		if err := ValidateTensorName(name); err != nil {
			return nil, nil, err
		}
		if info.DType != dtypeF64 {
			return nil, nil, errors.Wrapf(ErrUnsupportedDType, "tensor %s has dtype %s", name, info.DType)
		}
		names = append(names, name)
		metas = append(metas, TensorMeta{
			Name:   name,
			Offset: info.DataOffsets[0],
			Size:   info.DataOffsets[1] - info.DataOffsets[0],
		})
	}
	if err := ValidateTensorOffsets(metas, int64(len(data))); err != nil {
		return nil, nil, err
	}
	sort.Strings(names)

	tensors := make(map[string]*tensor.Tensor, len(names))
	for _, name := range names {
		info := header.Tensors[name]
		shape := make([]int, len(info.Shape))
		for i, dim := range info.Shape {
			shape[i] = int(dim)
		}
		if err := tensor.Shape(shape).Validate(); err != nil {
			return nil, nil, errors.Wrapf(err, "tensor %s", name)
		}
		region := data[info.DataOffsets[0]:info.DataOffsets[1]]
		count := tensor.Shape(shape).Count()
		if len(region) != count*8 {
			return nil, nil, &ValidationError{
				Kind:    ErrOutOfBounds,
				Tensor:  name,
				Details: "data size does not match shape",
			}
		}
		t := tensor.New(nil, shape...)
		values := t.MutableHostData()
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(region[i*8:]))
		}
		tensors[name] = t
	}

	meta := header.Metadata
	delete(meta, checksumKey)
	return tensors, meta, nil
}
