package serialization

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/born-lora/internal/tensor"
)

// Checkpoint is a decoded SafeTensors file.
type Checkpoint struct {
	Metadata map[string]string
	Tensors  map[string]*tensor.Tensor
}

// Names returns the tensor names in alphabetical order.
func (c *Checkpoint) Names() []string {
	names := make([]string, 0, len(c.Tensors))
	for name := range c.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadSafeTensors reads a whole checkpoint from path.
func ReadSafeTensors(path string) (*Checkpoint, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for model loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close() // Read-only, close error is not actionable
	}()

	ckpt, err := Decode(bufio.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ckpt, nil
}

// Decode reads a SafeTensors stream, validating the header before touching
// tensor data.
func Decode(r io.Reader) (*Checkpoint, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrHeaderTooLarge, headerSize)
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := ValidateHeader(&header, int64(len(data))); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	ckpt := &Checkpoint{
		Metadata: header.Metadata,
		Tensors:  make(map[string]*tensor.Tensor, len(header.Tensors)),
	}
	for name, info := range header.Tensors {
		t, err := decodeF32(data[info.DataOffsets[0]:info.DataOffsets[1]], info.Shape)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		ckpt.Tensors[name] = t
	}
	return ckpt, nil
}

func decodeF32(raw []byte, shape []int) (*tensor.Tensor, error) {
	values := make([]float32, len(raw)/bytesPerF32)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, values); err != nil {
		return nil, err
	}
	return tensor.FromSlice(values, tensor.Shape(shape))
}
