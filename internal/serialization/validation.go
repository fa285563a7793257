package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/born-lora/internal/tensor"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB
	MaxTensorNameLen = 4096
)

// ValidateTensorName rejects empty names, path separators and null bytes.
func ValidateTensorName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
	case len(name) > MaxTensorNameLen:
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name,
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen)}
	case name == metadataKey:
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "reserved key"}
	case strings.Contains(name, ".."):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains '..'"}
	case strings.ContainsAny(name, "/\\"):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains path separator"}
	case strings.Contains(name, "\x00"):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains null byte"}
	}
	return nil
}

// ValidateHeader checks names, dtypes, shapes and that every tensor lies in
// the data section without overlapping another one.
func ValidateHeader(h *Header, dataSize int64) error {
	names := make([]string, 0, len(h.Tensors))
	for name, info := range h.Tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		if info.DType != DTypeF32 {
			return &ValidationError{Err: ErrUnsupportedDType, Tensor: name, Details: info.DType}
		}
		shape := tensor.Shape(info.Shape)
		if err := shape.Validate(); err != nil {
			return &ValidationError{Err: ErrShapeMismatch, Tensor: name, Details: err.Error()}
		}
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: name,
				Details: fmt.Sprintf("offsets [%d, %d]", start, end)}
		}
		if end > dataSize {
			return &ValidationError{Err: ErrOutOfBounds, Tensor: name,
				Details: fmt.Sprintf("end %d > data_size %d", end, dataSize)}
		}
		if want := int64(shape.NumElements()) * bytesPerF32; end-start != want {
			return &ValidationError{Err: ErrShapeMismatch, Tensor: name,
				Details: fmt.Sprintf("shape %v needs %d bytes, got %d", shape, want, end-start)}
		}
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		return h.Tensors[names[i]].DataOffsets[0] < h.Tensors[names[j]].DataOffsets[0]
	})
	for i := 1; i < len(names); i++ {
		prev, cur := h.Tensors[names[i-1]], h.Tensors[names[i]]
		if prev.DataOffsets[1] > cur.DataOffsets[0] {
			return &ValidationError{Err: ErrOffsetOverlap, Tensor: names[i-1], Tensor2: names[i],
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap",
					prev.DataOffsets[0], prev.DataOffsets[1], cur.DataOffsets[0], cur.DataOffsets[1])}
		}
	}
	return nil
}
