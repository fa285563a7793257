package serialization

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-lora/internal/tensor"
)

func mustTensor(t *testing.T, data []float32, shape ...int) *tensor.Tensor {
	t.Helper()
	out, err := tensor.FromSlice(data, shape)
	require.NoError(t, err)
	return out
}

// rawFile assembles a SafeTensors stream from a hand-written header.
func rawFile(t *testing.T, header map[string]any, data []byte) []byte {
	t.Helper()
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON))))
	buf.Write(headerJSON)
	buf.Write(data)
	return buf.Bytes()
}

func TestSafeTensors_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.safetensors")

	original := map[string]*tensor.Tensor{
		"linear1.weight": mustTensor(t, []float32{1, 2, 3, 4, 5, 6}, 2, 3),
		"linear1.bias":   mustTensor(t, []float32{0.1, 0.2}, 2),
	}
	require.NoError(t, WriteSafeTensors(path, original, map[string]string{"format": "pt"}))

	ckpt, err := ReadSafeTensors(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"format": "pt"}, ckpt.Metadata)
	assert.Equal(t, []string{"linear1.bias", "linear1.weight"}, ckpt.Names())

	for name, want := range original {
		got := ckpt.Tensors[name]
		require.NotNil(t, got, name)
		assert.True(t, want.Equal(got), "%s: got %v want %v", name, got, want)
	}
}

func TestEncode_LayoutIsAlphabetical(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, map[string]*tensor.Tensor{
		"b": mustTensor(t, []float32{2}, 1),
		"a": mustTensor(t, []float32{1, 1}, 2),
	}, nil)
	require.NoError(t, err)

	raw := buf.Bytes()
	headerSize := binary.LittleEndian.Uint64(raw[:8])
	var header Header
	require.NoError(t, json.Unmarshal(raw[8:8+headerSize], &header))

	assert.Nil(t, header.Metadata)
	assert.Equal(t, [2]int64{0, 8}, header.Tensors["a"].DataOffsets)
	assert.Equal(t, [2]int64{8, 12}, header.Tensors["b"].DataOffsets)
	assert.Len(t, raw, 8+int(headerSize)+12)
}

func TestEncode_Deterministic(t *testing.T) {
	tensors := map[string]*tensor.Tensor{
		"x": mustTensor(t, []float32{1, 2}, 2),
		"y": mustTensor(t, []float32{3}, 1),
		"z": mustTensor(t, []float32{4, 5, 6, 7}, 2, 2),
	}
	var first, second bytes.Buffer
	require.NoError(t, Encode(&first, tensors, map[string]string{"rank": "1"}))
	require.NoError(t, Encode(&second, tensors, map[string]string{"rank": "1"}))
	assert.Equal(t, first.Bytes(), second.Bytes())
}

func TestEncode_RejectsBadNames(t *testing.T) {
	one := mustTensor(t, []float32{1}, 1)
	for _, name := range []string{"", "../escape", "a/b", "__metadata__", "nul\x00"} {
		err := Encode(&bytes.Buffer{}, map[string]*tensor.Tensor{name: one}, nil)
		assert.True(t, errors.Is(err, ErrInvalidTensorName), "name %q: %v", name, err)
	}
}

func TestDecode_Validation(t *testing.T) {
	f32 := func(offsets [2]int64, shape ...int) map[string]any {
		return map[string]any{"dtype": "F32", "shape": shape, "data_offsets": offsets}
	}

	tests := []struct {
		name   string
		header map[string]any
		data   []byte
		want   error
	}{
		{
			name:   "out of bounds",
			header: map[string]any{"w": f32([2]int64{0, 16}, 4)},
			data:   make([]byte, 8),
			want:   ErrOutOfBounds,
		},
		{
			name:   "negative offset",
			header: map[string]any{"w": f32([2]int64{-4, 0}, 1)},
			data:   make([]byte, 8),
			want:   ErrOutOfBounds,
		},
		{
			name: "overlap",
			header: map[string]any{
				"a": f32([2]int64{0, 8}, 2),
				"b": f32([2]int64{4, 12}, 2),
			},
			data: make([]byte, 12),
			want: ErrOffsetOverlap,
		},
		{
			name:   "shape disagrees with size",
			header: map[string]any{"w": f32([2]int64{0, 8}, 3)},
			data:   make([]byte, 8),
			want:   ErrShapeMismatch,
		},
		{
			name:   "dtype",
			header: map[string]any{"w": map[string]any{"dtype": "F16", "shape": []int{2}, "data_offsets": []int64{0, 4}}},
			data:   make([]byte, 4),
			want:   ErrUnsupportedDType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(bytes.NewReader(rawFile(t, tt.header, tt.data)))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestDecode_HeaderTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(MaxHeaderSize+1)))
	_, err := Decode(&buf)
	assert.True(t, errors.Is(err, ErrHeaderTooLarge))
}

func TestDecode_Truncated(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{1, 2, 3}))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(100)))
	buf.WriteString("{}")
	_, err = Decode(&buf)
	assert.Error(t, err)
}

func TestReadSafeTensors_Missing(t *testing.T) {
	_, err := ReadSafeTensors(filepath.Join(t.TempDir(), "nope.safetensors"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Err: ErrOffsetOverlap, Tensor: "a", Tensor2: "b", Details: "x"}
	assert.Equal(t, `tensor offsets overlap: tensors "a" and "b": x`, err.Error())

	err = &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
	assert.Equal(t, "invalid tensor name: empty name", err.Error())
}
