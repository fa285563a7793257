package lora

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-lora/internal/tensor"
)

func newTestSet(t *testing.T, rank int) *Set {
	t.Helper()
	s := NewSet()
	layers := []struct {
		name    string
		in, out int
	}{
		// (rows, cols) of the stored [out_features, in_features] weights.
		{"linear1", 1000, 784},
		{"linear2", 2000, 1000},
		{"linear3", 10, 2000},
	}
	for _, l := range layers {
		ad, err := NewAdapter(l.in, l.out, testConfig(rank, 1))
		require.NoError(t, err)
		require.NoError(t, s.Add(l.name, ad))
	}
	return s
}

func TestSet_ParameterCount(t *testing.T) {
	s := newTestSet(t, 1)
	assert.Equal(t, (784+1000)+(1000+2000)+(2000+10), s.NumParameters())
	assert.Equal(t, 6794, s.NumParameters())
	assert.Len(t, s.TrainableParameters(), 6)

	s4 := newTestSet(t, 4)
	assert.Equal(t, 4*6794, s4.NumParameters())
}

func TestSet_SetEnabledFansOut(t *testing.T) {
	s := newTestSet(t, 1)

	s.SetEnabled(false)
	for _, ad := range s.Adapters() {
		assert.False(t, ad.Enabled())
	}

	s.SetEnabled(true)
	for _, ad := range s.Adapters() {
		assert.True(t, ad.Enabled())
	}
}

func TestSet_PerAdapterToggle(t *testing.T) {
	s := newTestSet(t, 1)
	ad, ok := s.Get("linear2")
	require.True(t, ok)
	ad.SetEnabled(false)

	var got []bool
	for _, a := range s.Adapters() {
		got = append(got, a.Enabled())
	}
	if diff := cmp.Diff([]bool{true, false, true}, got); diff != "" {
		t.Errorf("enabled flags mismatch (-want +got):\n%s", diff)
	}

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestSet_DuplicateName(t *testing.T) {
	s := newTestSet(t, 1)
	ad, err := NewAdapter(2, 2, DefaultConfig())
	require.NoError(t, err)
	assert.Error(t, s.Add("linear1", ad))
	assert.Equal(t, 3, s.Len())
}

func TestSet_StateDict(t *testing.T) {
	s := newTestSet(t, 1)
	sd := s.StateDict()

	var keys []string
	for k := range sd {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"linear1.lora_a", "linear1.lora_b",
		"linear2.lora_a", "linear2.lora_b",
		"linear3.lora_a", "linear3.lora_b",
	}, keys)
	assert.Equal(t, []string{"linear1", "linear2", "linear3"}, s.Names())

	other := newTestSet(t, 1)
	first, _ := other.Get("linear1")
	first.B().Tensor().Fill(9)
	require.NoError(t, s.LoadStateDict(other.StateDict()))
	got, _ := s.Get("linear1")
	assert.Equal(t, float32(9), got.B().Tensor().Data()[0])

	delete(sd, "linear3.lora_b")
	assert.Error(t, other.LoadStateDict(sd))
}

func TestSet_LoadStateDictRejectsBeforeWriting(t *testing.T) {
	s := newTestSet(t, 1)
	before := s.StateDict()
	for k, v := range before {
		before[k] = v.Clone()
	}

	other := newTestSet(t, 1)
	for _, ad := range other.Adapters() {
		ad.B().Tensor().Fill(3)
	}
	sd := other.StateDict()
	sd["linear3.lora_b"] = tensor.Zeros(tensor.Shape{3, 3})

	err := s.LoadStateDict(sd)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	for k, v := range s.StateDict() {
		assert.True(t, v.Equal(before[k]), "%s was modified", k)
	}
}
