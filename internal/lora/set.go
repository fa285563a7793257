package lora

import (
	"fmt"

	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Set is the caller-owned list of adapters attached to one model.
//
// It replaces any process-wide registry: whoever builds the model owns the
// Set and fans enable/disable out through it explicitly. Each adapter keeps
// its own flag, so individual layers can still be toggled directly.
type Set struct {
	names    []string
	adapters []*Adapter
}

// NewSet creates an empty adapter set.
func NewSet() *Set {
	return &Set{}
}

// Add registers an adapter under a unique name (usually the layer name).
func (s *Set) Add(name string, ad *Adapter) error {
	for _, n := range s.names {
		if n == name {
			return fmt.Errorf("lora: adapter %q already registered", name)
		}
	}
	s.names = append(s.names, name)
	s.adapters = append(s.adapters, ad)
	return nil
}

// Len returns the number of adapters.
func (s *Set) Len() int {
	return len(s.adapters)
}

// Names returns adapter names in registration order.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Adapters returns adapters in registration order.
func (s *Set) Adapters() []*Adapter {
	return append([]*Adapter(nil), s.adapters...)
}

// Get returns the adapter registered under name.
func (s *Set) Get(name string) (*Adapter, bool) {
	for i, n := range s.names {
		if n == name {
			return s.adapters[i], true
		}
	}
	return nil, false
}

// SetEnabled sets the enabled flag of every adapter.
func (s *Set) SetEnabled(enabled bool) {
	for _, ad := range s.adapters {
		ad.SetEnabled(enabled)
	}
}

// TrainableParameters returns the factors of every adapter, in order.
func (s *Set) TrainableParameters() []*nn.Parameter {
	params := make([]*nn.Parameter, 0, 2*len(s.adapters))
	for _, ad := range s.adapters {
		params = append(params, ad.TrainableParameters()...)
	}
	return params
}

// NumParameters returns the total number of factor elements.
func (s *Set) NumParameters() int {
	total := 0
	for _, ad := range s.adapters {
		total += ad.NumParameters()
	}
	return total
}

// StateDict returns all factors keyed "<name>.lora_a" / "<name>.lora_b".
func (s *Set) StateDict() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, 2*len(s.adapters))
	for i, ad := range s.adapters {
		for key, t := range ad.StateDict() {
			out[s.names[i]+"."+key] = t
		}
	}
	return out
}

// LoadStateDict restores factors saved by StateDict. Every adapter is
// validated first; on error no factor has been modified.
func (s *Set) LoadStateDict(stateDict map[string]*tensor.Tensor) error {
	subs := make([]map[string]*tensor.Tensor, len(s.adapters))
	for i, ad := range s.adapters {
		prefix := s.names[i] + "."
		sub := map[string]*tensor.Tensor{}
		for _, key := range []string{"lora_a", "lora_b"} {
			if t, ok := stateDict[prefix+key]; ok {
				sub[key] = t
			}
		}
		if err := ad.checkStateDict(sub); err != nil {
			return fmt.Errorf("adapter %s: %w", s.names[i], err)
		}
		subs[i] = sub
	}
	for i, ad := range s.adapters {
		if err := ad.LoadStateDict(subs[i]); err != nil {
			return fmt.Errorf("adapter %s: %w", s.names[i], err)
		}
	}
	return nil
}
