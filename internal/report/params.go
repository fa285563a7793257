// Package report renders the human-readable output of an experiment: the
// parameter breakdown before and after attaching adapters, the list of
// frozen parameters and the loss curves.
package report

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Layer describes one linear layer. LoRAA and LoRAB are nil when no adapter
// is attached.
type Layer struct {
	Weight tensor.Shape
	Bias   tensor.Shape
	LoRAA  tensor.Shape
	LoRAB  tensor.Shape
}

// Parameters is the parameter breakdown of a classifier.
type Parameters struct {
	Layers   []Layer
	Original int // weights and biases
	LoRA     int // adapter factors
}

// CountParameters inspects net and its attached adapters, if any.
func CountParameters(net *classifier.Net) Parameters {
	var p Parameters
	for _, l := range net.Layers() {
		layer := Layer{
			Weight: l.Weight().Tensor().Shape().Clone(),
			Bias:   l.Bias().Tensor().Shape().Clone(),
		}
		p.Original += l.Weight().NumElements() + l.Bias().NumElements()

		if set := net.Adapters(); set != nil {
			if ad, ok := set.Get(l.Name()); ok {
				layer.LoRAA = ad.A().Tensor().Shape().Clone()
				layer.LoRAB = ad.B().Tensor().Shape().Clone()
				p.LoRA += ad.NumParameters()
			}
		}
		p.Layers = append(p.Layers, layer)
	}
	return p
}

// HasLoRA reports whether any layer carries an adapter.
func (p Parameters) HasLoRA() bool {
	return p.LoRA > 0
}

// Total is the parameter count including adapter factors.
func (p Parameters) Total() int {
	return p.Original + p.LoRA
}

// Increment is the adapter overhead as a percentage of the original count.
func (p Parameters) Increment() float64 {
	if p.Original == 0 {
		return 0
	}
	return float64(p.LoRA) / float64(p.Original) * 100
}

// Write prints one line per layer followed by the totals.
func (p Parameters) Write(w io.Writer) error {
	for i, l := range p.Layers {
		line := fmt.Sprintf("Layer %d: W: %v + B: %v", i+1, l.Weight, l.Bias)
		if l.LoRAA != nil {
			line += fmt.Sprintf(" + Lora_A: %v + Lora_B: %v", l.LoRAA, l.LoRAB)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	if !p.HasLoRA() {
		_, err := fmt.Fprintf(w, "Total number of parameters: %s\n", humanize.Comma(int64(p.Original)))
		return err
	}
	_, err := fmt.Fprintf(w,
		"Total number of parameters (original): %s\n"+
			"Total number of parameters (original + LoRA): %s\n"+
			"Parameters introduced by LoRA: %s\n"+
			"Parameters increment: %.3f%%\n",
		humanize.Comma(int64(p.Original)),
		humanize.Comma(int64(p.Total())),
		humanize.Comma(int64(p.LoRA)),
		p.Increment())
	return err
}

// WriteFrozen prints one line per frozen parameter name.
func WriteFrozen(w io.Writer, names []string) error {
	for _, name := range names {
		if _, err := fmt.Fprintf(w, "Freezing non-LoRA parameter %s\n", name); err != nil {
			return err
		}
	}
	return nil
}
