package train

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/tensor"
)

// Result is the outcome of one evaluation pass.
type Result struct {
	Correct int
	Total   int
	// WrongCounts[d] counts misclassified samples whose true label is d.
	WrongCounts [dataset.NumClasses]int
}

// Accuracy returns Correct/Total, or 0 for an empty evaluation.
func (r Result) Accuracy() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Correct) / float64(r.Total)
}

// Write prints the accuracy rounded to three decimals followed by the wrong
// count of every digit.
func (r Result) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Accuracy: %.3f\n", math.Round(r.Accuracy()*1000)/1000); err != nil {
		return err
	}
	for digit, n := range r.WrongCounts {
		if _, err := fmt.Fprintf(w, "Wrong counts for the digit %d: %d\n", digit, n); err != nil {
			return err
		}
	}
	return nil
}

// Evaluate runs model over every batch and counts arg-max hits. It never
// computes gradients.
func Evaluate(ctx context.Context, model Model, loader *dataset.Loader) (Result, error) {
	var r Result
	for _, batch := range loader.Epoch() {
		if err := ctx.Err(); err != nil {
			return r, err
		}
		logits, err := model.Forward(batch.Images)
		if err != nil {
			return r, err
		}
		preds, err := tensor.ArgMaxRows(logits)
		if err != nil {
			return r, err
		}
		for i, p := range preds {
			label := batch.Labels[i]
			if p == label {
				r.Correct++
			} else {
				r.WrongCounts[label]++
			}
			r.Total++
		}
	}
	return r, nil
}
