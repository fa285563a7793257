package dataset

import (
	"fmt"
	"iter"
	"math/rand/v2"

	"github.com/born-ml/born-lora/internal/tensor"
)

// Batch is one mini-batch.
type Batch struct {
	Images *tensor.Tensor // [size, 784]
	Labels []int          // [size]
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int {
	return len(b.Labels)
}

// Loader splits a Dataset into mini-batches, reshuffling on every epoch when
// shuffling is enabled. The last batch may be smaller than the batch size.
type Loader struct {
	data      *Dataset
	batchSize int
	rng       *rand.Rand // nil disables shuffling
}

// NewLoader creates a loader. A nil src keeps the dataset order.
func NewLoader(data *Dataset, batchSize int, src rand.Source) (*Loader, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	l := &Loader{data: data, batchSize: batchSize}
	if src != nil {
		l.rng = rand.New(src)
	}
	return l, nil
}

// NumBatches returns the number of batches per epoch.
func (l *Loader) NumBatches() int {
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}

// NumSamples returns the dataset size.
func (l *Loader) NumSamples() int {
	return l.data.Len()
}

// Epoch yields (index, batch) pairs covering the dataset once.
// Batches are materialised lazily.
func (l *Loader) Epoch() iter.Seq2[int, Batch] {
	n := l.data.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.rng != nil {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	return func(yield func(int, Batch) bool) {
		for b, start := 0, 0; start < n; b, start = b+1, start+l.batchSize {
			end := min(start+l.batchSize, n)
			if !yield(b, l.makeBatch(order[start:end])) {
				return
			}
		}
	}
}

func (l *Loader) makeBatch(indices []int) Batch {
	images := tensor.Zeros(tensor.Shape{len(indices), ImageSize})
	labels := make([]int, len(indices))
	for row, idx := range indices {
		copy(images.Row(row), l.data.Images[idx])
		labels[row] = l.data.Labels[idx]
	}
	return Batch{Images: images, Labels: labels}
}
