package nn

import (
	"fmt"
	"math"

	"github.com/born-ml/born-lora/internal/tensor"
)

// CrossEntropyLoss computes cross-entropy loss for multi-class classification.
//
// Uses the LogSoftmax + NLLLoss decomposition for numerical stability:
//
//	Loss = mean_b(-log_probs[b, target_b])
//	∂L/∂logits = (Softmax(logits) - y_one_hot) / batch_size
//
// Expects raw logits (unnormalized scores) as input.
type CrossEntropyLoss struct {
	probs   *tensor.Tensor
	targets []int
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

// Forward computes the mean cross-entropy loss over the batch.
//
// Parameters:
//   - logits: [batch_size, num_classes]
//   - targets: class indices in [0, num_classes), one per row
func (c *CrossEntropyLoss) Forward(logits *tensor.Tensor, targets []int) (float32, error) {
	shape := logits.Shape()
	if len(shape) != 2 {
		return 0, fmt.Errorf("cross entropy: logits must be 2D [batch_size, num_classes], got %v", shape)
	}
	batchSize, numClasses := shape[0], shape[1]
	if len(targets) != batchSize {
		return 0, fmt.Errorf("cross entropy: got %d targets for batch of %d", len(targets), batchSize)
	}

	probs := tensor.Zeros(shape)
	totalLoss := float32(0)
	for b := 0; b < batchSize; b++ {
		target := targets[b]
		if target < 0 || target >= numClasses {
			return 0, fmt.Errorf("cross entropy: target %d out of range [0, %d)", target, numClasses)
		}

		logProbs := logSoftmax(logits.Row(b))
		totalLoss += -logProbs[target]

		row := probs.Row(b)
		for i, lp := range logProbs {
			row[i] = float32(math.Exp(float64(lp)))
		}
	}

	c.probs = probs
	c.targets = targets
	return totalLoss / float32(batchSize), nil
}

// Backward returns ∂L/∂logits for the last Forward call.
func (c *CrossEntropyLoss) Backward() (*tensor.Tensor, error) {
	if c.probs == nil {
		return nil, fmt.Errorf("cross entropy: backward called before forward")
	}
	grad := c.probs.Clone()
	batchSize := grad.Shape()[0]
	inv := 1 / float32(batchSize)
	for b := 0; b < batchSize; b++ {
		row := grad.Row(b)
		row[c.targets[b]] -= 1
		for i := range row {
			row[i] *= inv
		}
	}
	return grad, nil
}

// logSoftmax computes log(softmax(z)) in numerically stable way.
//
//	LogSoftmax(z)[i] = z[i] - (max(z) + log(Σ exp(z - max(z))))
func logSoftmax(z []float32) []float32 {
	maxZ := z[0]
	for _, v := range z[1:] {
		if v > maxZ {
			maxZ = v
		}
	}

	sumExp := 0.0
	for _, v := range z {
		sumExp += math.Exp(float64(v - maxZ))
	}
	logSumExp := maxZ + float32(math.Log(sumExp))

	result := make([]float32, len(z))
	for i, v := range z {
		result[i] = v - logSumExp
	}
	return result
}
