package train_test

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/dataset"
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/nn"
	"github.com/born-ml/born-lora/internal/tensor"
	"github.com/born-ml/born-lora/internal/train"
)

func tinyNet(t *testing.T) *classifier.Net {
	t.Helper()
	n, err := classifier.New(classifier.Config{InputSize: dataset.ImageSize, Hidden1: 32, Hidden2: 16, NumClasses: 10}, rand.NewPCG(1337, 1337))
	require.NoError(t, err)
	return n
}

func loader(t *testing.T, d *dataset.Dataset, batchSize int, seed uint64) *dataset.Loader {
	t.Helper()
	l, err := dataset.NewLoader(d, batchSize, rand.NewPCG(seed, seed))
	require.NoError(t, err)
	return l
}

// constModel always predicts the same class.
type constModel struct{ class int }

func (m constModel) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := tensor.Zeros(tensor.Shape{x.Shape()[0], dataset.NumClasses})
	for i := 0; i < x.Shape()[0]; i++ {
		out.Set(i, m.class, 1)
	}
	return out, nil
}
func (constModel) Backward(*tensor.Tensor) error { return nil }
func (constModel) Parameters() []*nn.Parameter  { return nil }

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, train.Config{Epochs: 1}.Validate())
	assert.Error(t, train.Config{Epochs: 0}.Validate())
	assert.Error(t, train.Config{Epochs: 1, IterationLimit: -1}.Validate())
	assert.Error(t, train.Config{Epochs: 1, Optimizer: "rmsprop"}.Validate())
	_, err := train.NewTrainer(train.Config{}, nil)
	assert.Error(t, err)
}

func TestTrain_ReducesLoss(t *testing.T) {
	net := tinyNet(t)
	data := dataset.Synthetic(200, rand.NewPCG(1, 1))

	tr, err := train.NewTrainer(train.Config{Epochs: 2, LearningRate: 1e-3}, nil)
	require.NoError(t, err)
	h, err := tr.Train(context.Background(), net, loader(t, data, 10, 2))
	require.NoError(t, err)

	assert.Equal(t, 40, h.Steps)
	assert.Equal(t, 2, h.Epochs)
	assert.False(t, h.Stopped)
	require.Len(t, h.Losses, 40)
	require.Len(t, h.RunningLoss, 40)

	first := (h.Losses[0] + h.Losses[1] + h.Losses[2]) / 3
	last := (h.Losses[37] + h.Losses[38] + h.Losses[39]) / 3
	assert.Less(t, last, first)
	assert.Greater(t, h.MeanLoss(), 0.0)

	res, err := train.Evaluate(context.Background(), net, loader(t, dataset.Synthetic(100, rand.NewPCG(3, 3)), 10, 4))
	require.NoError(t, err)
	assert.Greater(t, res.Accuracy(), 0.3)
}

func TestTrain_SGD(t *testing.T) {
	net := tinyNet(t)
	data := dataset.Synthetic(50, rand.NewPCG(1, 1))

	tr, err := train.NewTrainer(train.Config{Epochs: 1, LearningRate: 0.01, Optimizer: "sgd", Momentum: 0.9}, nil)
	require.NoError(t, err)
	h, err := tr.Train(context.Background(), net, loader(t, data, 10, 2))
	require.NoError(t, err)
	assert.Equal(t, 5, h.Steps)
}

func TestTrain_IterationLimitSpansEpochs(t *testing.T) {
	net := tinyNet(t)
	data := dataset.Synthetic(30, rand.NewPCG(1, 1))

	core, logs := observer.New(zap.InfoLevel)
	tr, err := train.NewTrainer(train.Config{Epochs: 5, IterationLimit: 7, LogEvery: 2}, zap.New(core))
	require.NoError(t, err)

	h, err := tr.Train(context.Background(), net, loader(t, data, 10, 2))
	require.NoError(t, err)
	assert.Equal(t, 7, h.Steps)
	assert.Equal(t, 3, h.Epochs)
	assert.True(t, h.Stopped)

	assert.Equal(t, 3, logs.FilterMessage("training progress").Len())
	assert.Equal(t, 1, logs.FilterMessage("iteration limit reached").Len())
}

func TestTrain_Cancelled(t *testing.T) {
	net := tinyNet(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := train.NewTrainer(train.Config{Epochs: 1}, nil)
	require.NoError(t, err)
	_, err = tr.Train(ctx, net, loader(t, dataset.Synthetic(20, rand.NewPCG(1, 1)), 10, 1))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestTrain_NothingTrainable(t *testing.T) {
	net := tinyNet(t)
	net.Freeze(func(*nn.Parameter) bool { return false })

	tr, err := train.NewTrainer(train.Config{Epochs: 1}, nil)
	require.NoError(t, err)
	_, err = tr.Train(context.Background(), net, loader(t, dataset.Synthetic(10, rand.NewPCG(1, 1)), 5, 1))
	assert.Error(t, err)
}

func TestTrain_LoRAOnlyKeepsBaseFrozen(t *testing.T) {
	net := tinyNet(t)
	set, err := net.AttachLoRA(lora.Config{Rank: 1, Alpha: 1, Source: rand.NewPCG(5, 5)})
	require.NoError(t, err)
	net.FreezeBase()
	snapshot := net.Snapshot()

	nines := dataset.Synthetic(100, rand.NewPCG(6, 6)).OnlyDigit(9)
	tr, err := train.NewTrainer(train.Config{Epochs: 2, IterationLimit: 15}, nil)
	require.NoError(t, err)
	h, err := tr.Train(context.Background(), net, loader(t, nines, 2, 7))
	require.NoError(t, err)
	assert.Equal(t, 10, h.Steps, "5 batches per epoch, 2 epochs, limit not reached")

	assert.Empty(t, net.ChangedSince(snapshot))
	assert.Greater(t, set.NumParameters(), 0)
}

func TestEvaluate_Counts(t *testing.T) {
	data := dataset.Synthetic(25, rand.NewPCG(1, 1))
	res, err := train.Evaluate(context.Background(), constModel{class: 3}, loader(t, data, 4, 1))
	require.NoError(t, err)

	want := train.Result{
		Correct:     3,
		Total:       25,
		WrongCounts: [10]int{3, 3, 3, 0, 3, 2, 2, 2, 2, 2},
	}
	if diff := cmp.Diff(want, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.12, res.Accuracy(), 1e-9)
}

func TestResult_Write(t *testing.T) {
	res := train.Result{Correct: 2, Total: 3, WrongCounts: [10]int{1}}
	var buf bytes.Buffer
	require.NoError(t, res.Write(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 11)
	assert.Equal(t, "Accuracy: 0.667", lines[0])
	assert.Equal(t, "Wrong counts for the digit 0: 1", lines[1])
	assert.Equal(t, "Wrong counts for the digit 9: 0", lines[10])

	assert.Zero(t, train.Result{}.Accuracy())
}
