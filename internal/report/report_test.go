package report

import (
	"bytes"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/born-lora/internal/classifier"
	"github.com/born-ml/born-lora/internal/lora"
	"github.com/born-ml/born-lora/internal/tensor"
)

func TestCountParameters_ReferenceNetwork(t *testing.T) {
	net, err := classifier.New(classifier.DefaultConfig(), rand.NewPCG(1, 2))
	require.NoError(t, err)

	before := CountParameters(net)
	assert.Equal(t, 2_807_010, before.Original)
	assert.False(t, before.HasLoRA())

	var buf bytes.Buffer
	require.NoError(t, before.Write(&buf))
	assert.Equal(t, strings.Join([]string{
		"Layer 1: W: [1000, 784] + B: [1000]",
		"Layer 2: W: [2000, 1000] + B: [2000]",
		"Layer 3: W: [10, 2000] + B: [10]",
		"Total number of parameters: 2,807,010",
		"",
	}, "\n"), buf.String())

	_, err = net.AttachLoRA(lora.Config{Rank: 1, Alpha: 1, Source: rand.NewPCG(3, 4)})
	require.NoError(t, err)

	after := CountParameters(net)
	assert.Equal(t, before.Original, after.Original)
	assert.Equal(t, 6794, after.LoRA)
	assert.Equal(t, 2_813_804, after.Total())
	assert.Equal(t, tensor.Shape{1, 784}, after.Layers[0].LoRAA)
	assert.Equal(t, tensor.Shape{1000, 1}, after.Layers[0].LoRAB)

	buf.Reset()
	require.NoError(t, after.Write(&buf))
	assert.Equal(t, strings.Join([]string{
		"Layer 1: W: [1000, 784] + B: [1000] + Lora_A: [1, 784] + Lora_B: [1000, 1]",
		"Layer 2: W: [2000, 1000] + B: [2000] + Lora_A: [1, 1000] + Lora_B: [2000, 1]",
		"Layer 3: W: [10, 2000] + B: [10] + Lora_A: [1, 2000] + Lora_B: [10, 1]",
		"Total number of parameters (original): 2,807,010",
		"Total number of parameters (original + LoRA): 2,813,804",
		"Parameters introduced by LoRA: 6,794",
		"Parameters increment: 0.242%",
		"",
	}, "\n"), buf.String())
}

func TestParameters_IncrementEmpty(t *testing.T) {
	assert.Zero(t, Parameters{}.Increment())
	assert.InDelta(t, 50.0, Parameters{Original: 10, LoRA: 5}.Increment(), 1e-12)
}

func TestWriteFrozen(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrozen(&buf, []string{"linear1.weight", "linear1.bias"}))
	assert.Equal(t,
		"Freezing non-LoRA parameter linear1.weight\nFreezing non-LoRA parameter linear1.bias\n",
		buf.String())
}

func TestLossPlot(t *testing.T) {
	_, err := LossPlot("empty", Series{Name: "baseline"})
	assert.True(t, errors.Is(err, ErrNoData))

	p, err := LossPlot("loss", Series{Name: "baseline", Values: []float64{2.3, 1.1, 0.7}}, Series{Name: "lora"})
	require.NoError(t, err)
	assert.Equal(t, "loss", p.Title.Text)
	assert.Equal(t, 1.0, p.X.Min)
	assert.Equal(t, 3.0, p.X.Max)
}

func TestSaveLossPlot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plots", "loss.png")
	err := SaveLossPlot(path, "loss",
		Series{Name: "baseline", Values: []float64{2.3, 1.5, 0.9, 0.6}},
		Series{Name: "lora", Values: []float64{0.8, 0.4}},
	)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "expected a PNG file")
}
