package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 16}

	var counter int64
	n := 1000
	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)
	assert.Equal(t, int64(n), counter)
}

func TestRange_CoversEveryIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 10}

	seen := make([]int32, 101)
	var (
		mu     sync.Mutex
		chunks int
	)
	Range(len(seen), func(start, end int) {
		mu.Lock()
		chunks++
		mu.Unlock()
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	}, cfg)

	for i, n := range seen {
		assert.Equal(t, int32(1), n, "index %d", i)
	}
	assert.Equal(t, 3, chunks)
}

func TestRange_Sequential(t *testing.T) {
	calls := 0
	Range(100, func(start, end int) {
		calls++
		assert.Equal(t, 0, start)
		assert.Equal(t, 100, end)
	}, Config{Enabled: false})
	assert.Equal(t, 1, calls)

	// Inputs below two chunks stay on the caller.
	calls = 0
	Range(30, func(int, int) { calls++ }, Config{Enabled: true, NumWorkers: 8, MinChunkSize: 16})
	assert.Equal(t, 1, calls)

	Range(0, func(int, int) { t.Fatal("called for empty range") }, DefaultConfig())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.GreaterOrEqual(t, cfg.NumWorkers, 1)
	assert.Equal(t, cfg.NumWorkers > 1, cfg.Enabled)
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	data := make([]float32, 1<<20)

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			For(len(data), func(j int) { data[j] += 1 }, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			For(len(data), func(j int) { data[j] += 1 }, cfgSeq)
		}
	})
}
