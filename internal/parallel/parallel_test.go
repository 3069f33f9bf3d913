package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itlab-ai/infer/internal/tensor"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestForBatch(t *testing.T) {
	batch, channels := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, channels)
	}

	ForBatch(batch, channels, func(b, c int) {
		results[b][c] = true
	}, ConfigFor(Parallel))

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, results[b][c], "missing result at [%d][%d]", b, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, ConfigFor(Sequential))

	assert.Equal(t, int64(100), counter)
}

func TestForRange_CoversEachIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 1}
	n := 10
	hits := make([]int32, n)

	var mu sync.Mutex
	var chunks [][2]int
	ForRange(n, func(start, end int) {
		mu.Lock()
		chunks = append(chunks, [2]int{start, end})
		mu.Unlock()
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	}, cfg)

	for i, h := range hits {
		assert.Equal(t, int32(1), h, "index %d", i)
	}
	assert.Len(t, chunks, 3)
}

func TestForRange_Empty(t *testing.T) {
	called := false
	ForRange(0, func(_, _ int) { called = true }, DefaultConfig())
	assert.False(t, called)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("parallel")
	require.NoError(t, err)
	assert.Equal(t, Parallel, s)
	assert.Equal(t, "parallel", s.String())

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Sequential, s)

	_, err = ParseStrategy("gpu")
	require.ErrorIs(t, err, tensor.ErrInvalidArgument)
}

func BenchmarkFor(b *testing.B) {
	n := 10000
	for _, s := range []Strategy{Sequential, Parallel} {
		cfg := ConfigFor(s)
		b.Run(s.String(), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				var sum int64
				For(n, func(j int) {
					atomic.AddInt64(&sum, int64(j))
				}, cfg)
			}
		})
	}
}
