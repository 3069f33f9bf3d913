// Package parallel splits data-parallel kernel loops across goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/itlab-ai/infer/internal/tensor"
)

// Strategy selects how a kernel walks its output.
type Strategy int

const (
	// Sequential runs every iteration on the calling goroutine.
	Sequential Strategy = iota
	// Parallel splits iterations across Config.NumWorkers goroutines.
	Parallel
)

func (s Strategy) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case Parallel:
		return "parallel"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy is the inverse of String.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "sequential":
		return Sequential, nil
	case "parallel":
		return Parallel, nil
	default:
		return Sequential, errors.Wrapf(tensor.ErrInvalidArgument, "unknown strategy %q", s)
	}
}

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// ConfigFor maps a strategy onto a Config. Sequential always disables
// the worker pool; Parallel uses DefaultConfig with a chunk size tuned
// for coarse units such as output planes.
func ConfigFor(s Strategy) Config {
	if s != Parallel {
		return Config{}
	}
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MinChunkSize = 1
	return cfg
}

// For executes f(i) for i in [0, n).
// Falls back to sequential execution if parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	ForRange(n, func(start, end int) {
		for i := start; i < end; i++ {
			f(i)
		}
	}, cfg)
}

// ForRange executes f over disjoint half-open chunks covering [0, n).
// Each chunk is handled by one goroutine, so f may keep per-chunk scratch state.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	workers := cfg.NumWorkers
	if !cfg.Enabled || workers <= 1 || n < cfg.MinChunkSize || n == 1 {
		f(0, n)
		return
	}

	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize, 1)

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates the batch*channels plane grid of an NCHW tensor.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	if channels <= 0 {
		return
	}
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}
