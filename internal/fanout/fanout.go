// Package fanout runs one task per unit of work on a fixed pool of workers and
// returns the results ordered by unit.
package fanout

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is used when no positive concurrency is configured.
const DefaultConcurrency = 8

// UnitFailure reports the first unit that failed and why.
type UnitFailure struct {
	Unit  int
	Cause error
}

func (e *UnitFailure) Error() string {
	return fmt.Sprintf("failed to process page %d: %v", e.Unit, e.Cause)
}

func (e *UnitFailure) Unwrap() error {
	return e.Cause
}

// Result pairs a unit with the value produced for it.
type Result[R any] struct {
	Unit  int
	Value R
}

// Worker processes units one at a time. A worker is owned by exactly one pool
// goroutine and is never shared. If it implements io.Closer it is closed when
// its goroutine exits.
type Worker[R any] interface {
	Process(ctx context.Context, unit int) (R, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc[R any] func(ctx context.Context, unit int) (R, error)

func (f WorkerFunc[R]) Process(ctx context.Context, unit int) (R, error) {
	return f(ctx, unit)
}

// WorkerFactory builds the per-worker resource. It is called lazily, on the
// first unit a pool goroutine receives.
type WorkerFactory[R any] func(ctx context.Context) (Worker[R], error)

// Executor holds pool settings.
type Executor struct {
	concurrency int
	logger      *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor. Non-positive concurrency selects DefaultConcurrency.
func NewExecutor(concurrency int, opts ...Option) *Executor {
	e := &Executor{concurrency: concurrency}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Workers returns the pool size for n units: the configured concurrency (or the
// default) clamped to [1, n]. Zero units need zero workers.
func (e *Executor) Workers(n int) int {
	if n <= 0 {
		return 0
	}
	workers := e.concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	if workers > n {
		workers = n
	}
	return workers
}

// Run processes every unit and returns results sorted ascending by unit.
// Duplicate units are processed once. On the first failure, units not yet
// started are skipped, results of units still running are discarded and a
// *UnitFailure is returned.
func Run[R any](ctx context.Context, e *Executor, units []int, factory WorkerFactory[R]) ([]Result[R], error) {
	units = uniqueSorted(units)
	if len(units) == 0 {
		return []Result[R]{}, nil
	}
	workers := e.Workers(len(units))
	e.logger.Debug("fan-out started", zap.Int("units", len(units)), zap.Int("workers", workers))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	var mu sync.Mutex
	results := make([]Result[R], 0, len(units))

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			var w Worker[R]
			defer func() {
				if c, ok := w.(io.Closer); ok {
					_ = c.Close()
				}
			}()
			for unit := range jobs {
				if gctx.Err() != nil {
					continue
				}
				if w == nil {
					built, err := factory(gctx)
					if err != nil {
						return &UnitFailure{Unit: unit, Cause: err}
					}
					w = built
				}
				value, err := w.Process(gctx, unit)
				if err != nil {
					return &UnitFailure{Unit: unit, Cause: err}
				}
				mu.Lock()
				results = append(results, Result[R]{Unit: unit, Value: value})
				mu.Unlock()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for _, unit := range units {
			select {
			case jobs <- unit:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		e.logger.Debug("fan-out aborted", zap.Error(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Unit < results[j].Unit })
	return results, nil
}

// Range returns the units 1..n.
func Range(n int) []int {
	out := make([]int, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, i)
	}
	return out
}

func uniqueSorted(units []int) []int {
	if len(units) == 0 {
		return nil
	}
	out := append([]int(nil), units...)
	sort.Ints(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}
