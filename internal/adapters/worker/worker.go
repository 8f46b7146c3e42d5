// Package worker runs indexed jobs, such as per-capture fits, on a fixed
// pool of goroutines.
package worker

import (
	"context"
	"math"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/pulsecal/pkg/logger"
	"github.com/okian/pulsecal/pkg/metrics"
)

// Job processes the item at index. Jobs for different indices must not
// share mutable state.
type Job func(ctx context.Context, index int) error

// InMemoryWorker runs jobs for the indices it receives.
type InMemoryWorker struct {
	name   string
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		name:   "worker",
		logger: logger.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.Named(w.name)
	return w
}

// Name returns the worker name.
func (w *InMemoryWorker) Name() string { return w.name }

// Run executes job for every index received on indices until the channel
// is closed or ctx is cancelled. report is called once per executed index.
func (w *InMemoryWorker) Run(ctx context.Context, indices <-chan int, job Job, report func(index int, err error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case i, ok := <-indices:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			start := time.Now()
			err := job(ctx, i)
			metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
			if err != nil {
				metrics.RecordWorkerError()
				w.logger.Debug(ctx, "job failed", logger.Int("index", i), logger.Error(err))
			}
			report(i, err)
		}
	}
}

// Pool fans jobs out to a fixed number of workers.
type Pool struct {
	workers []*InMemoryWorker
	logger  logger.Logger
}

// NewPool creates a new worker pool. A count below one uses one worker per
// CPU.
func NewPool(workerCount int, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	base := NewInMemoryWorker(opts...)
	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		logger:  base.logger,
	}
	for i := 0; i < workerCount; i++ {
		pool.workers[i] = NewInMemoryWorker(append(opts[:len(opts):len(opts)], WithName("worker-"+strconv.Itoa(i)))...)
	}
	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Run executes job for indices 0..n-1 and waits for them. Indices are
// dispatched in ascending order and each runs at most once. After a failure
// no further indices are dispatched and received indices above the lowest
// failure are skipped; jobs already running finish with ctx. The returned
// error is the one of the lowest failing index.
func (p *Pool) Run(ctx context.Context, n int, job Job) error {
	if n <= 0 {
		return nil
	}

	dispatchCtx, stop := context.WithCancel(ctx)
	defer stop()

	var lowest atomic.Int64
	lowest.Store(math.MaxInt64)

	errs := make([]error, n)
	indices := make(chan int)
	run := func(ctx context.Context, i int) error {
		if int64(i) > lowest.Load() {
			return nil
		}
		return job(ctx, i)
	}
	report := func(i int, err error) {
		if err == nil {
			return
		}
		errs[i] = err
		for {
			cur := lowest.Load()
			if int64(i) >= cur || lowest.CompareAndSwap(cur, int64(i)) {
				break
			}
		}
		stop()
	}

	active := len(p.workers)
	if active > n {
		active = n
	}
	metrics.UpdateWorkerActiveCount(active)
	defer metrics.UpdateWorkerActiveCount(0)

	var wg sync.WaitGroup
	for _, w := range p.workers[:active] {
		wg.Add(1)
		go func(w *InMemoryWorker) {
			defer wg.Done()
			w.Run(ctx, indices, run, report)
		}(w)
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case <-dispatchCtx.Done():
			break dispatch
		case indices <- i:
		}
	}
	close(indices)
	wg.Wait()

	err := firstError(ctx, errs)
	if err != nil {
		p.logger.Debug(ctx, "pool run stopped", logger.Int("jobs", n), logger.Error(err))
	}
	return err
}

// firstError picks the error of the lowest failing index, or the caller's
// cancellation when nothing failed.
func firstError(parent context.Context, errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return parent.Err()
}
