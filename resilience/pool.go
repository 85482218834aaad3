package resilience

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/schmitech/orbit/core"
)

// WorkerPool bounds the number of concurrently running operations for one
// adapter so a misbehaving backend cannot starve the request dispatcher.
// Isolation does not change breaker state-machine semantics.
type WorkerPool struct {
	name   string
	sem    *semaphore.Weighted
	logger core.Logger

	mu     sync.Mutex
	closed bool
}

// NewWorkerPool creates a pool admitting at most maxWorkers operations.
func NewWorkerPool(name string, maxWorkers int, logger core.Logger) *WorkerPool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &WorkerPool{
		name:   name,
		sem:    semaphore.NewWeighted(int64(maxWorkers)),
		logger: logger,
	}
}

// Submit runs fn on the pool, waiting for a slot. Slot acquisition respects
// the context deadline, so a saturated pool surfaces as a timeout rather
// than unbounded queueing. Panics become errors.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("worker pool %q: %w", p.name, core.ErrNotInitialized)
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				p.logger.Error("Worker pool caught panic", map[string]interface{}{
					"operation": "worker_pool_panic",
					"pool":      p.name,
					"panic":     fmt.Sprintf("%v", r),
				})
				done <- fmt.Errorf("panic in pooled operation: %v\n%s", r, stack)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The pooled operation keeps its slot until it finishes; its late
		// result is discarded.
		return ctx.Err()
	}
}

// Close marks the pool as closed. In-flight work drains naturally.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}
