// Package worker bounds the number of concurrently running child commands
// (spec.md §5's "worker pool / semaphore"). It has no separate budget for
// other work: manifest parsing and file hashing run without any limit.
package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Unbounded is a sentinel limit meaning "no cap" (WIREIT_PARALLEL=infinity).
const Unbounded = -1

// Pool bounds concurrently-running work to a fixed number of slots.
//
// Grounded on internal/dag/executor.go's RunParallel worker-goroutine pool
// (teacher), replacing its hand-rolled workCh/doneCh pair with
// golang.org/x/sync/semaphore.Weighted — the idiomatic ecosystem primitive
// for "N permits, blocking acquire", and already present as an indirect
// dependency in the corpus (mattjoyce-senechal-gw/go.mod).
type Pool struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates a Pool with the given limit. A limit of Unbounded (or <= 0)
// means every Acquire returns immediately: nil, or ctx.Err() if ctx is
// already done.
func New(limit int) *Pool {
	if limit <= 0 {
		return &Pool{limit: Unbounded}
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit)), limit: limit}
}

// Limit returns the configured limit, or Unbounded.
func (p *Pool) Limit() int { return p.limit }

// Acquire blocks until a slot is available or ctx is cancelled.
func (p *Pool) Acquire(ctx context.Context) error {
	if p.sem == nil {
		return ctx.Err()
	}
	return p.sem.Acquire(ctx, 1)
}

// TryAcquire attempts to acquire a slot without blocking.
func (p *Pool) TryAcquire() bool {
	if p.sem == nil {
		return true
	}
	return p.sem.TryAcquire(1)
}

// Release returns a slot to the pool.
func (p *Pool) Release() {
	if p.sem == nil {
		return
	}
	p.sem.Release(1)
}

// Run acquires a slot, runs fn, and releases the slot, propagating ctx
// cancellation if the slot cannot be acquired in time.
func (p *Pool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.Acquire(ctx); err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}
