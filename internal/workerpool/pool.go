// Package workerpool provides a shared, bounded worker pool for batch
// fan-out/fan-in that preserves input order.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Common errors
var (
	ErrPoolClosed  = errors.New("workerpool: pool is closed")
	ErrInvalidSize = errors.New("workerpool: invalid pool size")
	ErrTaskPanic   = errors.New("workerpool: task panicked")
)

// DefaultSize is the number of concurrent workers used when none is configured.
const DefaultSize = 12

// Pool bounds the number of tasks running at once across every Map call
// that shares it. Construct once and pass to the components that need it.
type Pool struct {
	size   int
	sem    *semaphore.Weighted
	closed atomic.Bool
}

// New returns a pool running at most size tasks at once.
func New(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}
	return &Pool{size: size, sem: semaphore.NewWeighted(int64(size))}, nil
}

// Size returns the concurrency limit.
func (p *Pool) Size() int {
	return p.size
}

// Close rejects further Map calls. Running tasks are not interrupted.
func (p *Pool) Close() {
	p.closed.Store(true)
}

// Map calls fn for every item and returns the results in input order,
// regardless of completion order. The first error cancels the remaining
// tasks and is returned; no partial results are returned.
//
// fn must not call Map on the same pool.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	out := make([]R, len(items))
	if len(items) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	var acquireErr error
	for i, item := range items {
		i, item := i, item
		if err := p.sem.Acquire(gctx, 1); err != nil {
			acquireErr = err
			break
		}
		g.Go(func() (err error) {
			defer p.sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrTaskPanic, r)
				}
			}()
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			out[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if acquireErr != nil {
		return nil, acquireErr
	}
	return out, nil
}
