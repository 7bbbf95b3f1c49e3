// Package workpool bounds the number of blocking database reads in flight
// across the whole process.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Pool is a counting semaphore shared by every caller that reads a database.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// New returns a pool that runs at most size jobs at once. Sizes below one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size returns the pool capacity.
func (p *Pool) Size() int { return p.size }

type outcome[T any] struct {
	val T
	err error
}

// Do runs fn on the pool and waits for its result. Waiting for a slot and
// waiting for the result both stop when ctx is done. A job that has already
// started keeps its slot until fn returns; its result is then discarded.
func Do[T any](ctx context.Context, p *Pool, fn func() (T, error)) (T, error) {
	var zero T

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, fmt.Errorf("waiting for worker: %w", err)
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer p.sem.Release(1)
		v, err := fn()
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		return zero, fmt.Errorf("waiting for lookup: %w", ctx.Err())
	}
}
