// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool bounds how many functions run at once.
type WorkerPool struct {
	workerCount int
}

// Run executes functions on the pool and returns the first error. The first
// failure cancels the functions that have not started yet.
func (wp *WorkerPool) Run(ctx context.Context, functions ...func() error) error {
	if len(functions) == 0 {
		return nil
	}

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(wp.workerCount)
	for _, fn := range functions {
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return fn()
		})
	}
	return g.Wait()
}

// RunAll executes every function on the pool regardless of failures and
// returns the non-nil errors in input order. Functions not yet started when
// ctx is done report ctx.Err().
func (wp *WorkerPool) RunAll(ctx context.Context, functions ...func() error) []error {
	if len(functions) == 0 {
		return nil
	}

	_, errs := Collect(ctx, wp, functions, func(_ context.Context, fn func() error) (struct{}, error) {
		return struct{}{}, fn()
	})
	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

// Collect runs fn for every item on the pool without cancellation on error.
// results[i] and errs[i] belong to items[i], so callers can reassemble output
// in input order regardless of completion order.
func Collect[T, R any](ctx context.Context, wp *WorkerPool, items []T, fn func(ctx context.Context, item T) (R, error)) ([]R, []error) {
	results := make([]R, len(items))
	errs := make([]error, len(items))
	if len(items) == 0 {
		return results, errs
	}

	g := new(errgroup.Group)
	g.SetLimit(wp.workerCount)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			results[i], errs[i] = fn(ctx, item)
			return nil
		})
	}

	_ = g.Wait()
	return results, errs
}

// Size returns the concurrency limit of the pool.
func (wp *WorkerPool) Size() int {
	return wp.workerCount
}

// NewWorkerPool creates a new worker pool with the specified number of workers
func NewWorkerPool(workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &WorkerPool{
		workerCount: workerCount,
	}
}
