// Package pool runs independent jobs with bounded concurrency and keeps one error per job
package pool

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultLimit - one job per available CPU
func DefaultLimit() int {
	return runtime.NumCPU()
}

// Run calls fn for every item with at most limit calls in flight. A failing item does not stop
// its siblings: the returned slice holds each item's own error (nil on success), indexed like items.
// Items not started before ctx is done get ctx.Err().
func Run[T any](ctx context.Context, limit int, items []T, fn func(ctx context.Context, i int, item T) error) []error {
	if limit <= 0 {
		limit = DefaultLimit()
	}

	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(limit)

	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = runOne(ctx, i, item, fn)
			return nil
		})
	}

	_ = g.Wait()
	return errs
}

func runOne[T any](ctx context.Context, i int, item T, fn func(ctx context.Context, i int, item T) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job #%d panicked: %v", i, r)
		}
	}()
	return fn(ctx, i, item)
}
