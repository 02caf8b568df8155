// Package batch runs a set of independent operations with a concurrency
// cap. Outcomes preserve input order; failures are captured per item
// rather than aborting the batch.
package batch

import (
	"context"
	"sync"
)

// Status of one item's outcome.
type Status string

const (
	StatusFulfilled Status = "fulfilled"
	StatusRejected  Status = "rejected"
)

// Outcome is the result slot for one input item.
type Outcome[R any] struct {
	Status Status
	Value  R
	Err    error
}

// RunBounded applies fn to each item with at most limit calls inflight.
// The returned slice is index-aligned with items. Context cancellation
// propagates into inflight calls and marks unstarted items rejected with
// ctx.Err().
func RunBounded[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) []Outcome[R] {
	if limit <= 0 {
		limit = 1
	}
	out := make([]Outcome[R], len(items))
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			out[i] = Outcome[R]{Status: StatusRejected, Err: err}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			out[i] = Outcome[R]{Status: StatusRejected, Err: ctx.Err()}
			continue
		}

		wg.Add(1)
		go func(idx int, it T) {
			defer wg.Done()
			defer func() { <-sem }()
			v, err := fn(ctx, it)
			if err != nil {
				out[idx] = Outcome[R]{Status: StatusRejected, Err: err}
				return
			}
			out[idx] = Outcome[R]{Status: StatusFulfilled, Value: v}
		}(i, item)
	}

	wg.Wait()
	return out
}
