package build

import (
	"context"
	"sync"
)

type orderedResult[R any] struct {
	Value R
	Err   error
}

// runOrdered applies fn to every item with at most concurrency calls in
// flight. Results keep the order of items. Items not started before ctx is
// done report ctx.Err().
func runOrdered[T any, R any](ctx context.Context, items []T, concurrency int, fn func(T) (R, error)) []orderedResult[R] {
	if len(items) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	sem := make(chan struct{}, concurrency)
	results := make([]orderedResult[R], len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item T) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = orderedResult[R]{Err: ctx.Err()}
				return
			}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				results[i] = orderedResult[R]{Err: err}
				return
			}
			v, err := fn(item)
			results[i] = orderedResult[R]{Value: v, Err: err}
		}(i, item)
	}
	wg.Wait()
	return results
}
