package concurrent

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Concurrent runs action for each item in its own goroutine and waits for all
// of them. The context passed to action is cancelled as soon as one action
// fails, and the first error is returned.
func Concurrent[T any](ctx context.Context, items []T, action func(context.Context, T) error) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, item := range items {
		group.Go(func() error {
			return action(groupCtx, item)
		})
	}
	return group.Wait()
}

// ParallelMute runs action for each item in its own goroutine and waits for
// all of them. Errors are passed to onError, which may be nil.
func ParallelMute[T any](items []T, action func(T) error, onError func(T, error)) {
	wg := sync.WaitGroup{}
	for _, item := range items {
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			if err := action(item); err != nil && onError != nil {
				onError(item, err)
			}
		}(item)
	}
	wg.Wait()
}
