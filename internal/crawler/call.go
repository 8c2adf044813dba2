package crawler

import (
	"context"
	"fmt"
)

type callResult[T any] struct {
	val T
	err error
}

// Call runs a blocking repository call on its own goroutine so the caller can
// abandon it when ctx ends. A panic inside fn is returned as an error. An
// abandoned call keeps running until fn returns; its result is discarded.
func Call[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	done := make(chan callResult[T], 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult[T]{err: fmt.Errorf("repository call panicked: %v", rec)}
			}
		}()
		v, err := fn(ctx)
		done <- callResult[T]{val: v, err: err}
	}()
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-done:
		return res.val, res.err
	}
}

// Do is Call for functions without a result.
func Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}
