package worker

import (
	"context"
	"fmt"
)

// Future is the completion cell of a submitted task.
type Future struct {
	id    string
	done  chan struct{}
	value any
	err   error
}

func newFuture(id string) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

func (f *Future) ID() string { return f.id }

// Done is closed once the task has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// Await blocks until the task finishes or ctx ends. Giving up on the wait does
// not stop the task.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) complete(value any, err error) {
	f.value = value
	f.err = err
	close(f.done)
}

// Run submits fn and waits for its typed result.
func Run[T any](ctx context.Context, s Submitter, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	future, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}

	value, err := future.Await(ctx)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}

	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("task %s returned %T", future.ID(), value)
	}
	return typed, nil
}
