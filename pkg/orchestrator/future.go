package orchestrator

import (
	"context"

	"github.com/pario-ai/augur/pkg/models"
)

// Future is the typed result of a call. It settles exactly once.
type Future[T any] struct {
	id   string
	done chan struct{}
	val  T
	resp models.Response
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) settle(val T, resp models.Response, err error) {
	f.val, f.resp, f.err = val, resp, err
	close(f.done)
}

// ID returns the request id the future belongs to.
func (f *Future[T]) ID() string { return f.id }

// Done is closed once the future has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Poll returns the value without blocking. done is false until the
// future has settled.
func (f *Future[T]) Poll() (val T, done bool, err error) {
	select {
	case <-f.done:
		return f.val, true, f.err
	default:
		var zero T
		return zero, false, nil
	}
}

// Wait blocks until the future settles or ctx ends.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Response returns the raw response once settled.
func (f *Future[T]) Response() (models.Response, bool) {
	select {
	case <-f.done:
		return f.resp, true
	default:
		return models.Response{}, false
	}
}
