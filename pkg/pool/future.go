package pool

import (
	"context"

	"github.com/TheGU/minis3/pkg/client"
)

// Future is the handle for one submitted task: a single-assignment cell
// written once by a worker and readable any number of times afterwards.
type Future struct {
	done chan struct{}
	resp *client.Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// complete is called exactly once, by the worker that ran the task.
func (f *Future) complete(resp *client.Response, err error) {
	f.resp = resp
	f.err = err
	close(f.done)
}

// Done is closed when the task reaches a terminal state.
func (f *Future) Done() <-chan struct{} { return f.done }

// Completed reports whether the task has reached a terminal state.
func (f *Future) Completed() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result blocks until the task completes or ctx expires, then returns the
// stored outcome. Reads after completion are idempotent.
func (f *Future) Result(ctx context.Context) (*client.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ListFuture is the handle for a submitted listing, which resolves to
// object entries instead of a raw response.
type ListFuture struct {
	done  chan struct{}
	items []client.ObjectInfo
	err   error
}

func newListFuture() *ListFuture {
	return &ListFuture{done: make(chan struct{})}
}

func (f *ListFuture) complete(items []client.ObjectInfo, err error) {
	f.items = items
	f.err = err
	close(f.done)
}

// Done is closed when the listing reaches a terminal state.
func (f *ListFuture) Done() <-chan struct{} { return f.done }

// Result blocks until the listing completes or ctx expires.
func (f *ListFuture) Result(ctx context.Context) ([]client.ObjectInfo, error) {
	select {
	case <-f.done:
		return f.items, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
