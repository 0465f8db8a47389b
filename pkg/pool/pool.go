// Package pool executes S3 operations concurrently with bounded
// parallelism. A fixed set of workers pulls tasks from one shared FIFO
// queue; every submission returns a Future immediately. Completion order is
// not the submission order, and one task's failure never affects its
// siblings or the worker that ran it.
package pool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TheGU/minis3/pkg/auth"
	"github.com/TheGU/minis3/pkg/client"
)

// Task outcomes reported to the Observer.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Operation is one unit of work: a signed-and-executed S3 call.
type Operation func(ctx context.Context) (*client.Response, error)

type task struct {
	ctx       context.Context
	op        Operation
	fut       *Future
	submitted time.Time
}

// Observer receives task lifecycle events. Implemented by pkg/obs/metrics;
// a nil observer is a no-op.
type Observer interface {
	TaskEnqueued()
	TaskStarted()
	TaskDone(outcome string, d time.Duration)
}

// Stats is a point-in-time snapshot of the pool.
type Stats struct {
	Workers   int
	QueueLen  int
	Busy      int
	Submitted uint64
	Completed uint64
	Failed    uint64
}

// Pool owns a Client, a task queue and a fixed set of workers, and mirrors
// the Client verb surface with future-returning variants.
type Pool struct {
	c    *client.Client
	q    *taskQueue
	size int
	wg   sync.WaitGroup
	log  *slog.Logger
	obs  Observer

	closed    atomic.Bool
	busy      atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
}

// New builds a Client from the credentials and options and starts size
// workers. size must be at least 1.
func New(creds auth.Credentials, opts client.Options, size int) (*Pool, error) {
	c, err := client.New(creds, opts)
	if err != nil {
		return nil, err
	}
	return NewWithClient(c, size)
}

// NewWithClient starts size workers over an existing Client.
func NewWithClient(c *client.Client, size int) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("pool: size must be >= 1, got %d", size)
	}
	p := &Pool{
		c:    c,
		q:    newTaskQueue(),
		size: size,
		log:  slog.Default(),
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p, nil
}

// SetObserver wires task metrics. Call before submitting.
func (p *Pool) SetObserver(o Observer) { p.obs = o }

// Client returns the underlying connection, for direct synchronous calls.
func (p *Pool) Client() *client.Client { return p.c }

// Submit enqueues op and returns its Future. Submission never blocks on
// execution; it only fails once the pool has been drained.
func (p *Pool) Submit(ctx context.Context, op Operation) (*Future, error) {
	t := &task{ctx: ctx, op: op, fut: newFuture(), submitted: time.Now()}
	if err := p.q.Enqueue(t); err != nil {
		return nil, err
	}
	p.submitted.Add(1)
	if p.obs != nil {
		p.obs.TaskEnqueued()
	}
	return t.fut, nil
}

// worker runs one task to completion at a time until the queue is drained
// and closed. A failing task is captured into its Future; the worker moves
// on regardless of the outcome.
func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, err := p.q.Dequeue()
		if err != nil {
			return
		}
		p.busy.Add(1)
		if p.obs != nil {
			p.obs.TaskStarted()
		}
		start := time.Now()
		resp, err := p.run(t)
		t.fut.complete(resp, err)
		outcome := OutcomeCompleted
		if err != nil {
			outcome = OutcomeFailed
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
		if p.obs != nil {
			p.obs.TaskDone(outcome, time.Since(start))
		}
		p.busy.Add(-1)
	}
}

// run isolates the operation so a panicking task cannot take the worker
// down with it.
func (p *Pool) run(t *task) (resp *client.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("pool: task panic: %v", r)
			p.log.Error("task panicked", slog.Any("panic", r))
		}
	}()
	return t.op(t.ctx)
}

// Drain stops accepting submissions, waits for all queued and in-flight
// tasks to reach a terminal state (or ctx to expire), then stops the
// workers. Draining twice returns ErrPoolClosed.
func (p *Pool) Drain(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}
	p.q.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the pool with no deadline.
func (p *Pool) Close() error { return p.Drain(context.Background()) }

// Stats returns a snapshot of queue depth and task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.size,
		QueueLen:  p.q.Len(),
		Busy:      int(p.busy.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Verb surface, mirroring client.Client.

// Upload submits a PUT of body under key.
func (p *Pool) Upload(ctx context.Context, key string, body io.ReadSeeker, o *client.UploadOptions) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.Upload(ctx, key, body, o)
	})
}

// Get submits a download of key.
func (p *Pool) Get(ctx context.Context, key string, o *client.GetOptions) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.Get(ctx, key, o)
	})
}

// Head submits a metadata fetch for key.
func (p *Pool) Head(ctx context.Context, key string, o *client.GetOptions) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.Head(ctx, key, o)
	})
}

// Delete submits a removal of key.
func (p *Pool) Delete(ctx context.Context, key, bucket string) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.Delete(ctx, key, bucket)
	})
}

// Copy submits a server-side copy.
func (p *Pool) Copy(ctx context.Context, fromKey, fromBucket, toKey, toBucket string, o *client.CopyOptions) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.Copy(ctx, fromKey, fromBucket, toKey, toBucket, o)
	})
}

// UpdateMetadata submits a metadata rewrite for key.
func (p *Pool) UpdateMetadata(ctx context.Context, key, bucket string, metadata map[string]string, public bool) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.UpdateMetadata(ctx, key, bucket, metadata, public)
	})
}

// HeadBucket submits a bucket existence check.
func (p *Pool) HeadBucket(ctx context.Context, bucket string) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.HeadBucket(ctx, bucket)
	})
}

// CreateBucket submits a bucket creation.
func (p *Pool) CreateBucket(ctx context.Context, bucket string) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.CreateBucket(ctx, bucket)
	})
}

// DeleteBucket submits a bucket removal.
func (p *Pool) DeleteBucket(ctx context.Context, bucket string) (*Future, error) {
	return p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		return p.c.DeleteBucket(ctx, bucket)
	})
}

// List submits a full listing of prefix and returns a ListFuture resolving
// to the collected entries.
func (p *Pool) List(ctx context.Context, prefix string, o *client.ListOptions) (*ListFuture, error) {
	fut := newListFuture()
	_, err := p.Submit(ctx, func(ctx context.Context) (*client.Response, error) {
		items, err := p.c.List(ctx, prefix, o)
		fut.complete(items, err)
		return nil, err
	})
	if err != nil {
		return nil, err
	}
	return fut, nil
}
