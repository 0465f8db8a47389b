package pool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TheGU/minis3/pkg/auth"
	"github.com/TheGU/minis3/pkg/client"
)

func newTestPool(t *testing.T, size int) *Pool {
	t.Helper()
	p, err := NewWithClient(nil, size)
	if err != nil {
		t.Fatalf("NewWithClient: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestFanOutBoundedConcurrency(t *testing.T) {
	const workers, tasks = 3, 20
	p := newTestPool(t, workers)

	var running, peak atomic.Int32
	futs := make([]*Future, 0, tasks)
	for i := 0; i < tasks; i++ {
		fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return &client.Response{StatusCode: 200}, nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futs = append(futs, fut)
	}
	for i, fut := range futs {
		resp, err := fut.Result(context.Background())
		if err != nil {
			t.Fatalf("task %d: %v", i, err)
		}
		if resp.StatusCode != 200 {
			t.Errorf("task %d status = %d", i, resp.StatusCode)
		}
	}
	if got := peak.Load(); got > workers {
		t.Errorf("peak concurrency = %d, want <= %d", got, workers)
	}
	st := p.Stats()
	if st.Completed != tasks || st.Failed != 0 || st.Submitted != tasks {
		t.Errorf("stats = %+v", st)
	}
}

func TestFailureIsolation(t *testing.T) {
	p := newTestPool(t, 2)
	boom := errors.New("simulated failure")

	futs := make([]*Future, 5)
	for i := range futs {
		i := i
		fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
			if i == 2 {
				return nil, boom
			}
			return &client.Response{StatusCode: 200}, nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futs[i] = fut
	}
	for i, fut := range futs {
		_, err := fut.Result(context.Background())
		if i == 2 {
			if !errors.Is(err, boom) {
				t.Errorf("task 2 err = %v, want simulated failure", err)
			}
			continue
		}
		if err != nil {
			t.Errorf("task %d err = %v, siblings must not be affected", i, err)
		}
	}
	st := p.Stats()
	if st.Completed != 4 || st.Failed != 1 {
		t.Errorf("stats = %+v, want 4 completed 1 failed", st)
	}
}

func TestPanicIsolation(t *testing.T) {
	p := newTestPool(t, 1)

	fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		panic("kaboom")
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := fut.Result(context.Background()); err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("err = %v, want panic captured", err)
	}

	// The single worker must survive and run the next task.
	fut, err = p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		return &client.Response{StatusCode: 204}, nil
	})
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	resp, err := fut.Result(context.Background())
	if err != nil || resp.StatusCode != 204 {
		t.Errorf("resp = %v err = %v, worker should have survived", resp, err)
	}
}

func TestDrainCompletesQueuedTasks(t *testing.T) {
	p := newTestPool(t, 1)

	var ran atomic.Int32
	futs := make([]*Future, 10)
	for i := range futs {
		fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
			ran.Add(1)
			return &client.Response{StatusCode: 200}, nil
		})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		futs[i] = fut
	}
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if got := ran.Load(); got != 10 {
		t.Errorf("ran %d tasks, want all 10 before drain returns", got)
	}
	for i, fut := range futs {
		if !fut.Completed() {
			t.Errorf("task %d not completed after drain", i)
		}
	}
}

func TestSubmitAfterDrain(t *testing.T) {
	p := newTestPool(t, 1)
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	_, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit err = %v, want ErrPoolClosed", err)
	}
	if err := p.Drain(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("second Drain err = %v, want ErrPoolClosed", err)
	}
}

func TestDrainContextExpiry(t *testing.T) {
	p := newTestPool(t, 1)
	release := make(chan struct{})
	defer close(release)

	if _, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain err = %v, want deadline exceeded", err)
	}
}

func TestFutureIdempotentReads(t *testing.T) {
	p := newTestPool(t, 1)
	fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		return &client.Response{StatusCode: 200, Body: []byte("x")}, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-fut.Done()
	if !fut.Completed() {
		t.Error("Completed() = false after Done closed")
	}
	first, err1 := fut.Result(context.Background())
	second, err2 := fut.Result(context.Background())
	if first != second || err1 != err2 {
		t.Error("repeated Result reads must return the same outcome")
	}
}

func TestFutureResultContextCancel(t *testing.T) {
	p := newTestPool(t, 1)
	release := make(chan struct{})

	fut, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
		<-release
		return &client.Response{StatusCode: 200}, nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Result(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Result err = %v, want context.Canceled", err)
	}
	close(release)
	if _, err := fut.Result(context.Background()); err != nil {
		t.Errorf("Result after release: %v", err)
	}
}

func TestSizeValidation(t *testing.T) {
	if _, err := NewWithClient(nil, 0); err == nil {
		t.Error("expected error for size 0")
	}
	if _, err := NewWithClient(nil, -3); err == nil {
		t.Error("expected error for negative size")
	}
}

type observerRecorder struct {
	mu       sync.Mutex
	enqueued int
	started  int
	done     map[string]int
}

func (o *observerRecorder) TaskEnqueued() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.enqueued++
}

func (o *observerRecorder) TaskStarted() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *observerRecorder) TaskDone(outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.done == nil {
		o.done = map[string]int{}
	}
	o.done[outcome]++
}

func TestObserverLifecycle(t *testing.T) {
	p := newTestPool(t, 2)
	rec := &observerRecorder{}
	p.SetObserver(rec)

	for i := 0; i < 3; i++ {
		i := i
		if _, err := p.Submit(context.Background(), func(ctx context.Context) (*client.Response, error) {
			if i == 0 {
				return nil, errors.New("fail")
			}
			return &client.Response{}, nil
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.enqueued != 3 || rec.started != 3 {
		t.Errorf("enqueued=%d started=%d, want 3/3", rec.enqueued, rec.started)
	}
	if rec.done[OutcomeCompleted] != 2 || rec.done[OutcomeFailed] != 1 {
		t.Errorf("done = %v, want 2 completed 1 failed", rec.done)
	}
}

// fakeS3 is a minimal in-memory object store behind an HTTP handler.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
	case http.MethodGet:
		if strings.Contains(r.URL.RawQuery, "prefix") || !strings.ContainsRune(strings.TrimPrefix(r.URL.Path, "/"), '/') {
			w.Header().Set("Content-Type", "application/xml")
			io.WriteString(w, `<ListBucketResult><IsTruncated>false</IsTruncated>`)
			for path := range f.objects {
				key := strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[1]
				io.WriteString(w, "<Contents><Key>"+key+"</Key><Size>1</Size></Contents>")
			}
			io.WriteString(w, `</ListBucketResult>`)
			return
		}
		body, ok := f.objects[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>not found</Message></Error>`)
			return
		}
		w.Write(body)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func newFakeS3Pool(t *testing.T, size int) *Pool {
	t.Helper()
	srv := httptest.NewServer(&fakeS3{objects: map[string][]byte{}})
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	p, err := New(
		auth.Credentials{AccessKey: "ak", SecretKey: "sk"},
		client.Options{Endpoint: u.Host, DefaultBucket: "b"},
		size,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestVerbsEndToEnd(t *testing.T) {
	p := newFakeS3Pool(t, 4)
	ctx := context.Background()

	up1, err := p.Upload(ctx, "one.txt", strings.NewReader("first"), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	up2, err := p.Upload(ctx, "two.txt", strings.NewReader("second"), nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	for _, fut := range []*Future{up1, up2} {
		if _, err := fut.Result(ctx); err != nil {
			t.Fatalf("upload result: %v", err)
		}
	}

	got, err := p.Get(ctx, "one.txt", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp, err := got.Result(ctx)
	if err != nil {
		t.Fatalf("get result: %v", err)
	}
	if string(resp.Body) != "first" {
		t.Errorf("body = %q, want first", resp.Body)
	}

	lf, err := p.List(ctx, "", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	items, err := lf.Result(ctx)
	if err != nil {
		t.Fatalf("list result: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("listed %d objects, want 2", len(items))
	}

	df, err := p.Delete(ctx, "one.txt", "")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := df.Result(ctx); err != nil {
		t.Fatalf("delete result: %v", err)
	}

	gone, err := p.Get(ctx, "one.txt", nil)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := gone.Result(ctx); err == nil {
		t.Error("expected error for deleted object")
	}
}

func TestListFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `<Error><Code>InternalError</Code><Message>boom</Message></Error>`)
	}))
	t.Cleanup(srv.Close)
	u, _ := url.Parse(srv.URL)
	p, err := New(
		auth.Credentials{AccessKey: "ak", SecretKey: "sk"},
		client.Options{Endpoint: u.Host, DefaultBucket: "b"},
		1,
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	lf, err := p.List(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var se *client.ServiceError
	if _, err := lf.Result(context.Background()); !errors.As(err, &se) || se.Code != "InternalError" {
		t.Errorf("err = %v, want InternalError service error", err)
	}
}
