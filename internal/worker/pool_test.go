package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubResult struct {
	err error
}

func (r *stubResult) GetError() error {
	return r.err
}

// stubJob records how many jobs run at once and optionally fails or blocks
type stubJob struct {
	hold     time.Duration
	fail     bool
	running  *atomic.Int32
	peak     *atomic.Int32
	executed *atomic.Int32
	started  chan struct{}
}

func (j *stubJob) Execute(ctx context.Context) Result {
	if j.executed != nil {
		j.executed.Add(1)
	}
	if j.running != nil {
		n := j.running.Add(1)
		defer j.running.Add(-1)
		for {
			peak := j.peak.Load()
			if n <= peak || j.peak.CompareAndSwap(peak, n) {
				break
			}
		}
	}
	if j.started != nil {
		close(j.started)
	}
	if j.hold > 0 {
		select {
		case <-time.After(j.hold):
		case <-ctx.Done():
			return &stubResult{err: ctx.Err()}
		}
	}
	if j.fail {
		return &stubResult{err: errors.New("oracle unavailable")}
	}
	return &stubResult{}
}

// runAll streams jobs through a pool and collects every result
func runAll(pool *Pool, jobs []Job) []Result {
	go func() {
		defer pool.CloseInput()
		for _, job := range jobs {
			if !pool.Submit(job) {
				return
			}
		}
	}()

	var results []Result
	for r := range pool.Results() {
		results = append(results, r)
	}
	return results
}

func TestNewPool(t *testing.T) {
	tests := []struct {
		desc    string
		workers int
		want    int
	}{
		{desc: "explicit", workers: 5, want: 5},
		{desc: "zero", workers: 0, want: 1},
		{desc: "negative", workers: -1, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := NewPool(context.Background(), tt.workers).workers; got != tt.want {
				t.Errorf("expected %d workers, got %d", tt.want, got)
			}
		})
	}
}

func TestPool_Results(t *testing.T) {
	tests := []struct {
		desc       string
		workers    int
		jobs       int
		failEvery  int
		wantFailed int
	}{
		{desc: "all succeed", workers: 2, jobs: 10},
		{desc: "some fail", workers: 3, jobs: 12, failEvery: 4, wantFailed: 3},
		{desc: "more jobs than buffers", workers: 2, jobs: 60},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			pool := NewPool(context.Background(), tt.workers)
			pool.Start()

			var executed atomic.Int32
			jobs := make([]Job, tt.jobs)
			for i := range jobs {
				jobs[i] = &stubJob{executed: &executed, fail: tt.failEvery > 0 && i%tt.failEvery == 0}
			}

			results := runAll(pool, jobs)

			if len(results) != tt.jobs {
				t.Fatalf("expected %d results, got %d", tt.jobs, len(results))
			}
			if got := executed.Load(); got != int32(tt.jobs) {
				t.Errorf("expected %d executed jobs, got %d", tt.jobs, got)
			}
			failed := 0
			for _, r := range results {
				if r.GetError() != nil {
					failed++
				}
			}
			if failed != tt.wantFailed {
				t.Errorf("expected %d failures, got %d", tt.wantFailed, failed)
			}
		})
	}
}

func TestPool_BoundedConcurrency(t *testing.T) {
	workers := 4
	pool := NewPool(context.Background(), workers)
	pool.Start()

	var running, peak atomic.Int32
	jobs := make([]Job, 40)
	for i := range jobs {
		jobs[i] = &stubJob{hold: 5 * time.Millisecond, running: &running, peak: &peak}
	}

	runAll(pool, jobs)

	if got := peak.Load(); got > int32(workers) {
		t.Errorf("peak concurrency %d exceeded %d workers", got, workers)
	}
	if got := peak.Load(); got <= 1 {
		t.Logf("peak concurrency was %d, expected > 1", got)
	}
}

func TestPool_Wait(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	pool.Submit(&stubJob{})
	pool.Submit(&stubJob{fail: true})

	if results := pool.Wait(); len(results) != 2 {
		t.Errorf("expected 2 results, got %d", len(results))
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	started := make(chan struct{})
	pool.Submit(&stubJob{hold: time.Minute, started: started})
	<-started

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		for range pool.Results() {
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not interrupt a running job")
	}

	// Submit after shutdown must not block
	submitted := make(chan bool)
	go func() { submitted <- pool.Submit(&stubJob{}) }()
	select {
	case ok := <-submitted:
		if ok {
			t.Error("Submit after shutdown should report false")
		}
	case <-time.After(time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPool_ParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	cancel()
	_ = pool.Submit(&stubJob{})

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked after parent cancel")
	}
}
