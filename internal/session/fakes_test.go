package session

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/jobs"
)

type fakeRecorder struct {
	startErr error
	data     []byte
	chunks   int

	starts   atomic.Int32
	stops    atomic.Int32
	discards atomic.Int32
}

func (f *fakeRecorder) Start(context.Context) (string, error) {
	f.starts.Add(1)
	if f.startErr != nil {
		return "", f.startErr
	}
	return "capture-1", nil
}

func (f *fakeRecorder) Stop(context.Context) (audio.Payload, bool) {
	f.stops.Add(1)
	data := f.data
	if data == nil {
		data = []byte{}
	}
	return audio.Payload{SessionID: "capture-1", Data: data, Chunks: f.chunks}, true
}

func (f *fakeRecorder) Discard(context.Context) {
	f.discards.Add(1)
}

type fakeSubmitter struct {
	id    jobs.JobID
	err   error
	block bool

	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload []byte) (jobs.JobID, error) {
	f.mu.Lock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return "", &jobs.SubmissionFailedError{Err: ctx.Err()}
	}
	if f.err != nil {
		return "", f.err
	}
	if f.id == "" {
		return "job-1", nil
	}
	return f.id, nil
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) Payload(i int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payloads[i]
}

// fakeFetcher answers status queries from a script; unscripted queries are pending.
type fakeFetcher struct {
	mu      sync.Mutex
	replies []jobs.Job
	errs    map[int]error
	gate    map[int]chan struct{}
	calls   int
}

func (f *fakeFetcher) Status(ctx context.Context, id jobs.JobID) (jobs.Job, error) {
	f.mu.Lock()
	idx := f.calls
	f.calls++
	gate := f.gate[idx+1]
	err := f.errs[idx+1]
	var job jobs.Job
	if idx < len(f.replies) {
		job = f.replies[idx]
	} else {
		job = jobs.Job{Status: jobs.StatusPending, Phase: "transcribing"}
	}
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return jobs.Job{}, err
	}
	job.ID = id
	return job, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingPoller struct {
	inner Poller
	calls atomic.Int32
}

func (p *countingPoller) Poll(ctx context.Context, id jobs.JobID) iter.Seq[jobs.Attempt] {
	p.calls.Add(1)
	return p.inner.Poll(ctx, id)
}

func newPoller(t *testing.T, fetch jobs.StatusFetcher, interval time.Duration, maxAttempts int) *countingPoller {
	t.Helper()
	p, err := jobs.NewPoller(fetch, interval, maxAttempts)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return &countingPoller{inner: p}
}

// scriptedPoller yields a fixed attempt list regardless of job id.
type scriptedPoller struct {
	attempts []jobs.Attempt
}

func (p scriptedPoller) Poll(context.Context, jobs.JobID) iter.Seq[jobs.Attempt] {
	return func(yield func(jobs.Attempt) bool) {
		for _, a := range p.attempts {
			if !yield(a) {
				return
			}
		}
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	states []State
}

func (o *recordingObserver) Render(_ context.Context, s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) States() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *recordingObserver) Phases() []fsm.State {
	var out []fsm.State
	for _, s := range o.States() {
		out = append(out, s.Phase)
	}
	return out
}

func (o *recordingObserver) Attempts() []int {
	var out []int
	for _, s := range o.States() {
		if s.Phase == fsm.StatePolling && s.Attempt > 0 {
			out = append(out, s.Attempt)
		}
	}
	return out
}

func startRun(ctx context.Context, ctrl *Controller) <-chan Result {
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- ctrl.Run(ctx)
	}()
	return resultCh
}

func waitForPhase(t *testing.T, ctrl *Controller, want fsm.State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if ctrl.State().Phase == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (last=%s)", want, ctrl.State())
}

func waitForResult(t *testing.T, resultCh <-chan Result) Result {
	t.Helper()
	select {
	case r := <-resultCh:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for session result")
		return Result{}
	}
}
