package session

import (
	"context"
	"iter"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/jobs"
)

// Recorder is the capture surface the session drives.
type Recorder interface {
	Start(context.Context) (string, error)
	Stop(context.Context) (audio.Payload, bool)
	Discard(context.Context)
}

// Submitter hands a finalized payload to the job backend.
type Submitter interface {
	Submit(context.Context, []byte) (jobs.JobID, error)
}

// SubmitFunc adapts a function to Submitter.
type SubmitFunc func(context.Context, []byte) (jobs.JobID, error)

func (f SubmitFunc) Submit(ctx context.Context, payload []byte) (jobs.JobID, error) {
	return f(ctx, payload)
}

// Poller produces the status query sequence for one job.
type Poller interface {
	Poll(context.Context, jobs.JobID) iter.Seq[jobs.Attempt]
}

// Observer is notified of every published state, in transition order.
// Render runs while later transitions wait, so slow output belongs on the
// observer's own goroutine.
type Observer interface {
	Render(context.Context, State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(context.Context, State)

func (f ObserverFunc) Render(ctx context.Context, s State) { f(ctx, s) }
