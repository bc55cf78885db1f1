// Package session sequences capture, submission and polling into one
// observable session state.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/ipc"
	"github.com/rbright/misty/internal/jobs"
)

var (
	// ErrSessionActive is returned by Run while another Run is in progress.
	ErrSessionActive = errors.New("session already active")
	// ErrNoActiveSession is returned by Cancel outside recording/uploading/polling.
	ErrNoActiveSession = errors.New("no active session")
)

type action int

const (
	actionStop action = iota + 1
)

// Result is the complete lifecycle output of one Run.
type Result struct {
	State           State
	CaptureID       string
	JobID           jobs.JobID
	Attempts        int
	TransportErrors int
	BytesCaptured   int
	Chunks          int
	Cancelled       bool
	Err             error
	CommitErr       error
	StartedAt       time.Time
	FinishedAt      time.Time
}

// Options wires a controller's collaborators.
type Options struct {
	Logger    *slog.Logger
	Recorder  Recorder
	Submitter Submitter
	Poller    Poller
	Committer Committer
	Observers []Observer
}

// Controller owns the session state. Every change goes through apply.
type Controller struct {
	logger    *slog.Logger
	recorder  Recorder
	submitter Submitter
	poller    Poller
	commit    Committer
	observers []Observer

	mu            sync.RWMutex
	state         State
	generation    uint64
	lastAttempt   int
	running       bool
	cancelSession context.CancelFunc

	// notifyMu is taken before mu is released so observers see states in
	// transition order.
	notifyMu sync.Mutex

	actions chan action
}

func NewController(opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	committer := opts.Committer
	if committer == nil {
		committer = CommitFunc(func(context.Context, string, string) error { return nil })
	}
	return &Controller{
		logger:    logger,
		recorder:  opts.Recorder,
		submitter: opts.Submitter,
		poller:    opts.Poller,
		commit:    committer,
		observers: opts.Observers,
		state:     Idle(),
		actions:   make(chan action, 1),
	}
}

// State returns the current state snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run executes one session from idle to a terminal state, or back to idle on
// cancellation. Errors are reported in Result, never returned.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{StartedAt: time.Now()}
	finish := func() Result {
		result.State = c.State()
		result.FinishedAt = time.Now()
		return result
	}

	gen, sessionCtx, err := c.begin(ctx)
	if err != nil {
		result.Err = err
		return finish()
	}
	defer c.end()

	if c.recorder == nil || c.submitter == nil || c.poller == nil {
		result.Err = errors.New("session is missing recorder, submitter or poller")
		return finish()
	}

	if !c.apply(gen, fsm.EventStart, 0, Recording()) {
		result.Err = errors.New("session superseded before start")
		return finish()
	}

	captureID, err := c.recorder.Start(sessionCtx)
	if err != nil {
		if c.interrupted(ctx, gen, &result) {
			return finish()
		}
		result.Err = err
		c.fail(gen, 0, Failure{Reason: ReasonDeviceUnavailable, Err: err}, &result)
		return finish()
	}
	result.CaptureID = captureID

	select {
	case <-sessionCtx.Done():
		c.recorder.Discard(context.Background())
		c.interrupted(ctx, gen, &result)
		return finish()
	case <-c.actions:
	}

	if !c.apply(gen, fsm.EventStop, 0, Uploading()) {
		c.recorder.Discard(context.Background())
		c.interrupted(ctx, gen, &result)
		return finish()
	}

	payload, ok := c.recorder.Stop(sessionCtx)
	if !ok {
		result.Err = fmt.Errorf("%w: capture was not active at stop", audio.ErrDeviceUnavailable)
		c.fail(gen, 0, Failure{Reason: ReasonDeviceUnavailable, Err: result.Err}, &result)
		return finish()
	}
	result.BytesCaptured = len(payload.Data)
	result.Chunks = payload.Chunks
	if c.interrupted(ctx, gen, &result) {
		return finish()
	}

	jobID, err := c.submitter.Submit(sessionCtx, payload.Data)
	if c.interrupted(ctx, gen, &result) {
		return finish()
	}
	if err != nil {
		result.Err = err
		c.fail(gen, 0, submissionFailure(err), &result)
		return finish()
	}
	result.JobID = jobID

	if !c.apply(gen, fsm.EventSubmitted, 0, Polling(jobID, 0)) {
		c.interrupted(ctx, gen, &result)
		return finish()
	}

	for attempt := range c.poller.Poll(sessionCtx, jobID) {
		result.Attempts = attempt.Number
		if attempt.Err != nil {
			result.TransportErrors++
			c.logger.Warn("job status query failed",
				"job_id", string(jobID),
				"attempt", attempt.Number,
				"error", attempt.Err.Error(),
			)
			c.apply(gen, fsm.EventProgress, attempt.Number, Polling(jobID, attempt.Number))
			continue
		}

		job := attempt.Job
		switch job.Status {
		case jobs.StatusDone:
			if !c.apply(gen, fsm.EventCompleted, attempt.Number, Done(job.Transcript, job.Response)) {
				if c.interrupted(ctx, gen, &result) {
					return finish()
				}
				continue
			}
			if err := c.commit.Commit(sessionCtx, job.Transcript, job.Response); err != nil {
				result.CommitErr = err
				c.logger.Warn("commit reply failed", "job_id", string(jobID), "error", err.Error())
			}
			return finish()
		case jobs.StatusError:
			remote := &jobs.RemoteJobError{JobID: jobID, Detail: job.ErrorDetail}
			result.Err = remote
			c.fail(gen, attempt.Number, Failure{Reason: ReasonRemoteJobError, Detail: job.ErrorDetail, Err: remote}, &result)
			return finish()
		default:
			next := Polling(jobID, attempt.Number)
			next.JobPhase = job.Phase
			c.apply(gen, fsm.EventProgress, attempt.Number, next)
		}
	}

	if c.interrupted(ctx, gen, &result) {
		return finish()
	}
	result.Err = fmt.Errorf("%w after %d attempts", jobs.ErrTimeout, result.Attempts)
	c.fail(gen, 0, Failure{Reason: ReasonTimeout, Err: result.Err}, &result)
	return finish()
}

// begin starts a new session identity from idle.
func (c *Controller) begin(parent context.Context) (uint64, context.Context, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return 0, nil, ErrSessionActive
	}

	select {
	case <-c.actions:
	default:
	}

	reset := c.state.Phase.Terminal()
	if reset {
		if _, err := fsm.Transition(c.state.Phase, fsm.EventReset); err != nil {
			c.mu.Unlock()
			return 0, nil, err
		}
	}

	c.generation++
	c.lastAttempt = 0
	c.running = true
	c.state = Idle()
	sessionCtx, cancel := context.WithCancel(parent)
	c.cancelSession = cancel
	gen := c.generation

	if !reset {
		c.mu.Unlock()
		return gen, sessionCtx, nil
	}
	c.publishLocked(Idle(), fsm.EventReset)
	return gen, sessionCtx, nil
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	if c.cancelSession != nil {
		c.cancelSession()
		c.cancelSession = nil
	}
}

// apply publishes next when gen is still current, the fsm allows event and,
// for attempts from the poller, attempt is newer than any seen before.
func (c *Controller) apply(gen uint64, event fsm.Event, attempt int, next State) bool {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		c.logger.Debug("discarding transition for retired session", "event", string(event))
		return false
	}

	phase, err := fsm.Transition(c.state.Phase, event)
	if err != nil {
		c.mu.Unlock()
		c.logger.Debug("rejected transition", "error", err.Error())
		return false
	}
	if attempt > 0 {
		if attempt <= c.lastAttempt {
			c.mu.Unlock()
			c.logger.Debug("discarding stale poll result", "attempt", attempt, "last_attempt", c.lastAttempt)
			return false
		}
		c.lastAttempt = attempt
	}

	next.Phase = phase
	c.state = next
	c.publishLocked(next, event)
	return true
}

// publishLocked must be called with mu held; it releases mu.
func (c *Controller) publishLocked(state State, event fsm.Event) {
	c.notifyMu.Lock()
	c.mu.Unlock()
	defer c.notifyMu.Unlock()

	c.logger.Debug("session transition", "event", string(event), "state", state.String())
	for _, obs := range c.observers {
		obs.Render(context.Background(), state)
	}
}

func (c *Controller) fail(gen uint64, attempt int, failure Failure, result *Result) {
	if !c.apply(gen, fsm.EventFail, attempt, Failed(failure)) && c.retired(gen) {
		result.Cancelled = true
		result.Err = nil
	}
}

// interrupted reports whether the session was cancelled or its parent
// context ended. A parent cancellation moves the session back to idle.
func (c *Controller) interrupted(parent context.Context, gen uint64, result *Result) bool {
	if c.retired(gen) {
		result.Cancelled = true
		result.Err = nil
		return true
	}
	if err := parent.Err(); err != nil {
		c.apply(gen, fsm.EventCancel, 0, Idle())
		result.Err = err
		return true
	}
	return false
}

func (c *Controller) retired(gen uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gen != c.generation
}

// Stop requests the end of capture. It only applies while recording.
func (c *Controller) Stop() error {
	resp := c.requestStop("stop")
	if !resp.OK {
		return errors.New(resp.Error)
	}
	return nil
}

// Cancel abandons the active session. The idle state is published before
// Cancel returns; late results of the abandoned session are discarded.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	if !c.state.Phase.Active() {
		phase := c.state.Phase
		c.mu.Unlock()
		return fmt.Errorf("%w (state %s)", ErrNoActiveSession, phase)
	}
	if _, err := fsm.Transition(c.state.Phase, fsm.EventCancel); err != nil {
		c.mu.Unlock()
		return err
	}

	c.generation++
	c.state = Idle()
	cancel := c.cancelSession
	c.publishLocked(Idle(), fsm.EventCancel)

	if cancel != nil {
		cancel()
	}
	return nil
}

// Handle serves IPC commands for the owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.response(true, "status", "")
	case ipc.CommandToggle:
		return c.requestStop("toggle")
	case ipc.CommandStop:
		return c.requestStop("stop")
	case ipc.CommandCancel:
		if err := c.Cancel(); err != nil {
			return c.response(false, "", fmt.Sprintf("cannot cancel: %v", err))
		}
		return c.response(true, "cancelled", "")
	default:
		return c.response(false, "", fmt.Sprintf("unknown command: %s", req.Command))
	}
}

func (c *Controller) requestStop(source string) ipc.Response {
	state := c.State()
	switch state.Phase {
	case fsm.StateRecording:
	case fsm.StateUploading, fsm.StatePolling:
		return c.response(false, "", fmt.Sprintf("already %s", state.Phase))
	default:
		return c.response(false, "", fmt.Sprintf("cannot %s from state %s", source, state.Phase))
	}

	select {
	case c.actions <- actionStop:
		return c.response(true, "stop requested", "")
	default:
		return c.response(true, "stop already requested", "")
	}
}

func (c *Controller) response(ok bool, message string, errText string) ipc.Response {
	state := c.State()
	resp := ipc.Response{
		OK:      ok,
		State:   string(state.Phase),
		JobID:   string(state.JobID),
		Attempt: state.Attempt,
		Message: message,
		Error:   errText,
	}
	if state.Failure != nil {
		resp.Reason = state.Failure.String()
	}
	return resp
}

func submissionFailure(err error) Failure {
	if errors.Is(err, jobs.ErrMalformedResponse) {
		return Failure{Reason: ReasonMalformedResponse, Err: err}
	}
	status, _ := jobs.IsSubmissionFailed(err)
	return Failure{Reason: ReasonSubmissionFailed, HTTPStatus: status, Err: err}
}
