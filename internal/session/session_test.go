package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rbright/misty/internal/audio"
	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/jobs"
	"github.com/stretchr/testify/require"
)

func pendingJob() jobs.Job { return jobs.Job{Status: jobs.StatusPending, Phase: "thinking"} }

func TestRunCompletesAfterPendingAttempts(t *testing.T) {
	fetch := &fakeFetcher{replies: []jobs.Job{
		pendingJob(),
		pendingJob(),
		pendingJob(),
		{Status: jobs.StatusDone, Phase: "done", Transcript: "hello", Response: "hi there"},
	}}
	poller := newPoller(t, fetch, 500*time.Millisecond, 4)
	observer := &recordingObserver{}
	var committed []string
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{data: []byte{1, 2, 3, 4}, chunks: 2},
		Submitter: &fakeSubmitter{id: "job-42"},
		Poller:    poller,
		Committer: CommitFunc(func(_ context.Context, transcript string, response string) error {
			committed = append(committed, transcript, response)
			return nil
		}),
		Observers: []Observer{observer},
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	stopAt := time.Now()
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.NoError(t, result.Err)
	require.Equal(t, Done("hello", "hi there"), result.State)
	require.Equal(t, jobs.JobID("job-42"), result.JobID)
	require.Equal(t, 4, result.Attempts)
	require.Equal(t, 4, fetch.Calls())
	require.Equal(t, 4, result.BytesCaptured)
	require.Equal(t, 2, result.Chunks)
	require.Equal(t, "capture-1", result.CaptureID)
	require.GreaterOrEqual(t, result.FinishedAt.Sub(stopAt), 1500*time.Millisecond)
	require.Equal(t, []string{"hello", "hi there"}, committed)

	require.Equal(t, []fsm.State{
		fsm.StateRecording,
		fsm.StateUploading,
		fsm.StatePolling,
		fsm.StatePolling,
		fsm.StatePolling,
		fsm.StatePolling,
		fsm.StateDone,
	}, observer.Phases())
	require.Equal(t, []int{1, 2, 3}, observer.Attempts())
	require.Equal(t, "thinking", observer.States()[3].JobPhase)
}

func TestRunTimesOutWhenJobStaysPending(t *testing.T) {
	fetch := &fakeFetcher{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{data: []byte{1}},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, 500*time.Millisecond, 2),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.ErrorIs(t, result.Err, jobs.ErrTimeout)
	require.Equal(t, fsm.StateFailed, result.State.Phase)
	require.Equal(t, ReasonTimeout, result.State.Reason())
	require.Equal(t, 2, fetch.Calls())
	require.Equal(t, 2, result.Attempts)
	require.Equal(t, "failed{timeout}", result.State.String())
}

func TestRunSubmissionFailureNeverPolls(t *testing.T) {
	poller := newPoller(t, &fakeFetcher{}, time.Millisecond, 3)
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{data: []byte{1}},
		Submitter: &fakeSubmitter{err: &jobs.SubmissionFailedError{StatusCode: 500}},
		Poller:    poller,
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.Equal(t, fsm.StateFailed, result.State.Phase)
	require.Equal(t, ReasonSubmissionFailed, result.State.Reason())
	require.Equal(t, 500, result.State.Failure.HTTPStatus)
	require.Equal(t, "failed{submission_failed{500}}", result.State.String())
	require.Zero(t, poller.calls.Load())

	status, ok := jobs.IsSubmissionFailed(result.Err)
	require.True(t, ok)
	require.Equal(t, 500, status)
}

func TestRunMalformedSubmitReply(t *testing.T) {
	poller := newPoller(t, &fakeFetcher{}, time.Millisecond, 3)
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{err: fmt.Errorf("%w: missing job_id", jobs.ErrMalformedResponse)},
		Poller:    poller,
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.Equal(t, ReasonMalformedResponse, result.State.Reason())
	require.ErrorIs(t, result.Err, jobs.ErrMalformedResponse)
	require.Zero(t, poller.calls.Load())
}

func TestRunSubmitsZeroLengthPayload(t *testing.T) {
	submitter := &fakeSubmitter{}
	fetch := &fakeFetcher{replies: []jobs.Job{{Status: jobs.StatusDone, Transcript: "", Response: "I heard nothing"}}}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: submitter,
		Poller:    newPoller(t, fetch, time.Millisecond, 2),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.NoError(t, result.Err)
	require.Equal(t, 1, submitter.Calls())
	require.Empty(t, submitter.Payload(0))
	require.Zero(t, result.BytesCaptured)
	require.Equal(t, fsm.StateDone, result.State.Phase)
}

func TestCancelWhilePollingDiscardsInFlightResponse(t *testing.T) {
	release := make(chan struct{})
	fetch := &fakeFetcher{
		replies: []jobs.Job{
			pendingJob(),
			{Status: jobs.StatusDone, Transcript: "late", Response: "too late"},
		},
		gate: map[int]chan struct{}{2: release},
	}
	observer := &recordingObserver{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{data: []byte{1}},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, time.Millisecond, 5),
		Observers: []Observer{observer},
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	require.Eventually(t, func() bool { return fetch.Calls() == 2 }, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, ctrl.Cancel())
	require.Equal(t, Idle(), ctrl.State())

	close(release)
	result := waitForResult(t, resultCh)

	require.True(t, result.Cancelled)
	require.NoError(t, result.Err)
	require.Equal(t, Idle(), result.State)
	require.Equal(t, Idle(), ctrl.State())

	states := observer.States()
	require.Equal(t, Idle(), states[len(states)-1])
	for _, s := range states {
		require.NotEqual(t, fsm.StateDone, s.Phase)
	}
}

func TestCancelWhileRecordingDiscardsCapture(t *testing.T) {
	recorder := &fakeRecorder{data: []byte{1, 2}}
	submitter := &fakeSubmitter{}
	ctrl := NewController(Options{
		Recorder:  recorder,
		Submitter: submitter,
		Poller:    newPoller(t, &fakeFetcher{}, time.Millisecond, 1),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Cancel())

	result := waitForResult(t, resultCh)
	require.True(t, result.Cancelled)
	require.Equal(t, fsm.StateIdle, result.State.Phase)
	require.Equal(t, int32(1), recorder.discards.Load())
	require.Zero(t, recorder.stops.Load())
	require.Zero(t, submitter.Calls())
}

func TestCancelWhileUploadingAbortsSubmit(t *testing.T) {
	submitter := &fakeSubmitter{block: true}
	poller := newPoller(t, &fakeFetcher{}, time.Millisecond, 1)
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{data: []byte{1}},
		Submitter: submitter,
		Poller:    poller,
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())
	require.Eventually(t, func() bool { return submitter.Calls() == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, ctrl.Cancel())
	require.Equal(t, fsm.StateIdle, ctrl.State().Phase)

	result := waitForResult(t, resultCh)
	require.True(t, result.Cancelled)
	require.Equal(t, fsm.StateIdle, result.State.Phase)
	require.Zero(t, poller.calls.Load())
}

func TestRunIgnoresStaleAttempts(t *testing.T) {
	observer := &recordingObserver{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller: scriptedPoller{attempts: []jobs.Attempt{
			{Number: 1, Job: pendingJob()},
			{Number: 3, Job: pendingJob()},
			{Number: 2, Job: jobs.Job{Status: jobs.StatusDone, Transcript: "stale"}},
			{Number: 2, Job: pendingJob()},
			{Number: 4, Job: jobs.Job{Status: jobs.StatusDone, Transcript: "fresh", Response: "ok"}},
		}},
		Observers: []Observer{observer},
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.Equal(t, Done("fresh", "ok"), result.State)
	require.Equal(t, []int{1, 3}, observer.Attempts())
}

func TestRunRemoteJobError(t *testing.T) {
	fetch := &fakeFetcher{replies: []jobs.Job{
		pendingJob(),
		{Status: jobs.StatusError, ErrorDetail: "model crashed"},
	}}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, time.Millisecond, 5),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.Equal(t, ReasonRemoteJobError, result.State.Reason())
	require.Equal(t, "model crashed", result.State.Failure.Detail)
	require.Equal(t, "failed{remote_job_error{model crashed}}", result.State.String())

	var remote *jobs.RemoteJobError
	require.True(t, errors.As(result.Err, &remote))
	require.Equal(t, 2, fetch.Calls())
}

func TestRunAbsorbsTransportErrors(t *testing.T) {
	fetch := &fakeFetcher{
		replies: []jobs.Job{{}, {}, {Status: jobs.StatusDone, Transcript: "t", Response: "r"}},
		errs: map[int]error{
			1: &jobs.TransportError{StatusCode: 502},
			2: &jobs.TransportError{Err: errors.New("connection reset")},
		},
	}
	observer := &recordingObserver{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, time.Millisecond, 3),
		Observers: []Observer{observer},
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.NoError(t, result.Err)
	require.Equal(t, 2, result.TransportErrors)
	require.Equal(t, 3, result.Attempts)
	require.Equal(t, Done("t", "r"), result.State)
	require.Equal(t, []int{1, 2}, observer.Attempts())
}

func TestRunDeviceUnavailable(t *testing.T) {
	submitter := &fakeSubmitter{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{startErr: audio.ErrDeviceBusy},
		Submitter: submitter,
		Poller:    newPoller(t, &fakeFetcher{}, time.Millisecond, 1),
	})

	result := ctrl.Run(context.Background())
	require.ErrorIs(t, result.Err, audio.ErrDeviceBusy)
	require.Equal(t, ReasonDeviceUnavailable, result.State.Reason())
	require.Zero(t, submitter.Calls())
}

func TestRunParentContextCancelled(t *testing.T) {
	recorder := &fakeRecorder{}
	ctrl := NewController(Options{
		Recorder:  recorder,
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, &fakeFetcher{}, time.Millisecond, 1),
	})

	ctx, cancel := context.WithCancel(context.Background())
	resultCh := startRun(ctx, ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	cancel()

	result := waitForResult(t, resultCh)
	require.ErrorIs(t, result.Err, context.Canceled)
	require.False(t, result.Cancelled)
	require.Equal(t, fsm.StateIdle, result.State.Phase)
	require.Equal(t, int32(1), recorder.discards.Load())
}

func TestRunCommitFailureKeepsDone(t *testing.T) {
	fetch := &fakeFetcher{replies: []jobs.Job{{Status: jobs.StatusDone, Transcript: "a", Response: "b"}}}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, time.Millisecond, 1),
		Committer: CommitFunc(func(context.Context, string, string) error { return errors.New("clipboard busy") }),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())

	result := waitForResult(t, resultCh)
	require.NoError(t, result.Err)
	require.EqualError(t, result.CommitErr, "clipboard busy")
	require.Equal(t, fsm.StateDone, result.State.Phase)
}

func TestNextRunStartsFromIdle(t *testing.T) {
	fetch := &fakeFetcher{}
	observer := &recordingObserver{}
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, fetch, time.Millisecond, 1),
		Observers: []Observer{observer},
	})

	first := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Stop())
	require.Equal(t, fsm.StateFailed, waitForResult(t, first).State.Phase)
	require.Equal(t, fsm.StateFailed, ctrl.State().Phase)

	second := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)
	require.NoError(t, ctrl.Cancel())
	waitForResult(t, second)

	phases := observer.Phases()
	failedAt := -1
	for i, p := range phases {
		if p == fsm.StateFailed {
			failedAt = i
			break
		}
	}
	require.GreaterOrEqual(t, failedAt, 0)
	require.Equal(t, fsm.StateIdle, phases[failedAt+1])
	require.Equal(t, fsm.StateRecording, phases[failedAt+2])
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, &fakeFetcher{}, time.Millisecond, 1),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)

	second := ctrl.Run(context.Background())
	require.ErrorIs(t, second.Err, ErrSessionActive)

	require.NoError(t, ctrl.Cancel())
	waitForResult(t, resultCh)
}

func TestRunWithoutCollaborators(t *testing.T) {
	result := NewController(Options{}).Run(context.Background())
	require.Error(t, result.Err)
	require.Equal(t, fsm.StateIdle, result.State.Phase)
	require.False(t, result.FinishedAt.Before(result.StartedAt))
}
