package session

import (
	"context"
	"testing"
	"time"

	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/ipc"
	"github.com/stretchr/testify/require"
)

func TestHandleStatusAndUnknownCommand(t *testing.T) {
	ctrl := NewController(Options{})

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)

	unknown := ctrl.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestHandleStopAndCancelStateGuards(t *testing.T) {
	ctrl := NewController(Options{})

	stopFromIdle := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, stopFromIdle.OK)
	require.Contains(t, stopFromIdle.Error, "cannot stop from state idle")

	cancelFromIdle := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.False(t, cancelFromIdle.OK)
	require.Contains(t, cancelFromIdle.Error, "no active session")

	ctrl.mu.Lock()
	ctrl.state = Uploading()
	ctrl.mu.Unlock()

	stopFromUploading := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandToggle})
	require.False(t, stopFromUploading.OK)
	require.Contains(t, stopFromUploading.Error, "already uploading")

	ctrl.mu.Lock()
	ctrl.state = Polling("job-9", 2)
	ctrl.mu.Unlock()

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.Equal(t, "polling", status.State)
	require.Equal(t, "job-9", status.JobID)
	require.Equal(t, 2, status.Attempt)
}

func TestHandleStopAlreadyRequested(t *testing.T) {
	ctrl := NewController(Options{})

	ctrl.mu.Lock()
	ctrl.state = Recording()
	ctrl.mu.Unlock()

	first := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, first.OK)
	require.Equal(t, "stop requested", first.Message)

	second := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, second.OK)
	require.Equal(t, "stop already requested", second.Message)
}

func TestHandleReportsFailureReason(t *testing.T) {
	ctrl := NewController(Options{})

	ctrl.mu.Lock()
	ctrl.state = Failed(Failure{Reason: ReasonSubmissionFailed, HTTPStatus: 503})
	ctrl.mu.Unlock()

	status := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.Equal(t, "failed", status.State)
	require.Equal(t, "submission_failed{503}", status.Reason)
}

func TestHandleCancelDuringRun(t *testing.T) {
	ctrl := NewController(Options{
		Recorder:  &fakeRecorder{},
		Submitter: &fakeSubmitter{},
		Poller:    newPoller(t, &fakeFetcher{}, time.Millisecond, 1),
	})

	resultCh := startRun(context.Background(), ctrl)
	waitForPhase(t, ctrl, fsm.StateRecording)

	resp := ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandCancel})
	require.True(t, resp.OK)
	require.Equal(t, "idle", resp.State)

	result := waitForResult(t, resultCh)
	require.True(t, result.Cancelled)
}

func TestCommitFuncDelegates(t *testing.T) {
	called := false
	commit := CommitFunc(func(_ context.Context, transcript string, response string) error {
		called = true
		require.Equal(t, "hello", transcript)
		require.Equal(t, "hi", response)
		return nil
	})

	require.NoError(t, commit.Commit(context.Background(), "hello", "hi"))
	require.True(t, called)
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "idle", Idle().String())
	require.Equal(t, "polling{job, 3}", Polling("job", 3).String())
	require.Equal(t, `done{"a", "b"}`, Done("a", "b").String())
	require.Equal(t, Reason(""), Done("a", "b").Reason())
}
