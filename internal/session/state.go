package session

import (
	"fmt"

	"github.com/rbright/misty/internal/fsm"
	"github.com/rbright/misty/internal/jobs"
)

// Reason classifies why a session failed.
type Reason string

const (
	ReasonDeviceUnavailable Reason = "device_unavailable"
	ReasonSubmissionFailed  Reason = "submission_failed"
	ReasonMalformedResponse Reason = "malformed_response"
	ReasonRemoteJobError    Reason = "remote_job_error"
	ReasonTimeout           Reason = "timeout"
)

// Failure is the payload of the failed phase. HTTPStatus is set for
// submission failures (0 when no reply was received) and Detail for remote
// job errors.
type Failure struct {
	Reason     Reason
	HTTPStatus int
	Detail     string
	Err        error
}

func (f Failure) String() string {
	switch f.Reason {
	case ReasonSubmissionFailed:
		return fmt.Sprintf("%s{%d}", f.Reason, f.HTTPStatus)
	case ReasonRemoteJobError:
		return fmt.Sprintf("%s{%s}", f.Reason, f.Detail)
	default:
		return string(f.Reason)
	}
}

// State is the single observable view of a session. Only the fields that
// belong to Phase are set.
type State struct {
	Phase fsm.State

	// polling
	JobID    jobs.JobID
	Attempt  int
	JobPhase string

	// done
	Transcript string
	Response   string

	// failed
	Failure *Failure
}

func Idle() State { return State{Phase: fsm.StateIdle} }

func Recording() State { return State{Phase: fsm.StateRecording} }

func Uploading() State { return State{Phase: fsm.StateUploading} }

func Polling(id jobs.JobID, attempt int) State {
	return State{Phase: fsm.StatePolling, JobID: id, Attempt: attempt}
}

func Done(transcript string, response string) State {
	return State{Phase: fsm.StateDone, Transcript: transcript, Response: response}
}

func Failed(f Failure) State {
	return State{Phase: fsm.StateFailed, Failure: &f}
}

func (s State) String() string {
	switch s.Phase {
	case fsm.StatePolling:
		return fmt.Sprintf("polling{%s, %d}", s.JobID, s.Attempt)
	case fsm.StateDone:
		return fmt.Sprintf("done{%q, %q}", s.Transcript, s.Response)
	case fsm.StateFailed:
		if s.Failure == nil {
			return "failed"
		}
		return fmt.Sprintf("failed{%s}", s.Failure)
	default:
		return string(s.Phase)
	}
}

// Reason returns the failure reason, or "" outside the failed phase.
func (s State) Reason() Reason {
	if s.Failure == nil {
		return ""
	}
	return s.Failure.Reason
}
