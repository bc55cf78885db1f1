package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedResponse is returned when a 2xx reply lacks a usable job id.
	ErrMalformedResponse = errors.New("malformed job response")
	// ErrTimeout is reported when the poll budget runs out without a terminal job.
	ErrTimeout = errors.New("job polling timed out")
)

// SubmissionFailedError covers non-2xx upload replies and upload transport
// failures. StatusCode is 0 when no HTTP reply was received.
type SubmissionFailedError struct {
	StatusCode int
	Err        error
}

func (e *SubmissionFailedError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("submission failed: %v", e.Err)
		}
		return "submission failed"
	}
	return fmt.Sprintf("submission failed: HTTP %d", e.StatusCode)
}

func (e *SubmissionFailedError) Unwrap() error { return e.Err }

// TransportError is a single failed status query. The poller absorbs it.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("status query: HTTP %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("status query: HTTP %d", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("status query: %v", e.Err)
	default:
		return "status query failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteJobError carries the backend's detail for a job that ended in error.
type RemoteJobError struct {
	JobID  JobID
	Detail string
}

func (e *RemoteJobError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("job %s failed", e.JobID)
	}
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Detail)
}

// IsSubmissionFailed reports whether err is a submission failure and returns
// its HTTP status.
func IsSubmissionFailed(err error) (int, bool) {
	var target *SubmissionFailedError
	if errors.As(err, &target) {
		return target.StatusCode, true
	}
	return 0, false
}
