// Package jobs talks to the remote transcription job backend.
package jobs

import "strings"

// JobID is the opaque identifier the backend assigns at submission.
type JobID string

func (id JobID) String() string { return string(id) }

// Status is the client-side view of a job's lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Terminal reports whether no further polling is needed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Job is one read of the backend's job record. The client never mutates it.
type Job struct {
	ID     JobID
	Status Status
	// Phase is the raw backend status (received, transcribing, thinking, ...).
	Phase       string
	Transcript  string
	Response    string
	ErrorDetail string
}

func normalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "done":
		return StatusDone
	case "error":
		return StatusError
	default:
		return StatusPending
	}
}
