// Package fsm defines the session phase transition table.
package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
	StateUploading State = "uploading"
	StatePolling   State = "polling"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

const (
	EventStart     Event = "start"
	EventStop      Event = "stop"
	EventSubmitted Event = "submitted"
	EventProgress  Event = "progress"
	EventCompleted Event = "completed"
	EventFail      Event = "fail"
	EventCancel    Event = "cancel"
	EventReset     Event = "reset"
)

// Terminal reports whether a session cannot leave state without starting over.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Active reports whether a session is between start and a terminal state.
func (s State) Active() bool {
	switch s {
	case StateRecording, StateUploading, StatePolling:
		return true
	default:
		return false
	}
}

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateRecording, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateUploading, nil
		case EventCancel:
			return StateIdle, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateUploading:
		switch event {
		case EventSubmitted:
			return StatePolling, nil
		case EventCancel:
			return StateIdle, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StatePolling:
		switch event {
		case EventProgress:
			return StatePolling, nil
		case EventCompleted:
			return StateDone, nil
		case EventCancel:
			return StateIdle, nil
		case EventFail:
			return StateFailed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateDone, StateFailed:
		switch event {
		case EventReset:
			return StateIdle, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
