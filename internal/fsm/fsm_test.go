package fsm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	s := StateIdle

	steps := []struct {
		event Event
		want  State
	}{
		{EventStart, StateRecording},
		{EventStop, StateUploading},
		{EventSubmitted, StatePolling},
		{EventProgress, StatePolling},
		{EventProgress, StatePolling},
		{EventCompleted, StateDone},
		{EventReset, StateIdle},
	}

	for _, step := range steps {
		next, err := Transition(s, step.event)
		require.NoError(t, err, "event %s from %s", step.event, s)
		require.Equal(t, step.want, next)
		s = next
	}
}

func TestTransitionFailOnlyFromActiveStates(t *testing.T) {
	for _, state := range []State{StateRecording, StateUploading, StatePolling} {
		next, err := Transition(state, EventFail)
		require.NoError(t, err)
		require.Equal(t, StateFailed, next)
	}

	for _, state := range []State{StateIdle, StateDone, StateFailed} {
		next, err := Transition(state, EventFail)
		require.Error(t, err)
		require.Equal(t, state, next)
	}
}

func TestTransitionCancelReturnsIdleFromActiveStates(t *testing.T) {
	for _, state := range []State{StateRecording, StateUploading, StatePolling} {
		next, err := Transition(state, EventCancel)
		require.NoError(t, err)
		require.Equal(t, StateIdle, next)
	}
}

func TestTransitionMatrixInvalidTransitions(t *testing.T) {
	tests := []struct {
		name  string
		state State
		event Event
	}{
		{name: "idle stop", state: StateIdle, event: EventStop},
		{name: "idle cancel", state: StateIdle, event: EventCancel},
		{name: "recording start", state: StateRecording, event: EventStart},
		{name: "recording submitted", state: StateRecording, event: EventSubmitted},
		{name: "uploading stop", state: StateUploading, event: EventStop},
		{name: "uploading completed", state: StateUploading, event: EventCompleted},
		{name: "polling start", state: StatePolling, event: EventStart},
		{name: "polling submitted", state: StatePolling, event: EventSubmitted},
		{name: "done start", state: StateDone, event: EventStart},
		{name: "done cancel", state: StateDone, event: EventCancel},
		{name: "failed progress", state: StateFailed, event: EventProgress},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			next, err := Transition(tc.state, tc.event)
			require.Equal(t, tc.state, next)
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
		})
	}
}

func TestTransitionTerminalResetStartsOver(t *testing.T) {
	for _, state := range []State{StateDone, StateFailed} {
		require.True(t, state.Terminal())
		next, err := Transition(state, EventReset)
		require.NoError(t, err)
		require.Equal(t, StateIdle, next)
	}
}

func TestStatePredicates(t *testing.T) {
	require.False(t, StateIdle.Active())
	require.True(t, StateRecording.Active())
	require.True(t, StatePolling.Active())
	require.False(t, StateDone.Active())
	require.False(t, StatePolling.Terminal())
}

func TestTransitionUnknownState(t *testing.T) {
	next, err := Transition(State("mystery"), EventStart)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown state")
	require.Equal(t, State("mystery"), next)
}
