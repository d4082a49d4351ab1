package manager

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to ModelState
		ok       bool
	}{
		{StateIdle, StateLoading, true},
		{StateIdle, StateLoaded, false},
		{StateIdle, StateUnloading, false},
		{StateLoading, StateLoaded, true},
		{StateLoading, StateIdle, true},
		{StateLoading, StateError, true},
		{StateLoading, StateCancelling, true},
		{StateLoading, StateUnloading, false},
		{StateLoaded, StateUnloading, true},
		{StateLoaded, StateLoading, false},
		{StateLoaded, StateIdle, false},
		{StateUnloading, StateIdle, true},
		{StateUnloading, StateError, true},
		{StateUnloading, StateLoading, false},
		{StateCancelling, StateIdle, true},
		{StateCancelling, StateError, true},
		{StateCancelling, StateLoaded, false},
		{StateError, StateIdle, true},
		{StateError, StateLoading, true},
		{StateError, StateLoaded, false},
	}
	for _, c := range cases {
		sm := NewStateManager(zerolog.Nop())
		sm.state = c.from
		if got := sm.CanTransitionTo(c.to); got != c.ok {
			t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestStateManagerStartsIdle(t *testing.T) {
	sm := NewStateManager(zerolog.Nop())
	if sm.Current() != StateIdle {
		t.Fatalf("initial state = %q, want idle", sm.Current())
	}
}

func TestSetStateRecordsReason(t *testing.T) {
	sm := NewStateManager(zerolog.Nop())
	sm.SetState(StateLoading, ReasonLoadRequested)
	if sm.Current() != StateLoading {
		t.Fatalf("state = %q, want loading", sm.Current())
	}
	if sm.LastReason() != ReasonLoadRequested {
		t.Fatalf("reason = %q, want load_requested", sm.LastReason())
	}
}

func TestCanTransitionToDoesNotMutate(t *testing.T) {
	sm := NewStateManager(zerolog.Nop())
	sm.CanTransitionTo(StateLoading)
	if sm.Current() != StateIdle {
		t.Fatalf("state changed by CanTransitionTo: %q", sm.Current())
	}
}
