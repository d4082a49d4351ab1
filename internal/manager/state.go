package manager

import "github.com/rs/zerolog"

// ModelState is the lifecycle state of the resident pipeline. There is
// exactly one value at any instant, owned by StateManager.
type ModelState string

const (
	StateIdle       ModelState = "idle"
	StateLoading    ModelState = "loading"
	StateLoaded     ModelState = "loaded"
	StateUnloading  ModelState = "unloading"
	StateCancelling ModelState = "cancelling"
	StateError      ModelState = "error"
)

// StateTransitionReason tags every transition for auditability. It carries no
// behavior.
type StateTransitionReason string

const (
	ReasonLoadRequested   StateTransitionReason = "load_requested"
	ReasonLoadCompleted   StateTransitionReason = "load_completed"
	ReasonLoadFailed      StateTransitionReason = "load_failed"
	ReasonLoadCancelled   StateTransitionReason = "load_cancelled"
	ReasonCancelRequested StateTransitionReason = "cancel_requested"
	ReasonUnloadRequested StateTransitionReason = "unload_requested"
	ReasonUnloadCompleted StateTransitionReason = "unload_completed"
	ReasonUnloadFailed    StateTransitionReason = "unload_failed"
	ReasonResetFromError  StateTransitionReason = "reset_from_error"
)

// validTransitions is the fixed adjacency table. Anything absent is a caller
// bug and must fail fast at the load/unload entry points.
var validTransitions = map[ModelState][]ModelState{
	StateIdle:       {StateLoading},
	StateLoading:    {StateLoaded, StateIdle, StateError, StateCancelling},
	StateLoaded:     {StateUnloading},
	StateUnloading:  {StateIdle, StateError},
	StateCancelling: {StateIdle, StateError},
	StateError:      {StateIdle, StateLoading},
}

// StateManager holds the current ModelState and validates transitions.
//
// It is NOT safe for concurrent use on its own. Callers must hold the
// LoaderService lock when reading or writing from multiple goroutines.
type StateManager struct {
	state      ModelState
	lastReason StateTransitionReason
	log        zerolog.Logger
}

func NewStateManager(log zerolog.Logger) *StateManager {
	return &StateManager{state: StateIdle, log: log}
}

// Current returns the current model state.
func (sm *StateManager) Current() ModelState { return sm.state }

// LastReason returns the reason recorded with the most recent transition.
func (sm *StateManager) LastReason() StateTransitionReason { return sm.lastReason }

// CanTransitionTo reports whether moving to target is legal from the current
// state. It never mutates state.
func (sm *StateManager) CanTransitionTo(target ModelState) bool {
	for _, s := range validTransitions[sm.state] {
		if s == target {
			return true
		}
	}
	return false
}

// SetState unconditionally overwrites the state and records the reason.
// Load/unload entry points check CanTransitionTo first; recovery paths after
// cancellation or error write directly.
func (sm *StateManager) SetState(next ModelState, reason StateTransitionReason) {
	prev := sm.state
	sm.state = next
	sm.lastReason = reason
	sm.log.Info().
		Str("from", string(prev)).
		Str("to", string(next)).
		Str("reason", string(reason)).
		Msg("model state transition")
}
