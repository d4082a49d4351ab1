package manager

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"diffusiond/pkg/types"
)

// loadAttempt tracks one in-flight load: the id being loaded, the token that
// cancels it and a handle that closes only after the attempt's terminal
// bookkeeping finished. Waiting on done therefore always observes the final
// state of the attempt, cleanup included.
type loadAttempt struct {
	modelID string
	token   *CancellationToken
	done    chan struct{}
	err     error // terminal outcome, written before done is closed
}

// LoaderService orchestrates loading and unloading: it serializes all
// bookkeeping behind one mutex, resolves request races, and dispatches the
// slow construction to a capacity-one worker lane so two loads can never run
// their blocking work concurrently. The mutex is never held across the slow
// work.
type LoaderService struct {
	mu sync.Mutex

	states    *StateManager
	resources *ResourceManager
	pipelines *PipelineManager
	builder   PipelineBuilder
	publisher EventPublisher

	pool    *ants.Pool
	attempt *loadAttempt // nil when no load is outstanding

	lastErr      string
	loadsTotal   uint64
	cancelsTotal uint64

	log zerolog.Logger
}

func NewLoaderService(
	states *StateManager,
	resources *ResourceManager,
	pipelines *PipelineManager,
	builder PipelineBuilder,
	publisher EventPublisher,
	log zerolog.Logger,
) (*LoaderService, error) {
	// Capacity one, blocking submit: the single lane for construction and
	// destruction work.
	pool, err := ants.NewPool(1)
	if err != nil {
		return nil, err
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	s := &LoaderService{
		states:    states,
		resources: resources,
		pipelines: pipelines,
		builder:   builder,
		publisher: publisher,
		pool:      pool,
		log:       log,
	}
	s.log.Info().Msg("loader service initialized")
	return s, nil
}

// Load loads modelID and returns its pipeline configuration.
//
// Races resolve as follows: the same id already loading is rejected with a
// duplicate error; a different id already loading is cancelled and fully
// drained before this load's transition commits; the id already loaded
// returns the cached configuration without reconstruction. Cancelling ctx
// flags the attempt's token; the attempt still runs to its next checkpoint.
func (s *LoaderService) Load(ctx context.Context, modelID string) (types.PipelineConfig, error) {
	s.mu.Lock()
	if s.states.Current() == StateLoading {
		if att := s.attempt; att != nil && att.modelID == modelID {
			s.mu.Unlock()
			s.log.Info().Str("model", modelID).Msg("model already loading, skipping duplicate request")
			s.publish(Event{Name: "load_duplicate", ModelID: modelID})
			return types.PipelineConfig{}, ErrDuplicateLoad(modelID)
		}
		s.mu.Unlock()
		s.log.Info().Str("model", modelID).Msg("another load in progress, cancelling it for new load")
		s.CancelCurrentLoad()
		s.mu.Lock()
	}

	// Fast path: requested model already resident.
	if s.states.Current() == StateLoaded &&
		s.pipelines.GetModelID() == modelID && s.pipelines.GetPipeline() != nil {
		cfg := s.pipelines.GetPipeline().Config()
		s.mu.Unlock()
		s.log.Info().Str("model", modelID).Msg("model already loaded, returning cached config")
		return cfg, nil
	}

	if !s.states.CanTransitionTo(StateLoading) {
		cur := s.states.Current()
		s.mu.Unlock()
		s.log.Error().Str("model", modelID).Str("state", string(cur)).Msg("cannot load in current state")
		return types.PipelineConfig{}, ErrInvalidState(cur, StateLoading)
	}

	s.states.SetState(StateLoading, ReasonLoadRequested)
	att := &loadAttempt{
		modelID: modelID,
		token:   NewCancellationToken(),
		done:    make(chan struct{}),
	}
	s.attempt = att
	s.mu.Unlock()

	s.publish(Event{Name: "load_started", ModelID: modelID})
	start := time.Now()

	// Map caller context cancellation onto the token.
	watchStop := make(chan struct{})
	defer close(watchStop)
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				att.token.Cancel()
			case <-watchStop:
			}
		}()
	}

	var pipe Pipeline
	var buildErr error
	workerDone := make(chan struct{})
	submitErr := s.pool.Submit(func() {
		defer close(workerDone)
		workerBusy.Inc()
		defer workerBusy.Dec()
		pipe, buildErr = s.buildResident(modelID, att.token)
	})
	if submitErr != nil {
		s.finishAttempt(att, StateError, ReasonLoadFailed, ErrConstructionFailed(modelID, submitErr), false)
		loadsMetric("failed", start)
		return types.PipelineConfig{}, ErrConstructionFailed(modelID, submitErr)
	}
	<-workerDone

	switch {
	case buildErr == nil:
		s.mu.Lock()
		s.pipelines.SetPipeline(pipe, modelID)
		s.states.SetState(StateLoaded, ReasonLoadCompleted)
		s.attempt = nil
		s.lastErr = ""
		s.loadsTotal++
		s.mu.Unlock()
		close(att.done)
		loadsMetric("ok", start)
		s.log.Info().Str("model", modelID).Dur("dur", time.Since(start)).Msg("model loaded")
		s.publish(Event{Name: "load_completed", ModelID: modelID})
		return pipe.Config(), nil

	case IsCancelled(buildErr):
		s.finishAttempt(att, StateIdle, ReasonLoadCancelled, buildErr, true)
		loadsMetric("cancelled", start)
		s.log.Info().Str("model", modelID).Msg("model load cancelled")
		s.publish(Event{Name: "load_cancelled", ModelID: modelID})
		return types.PipelineConfig{}, buildErr

	default:
		err := buildErr
		if !IsConstructionFailed(err) {
			err = ErrConstructionFailed(modelID, buildErr)
		}
		s.finishAttempt(att, StateError, ReasonLoadFailed, err, true)
		loadsMetric("failed", start)
		s.log.Error().Err(buildErr).Str("model", modelID).Msg("model load failed")
		s.publish(Event{Name: "load_failed", ModelID: modelID, Fields: map[string]any{"error": buildErr.Error()}})
		return types.PipelineConfig{}, err
	}
}

// finishAttempt applies the terminal bookkeeping for a non-success outcome:
// state write, attempt teardown, optional partial-resource cleanup, then
// releases anyone draining this attempt. Only the attempt still on record may
// write state; a superseded attempt tears down its own handle and nothing
// else. Cleanup failures are logged, never propagated, and never re-leak a
// reference (nothing was stored).
func (s *LoaderService) finishAttempt(att *loadAttempt, state ModelState, reason StateTransitionReason, outcome error, cleanup bool) {
	s.mu.Lock()
	if s.attempt == att {
		s.states.SetState(state, reason)
		s.attempt = nil
		if outcome != nil && !IsCancelled(outcome) {
			s.lastErr = outcome.Error()
		}
	}
	if IsCancelled(outcome) {
		s.cancelsTotal++
	}
	if cleanup {
		if err := s.resources.CleanupPipeline(nil, att.modelID); err != nil {
			s.log.Warn().Err(err).Str("model", att.modelID).Msg("partial resource cleanup failed")
		}
	}
	s.mu.Unlock()
	att.err = outcome
	close(att.done)
}

// buildResident runs on the worker lane: it releases any resident pipeline
// first, then invokes the construction collaborator with the token.
func (s *LoaderService) buildResident(modelID string, tok *CancellationToken) (Pipeline, error) {
	s.mu.Lock()
	prev := s.pipelines.GetPipeline()
	prevID := s.pipelines.GetModelID()
	if prev != nil {
		s.pipelines.ClearPipeline()
	}
	s.mu.Unlock()

	if prev != nil {
		s.log.Info().Str("model", prevID).Str("next", modelID).Msg("releasing resident pipeline before load")
		if err := s.resources.CleanupPipeline(prev, prevID); err != nil {
			return nil, err
		}
	}

	if err := tok.CheckCancelled(); err != nil {
		return nil, err
	}
	return s.builder.Build(modelID, tok)
}

// Unload removes the resident pipeline. An in-flight load is cancelled and
// fully drained first, including one another caller is already cancelling;
// when the drain already ended the attempt in idle or error there is nothing
// resident and Unload returns. Idle is a no-op. Error state is recovered by
// cleaning up and resetting to idle.
func (s *LoaderService) Unload(ctx context.Context) error {
	for {
		s.mu.Lock()
		st := s.states.Current()
		s.mu.Unlock()
		if st != StateLoading && st != StateCancelling {
			break
		}
		s.log.Info().Msg("cancelling in-progress load before unload")
		s.CancelCurrentLoad()
		s.mu.Lock()
		st = s.states.Current()
		s.mu.Unlock()
		if st == StateIdle || st == StateError {
			// Drain already cleaned up; nothing resident to unload.
			return nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.states.Current(); st {
	case StateIdle:
		s.log.Info().Msg("no model loaded, nothing to unload")
		return nil

	case StateLoaded:
		modelID := s.pipelines.GetModelID()
		s.states.SetState(StateUnloading, ReasonUnloadRequested)
		s.publish(Event{Name: "unload_started", ModelID: modelID})
		start := time.Now()
		if err := s.releaseResidentLocked(); err != nil {
			s.states.SetState(StateError, ReasonUnloadFailed)
			s.lastErr = err.Error()
			s.log.Error().Err(err).Str("model", modelID).Msg("unload failed")
			return err
		}
		s.states.SetState(StateIdle, ReasonUnloadCompleted)
		unloadDuration.Observe(time.Since(start).Seconds())
		s.log.Info().Str("model", modelID).Msg("model unloaded")
		s.publish(Event{Name: "unload_completed", ModelID: modelID})
		return nil

	case StateError:
		// Recovery path: drop whatever is tracked and reset.
		if err := s.releaseResidentLocked(); err != nil {
			s.log.Warn().Err(err).Msg("cleanup during error recovery failed")
		}
		s.states.SetState(StateIdle, ReasonResetFromError)
		s.lastErr = ""
		s.log.Info().Msg("reset to idle state")
		return nil

	default: // StateUnloading, or a load that raced in after the drain.
		return ErrInvalidState(st, StateUnloading)
	}
}

// releaseResidentLocked clears the pipeline reference and cleans it up.
// The reference is cleared before cleanup runs so a cleanup failure can
// never leak a dangling handle. Caller holds the lock.
func (s *LoaderService) releaseResidentLocked() error {
	pipe := s.pipelines.GetPipeline()
	modelID := s.pipelines.GetModelID()
	if pipe == nil && modelID == "" {
		return nil
	}
	s.pipelines.ClearPipeline()
	return s.resources.CleanupPipeline(pipe, modelID)
}

// CancelCurrentLoad flags the in-flight attempt's token, marks the state
// cancelling, and waits for the attempt to fully drain. Safe to call when no
// load is in progress. The expected cancellation outcome is swallowed;
// unrelated failures are logged, since the purpose here is draining, not
// error reporting.
func (s *LoaderService) CancelCurrentLoad() {
	s.mu.Lock()
	att := s.attempt
	if att != nil {
		att.token.Cancel()
		if s.states.Current() == StateLoading {
			s.states.SetState(StateCancelling, ReasonCancelRequested)
		}
	}
	s.mu.Unlock()
	if att == nil {
		return
	}

	s.log.Info().Str("model", att.modelID).Msg("waiting for load to drain")
	<-att.done
	if att.err != nil && !IsCancelled(att.err) {
		s.log.Warn().Err(att.err).Str("model", att.modelID).Msg("drained load ended with unrelated error")
	} else {
		s.log.Info().Str("model", att.modelID).Msg("load drained")
	}
}

// publish delivers an event to the sink. Sink failures are logged and never
// abort the operation that emitted them.
func (s *LoaderService) publish(e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Warn().Interface("panic", r).Str("event", e.Name).Msg("event publisher panicked")
		}
	}()
	s.publisher.Publish(e)
}

// close releases the worker lane. Pending work is waited out by callers, not
// by the pool.
func (s *LoaderService) close() {
	s.pool.Release()
	s.log.Info().Msg("loader service worker released")
}
