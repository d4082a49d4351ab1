package manager

import "errors"

// duplicateLoadError signals that the exact model id is already loading.
// Callers should treat it as "already in progress", not as a failure to retry.
type duplicateLoadError struct{ id string }

func (e duplicateLoadError) Error() string { return "model already loading: " + e.id }

func ErrDuplicateLoad(id string) error { return duplicateLoadError{id: id} }

// IsDuplicateLoad reports whether err indicates a duplicate load request.
func IsDuplicateLoad(err error) bool {
	var e duplicateLoadError
	return errors.As(err, &e)
}

// invalidStateError signals a transition forbidden by the state table. This
// is a programming error on the caller side and is never retried internally.
type invalidStateError struct {
	current ModelState
	target  ModelState
}

func (e invalidStateError) Error() string {
	return "invalid state transition: " + string(e.current) + " -> " + string(e.target)
}

func ErrInvalidState(current, target ModelState) error {
	return invalidStateError{current: current, target: target}
}

// IsInvalidState reports whether err indicates an illegal state transition.
func IsInvalidState(err error) bool {
	var e invalidStateError
	return errors.As(err, &e)
}

// cancelledError is the expected outcome of a load aborted by a newer request
// or an explicit unload. It is not logged as an error.
type cancelledError struct{}

func (cancelledError) Error() string { return "operation cancelled" }

func ErrCancelled() error { return cancelledError{} }

// IsCancelled reports whether err is the cooperative cancellation outcome.
func IsCancelled(err error) bool {
	var e cancelledError
	return errors.As(err, &e)
}

// constructionError signals that the builder exhausted its strategies.
// Terminal for the attempt; recoverable via a fresh Load.
type constructionError struct {
	id  string
	err error
}

func (e constructionError) Error() string {
	return "construction failed for " + e.id + ": " + e.err.Error()
}

func (e constructionError) Unwrap() error { return e.err }

func ErrConstructionFailed(id string, err error) error { return constructionError{id: id, err: err} }

// IsConstructionFailed reports whether err indicates an exhausted build.
func IsConstructionFailed(err error) bool {
	var e constructionError
	return errors.As(err, &e)
}

// cleanupError signals that releasing pipeline or accelerator memory failed.
// The pipeline reference is always cleared before this surfaces, so a dangling
// handle is never leaked.
type cleanupError struct {
	id  string
	err error
}

func (e cleanupError) Error() string {
	return "cleanup failed for " + e.id + ": " + e.err.Error()
}

func (e cleanupError) Unwrap() error { return e.err }

func ErrCleanupFailed(id string, err error) error { return cleanupError{id: id, err: err} }

// IsCleanupFailed reports whether err indicates a failed resource cleanup.
func IsCleanupFailed(err error) bool {
	var e cleanupError
	return errors.As(err, &e)
}

// modelNotFoundError signals a model id absent from the registry.
type modelNotFoundError struct{ id string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.id }

func ErrModelNotFound(id string) error { return modelNotFoundError{id: id} }

// IsModelNotFound reports whether the error indicates a missing model id.
func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}
