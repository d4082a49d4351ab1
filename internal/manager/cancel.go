package manager

import "sync"

// CancellationToken is a one-shot cooperative cancel flag. A fresh token is
// minted for every load attempt and never reused; once flagged it never
// unflags. Construction collaborators must poll CheckCancelled at their
// checkpoints, so cancellation takes effect at the next checkpoint rather
// than immediately.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
}

func NewCancellationToken() *CancellationToken { return &CancellationToken{} }

// Cancel requests cancellation. Idempotent.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	t.cancelled = true
	t.mu.Unlock()
}

// IsCancelled reports whether cancellation has been requested. A nil token
// never reports cancelled.
func (t *CancellationToken) IsCancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// CheckCancelled returns a cancelled error if cancellation has been
// requested, otherwise nil. Safe on a nil token.
func (t *CancellationToken) CheckCancelled() error {
	if t.IsCancelled() {
		return ErrCancelled()
	}
	return nil
}
