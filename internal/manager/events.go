package manager

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
//
// Names used by this package and the builder: load_started, load_progress,
// load_completed, load_cancelled, load_failed, load_duplicate,
// unload_started, unload_completed.
type Event struct {
	Name    string
	ModelID string
	Fields  map[string]any
}

// EventPublisher receives events from the manager and the builder.
// Implementations should be lightweight and non-blocking. A panicking or
// failing publisher never aborts a load; failures are logged and dropped.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
