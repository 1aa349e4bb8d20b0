package orm

import "context"

// Event names a model lifecycle event.
type Event string

const (
	Retrieved Event = "retrieved"
	Saving    Event = "saving"
	Saved     Event = "saved"
	Creating  Event = "creating"
	Created   Event = "created"
	Updating  Event = "updating"
	Updated   Event = "updated"
	Deleting  Event = "deleting"
	Deleted   Event = "deleted"
	Restoring Event = "restoring"
	Restored  Event = "restored"
)

// Cancellable reports whether a listener returning false aborts the operation.
func (e Event) Cancellable() bool {
	switch e {
	case Saving, Creating, Updating, Deleting, Restoring:
		return true
	}
	return false
}

// Listener observes a lifecycle event. For cancellable events, returning false aborts the
// operation with ErrAborted; the return value is ignored otherwise.
type Listener func(ctx context.Context, m *Model) bool

// fire runs the listeners registered for the model's schema. It reports false when a
// cancellable event was vetoed; remaining listeners are skipped.
func (r *Registry) fire(ctx context.Context, ev Event, m *Model) bool {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners[m.schema.Name][ev]...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if !fn(ctx, m) && ev.Cancellable() {
			return false
		}
	}
	return true
}
