package ranking

import (
	"context"
	"time"
)

// Event kinds announced on the notification bus.
const (
	// EventUpdate is broadcast when the source data has been updated.
	EventUpdate = "update"
	// EventRebuilt is broadcast when a table generation has been committed.
	EventRebuilt = "rebuilt"
)

// Event is a notification published on the bus.
type Event struct {
	Kind       string    `json:"kind"`
	Table      string    `json:"table,omitempty"`
	Generation uint64    `json:"generation,omitempty"`
	Time       time.Time `json:"time"`
}

// Notifier publishes events to the notification bus.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, Event) error { return nil }
