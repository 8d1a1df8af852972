package mock

import (
	"context"
	"sync"

	"github.com/cheeseformice/ranking"
)

var _ ranking.Notifier = (*Notifier)(nil)

// Notifier records every published event.
type Notifier struct {
	mu     sync.Mutex
	events []ranking.Event

	NotifyF func(ctx context.Context, e ranking.Event) error
}

// Notify records e and calls NotifyF when set.
func (n *Notifier) Notify(ctx context.Context, e ranking.Event) error {
	n.mu.Lock()
	n.events = append(n.events, e)
	n.mu.Unlock()
	if n.NotifyF != nil {
		return n.NotifyF(ctx, e)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (n *Notifier) Events() []ranking.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ranking.Event(nil), n.events...)
}

// Kinds returns the kinds of the recorded events in order.
func (n *Notifier) Kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, len(n.events))
	for i, e := range n.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// Count returns how many events of kind were recorded.
func (n *Notifier) Count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var c int
	for _, e := range n.events {
		if e.Kind == kind {
			c++
		}
	}
	return c
}
