package notify

import (
	"context"
	"sync"

	"farm-subscription-backend/internal/domain/ports/adapter"
)

var _ adapter.NotificationSink = (*NoopNotifier)(nil)

// NoopNotifier records events in memory for tests and dev mode.
type NoopNotifier struct {
	mu     sync.Mutex
	events []adapter.Event
}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (n *NoopNotifier) Notify(ctx context.Context, ev adapter.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

// Events returns a copy of everything notified so far.
func (n *NoopNotifier) Events() []adapter.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]adapter.Event, len(n.events))
	copy(out, n.events)
	return out
}
