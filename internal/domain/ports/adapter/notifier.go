package adapter

import "context"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityAlert   Severity = "alert"
)

// Event is an operator-facing notification. DedupKey lets the sink collapse
// repeats of the same underlying occurrence (e.g. webhook retries).
type Event struct {
	Title    string
	Message  string
	Severity Severity
	DedupKey string
}

// NotificationSink receives activation/rejection/grant/revoke events.
// Delivery is best-effort; failures are logged, never propagated into the
// payment state machine.
type NotificationSink interface {
	Notify(ctx context.Context, ev Event) error
}
