package syncengine

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind classifies engine notifications.
type NotificationKind string

const (
	NotificationBatchCompleted    NotificationKind = "batch_completed"
	NotificationEventFailed       NotificationKind = "event_failed"
	NotificationEventDeadLettered NotificationKind = "event_dead_lettered"
)

// Notification is a structured result message emitted by the dispatch loop.
// Callers consume them through Engine.Notifications; delivery is best-effort
// and decoupled from dispatch control flow.
type Notification struct {
	Kind       NotificationKind `json:"kind"`
	Priority   Priority         `json:"priority"`
	TableName  string           `json:"table_name,omitempty"`
	EventID    uuid.UUID        `json:"event_id,omitempty"`
	Error      string           `json:"error,omitempty"`
	Processed  int              `json:"processed,omitempty"`
	Failed     int              `json:"failed,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// notify publishes without ever blocking the dispatch loop: when the
// subscriber falls behind, the notification is dropped. The read lock pairs
// with the write lock Close takes before closing the channel, so a send can
// never race the close; after Close notifications are silently dropped.
func (e *Engine) notify(n Notification) {
	n.OccurredAt = time.Now()

	e.notifyMu.RLock()
	defer e.notifyMu.RUnlock()

	if e.closed.Load() {
		return
	}
	select {
	case e.notifications <- n:
	default:
		e.logger.Debug("notification dropped, channel full",
			"kind", string(n.Kind),
			"event_id", n.EventID.String())
	}
}
