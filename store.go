package syncengine

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the durable event queue contract. The engine is a pure
// client: the store is the arbiter of "at most one worker per event" via
// atomic claim semantics in FetchPendingByPriority, and terminal-state
// writes must be idempotent no-ops (see EventStatus.Terminal).
type Store interface {
	// FetchPendingByPriority atomically claims and returns up to batchSize
	// pending events of the given priority that are due (scheduled_at in the
	// past) and at or under maxRetries. Claimed events transition to
	// processing before they are returned; events claimed by another caller
	// are excluded.
	FetchPendingByPriority(ctx context.Context, priority Priority, batchSize, maxRetries int) ([]SyncEvent, error)

	// UpdateStatus transitions an event to the given status, recording an
	// optional error message. Writes against terminal rows are ignored.
	UpdateStatus(ctx context.Context, id uuid.UUID, status EventStatus, errMsg string) error

	// ScheduleRetry resets the event to pending with an incremented retry
	// count, recording the failure and the next attempt time.
	ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, scheduledAt time.Time) error

	// MoveToDeadLetter transitions the event to dead_letter with its final error.
	MoveToDeadLetter(ctx context.Context, id uuid.UUID, finalErr string) error

	// CleanupOldEvents deletes completed events older than the retention
	// window and returns the number of rows removed.
	CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error)

	// CleanupDeadLetter deletes dead-letter events older than the retention
	// window and returns the number of rows removed.
	CleanupDeadLetter(ctx context.Context, retentionDays int) (int64, error)

	// ResetFailedEvents resets failed events (and stale processing events)
	// older than maxAge back to pending with a zero retry count. A nil
	// priority resets across all levels.
	ResetFailedEvents(ctx context.Context, priority *Priority, maxAge time.Duration) (int64, error)

	// QueueStatistics returns database-side aggregate statistics.
	QueueStatistics(ctx context.Context) (QueueStats, error)
}
