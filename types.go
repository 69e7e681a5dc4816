package syncengine

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority represents the processing priority of a sync event.
// Priorities are serviced strictly in order critical > high > normal > low
// on every dispatch tick.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityNormal   Priority = "normal"
	PriorityLow      Priority = "low"
)

// priorityOrder is the fixed dispatch order. Highest priority is serviced
// first on every tick; under sustained overload lower priorities may be
// starved, which is accepted behavior.
var priorityOrder = [...]Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// Priorities returns all valid priority levels in dispatch order.
func Priorities() []Priority {
	return priorityOrder[:]
}

// Valid checks if the priority is one of the known levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// EventStatus represents the lifecycle state of a sync event.
type EventStatus string

const (
	StatusPending    EventStatus = "pending"
	StatusProcessing EventStatus = "processing"
	StatusCompleted  EventStatus = "completed"
	StatusFailed     EventStatus = "failed"
	StatusDeadLetter EventStatus = "dead_letter"
)

// Terminal reports whether the status is sticky: once an event reaches a
// terminal status no further transitions are allowed. Stores must ignore
// writes against terminal rows so a late completion from a timed-out
// processor cannot overwrite an already-decided retry or dead-letter move.
func (s EventStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// SyncEvent is one unit of queued work. The payload is opaque to the engine
// and interpreted only by the Processor.
type SyncEvent struct {
	ID          uuid.UUID       `json:"id"`
	TableName   string          `json:"table_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    Priority        `json:"priority"`
	Status      EventStatus     `json:"status"`
	RetryCount  int             `json:"retry_count"`
	LastError   *string         `json:"last_error,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// PriorityPolicy holds the per-level retry and timeout knobs.
// Immutable once the engine is constructed.
type PriorityPolicy struct {
	MaxRetries     int           `json:"max_retries"`
	BaseRetryDelay time.Duration `json:"base_retry_delay"`
	Timeout        time.Duration `json:"timeout"`
}

// QueueStats holds database-side aggregate statistics, independent of the
// engine's in-memory counters which reset on restart.
type QueueStats struct {
	ByStatus         map[EventStatus]int64 `json:"by_status"`
	PendingByLevel   map[Priority]int64    `json:"pending_by_priority"`
	OldestPendingAge time.Duration         `json:"oldest_pending_age"`
}
