package syncengine

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore implements the Store interface for testing and local
// development. Claims are atomic under a single mutex, and terminal-state
// rows silently absorb further writes, matching the contract a durable
// backend must provide.
type MemoryStore struct {
	mu       sync.RWMutex
	events   map[uuid.UUID]*SyncEvent
	byStatus map[EventStatus][]uuid.UUID

	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[uuid.UUID]*SyncEvent),
		byStatus: make(map[EventStatus][]uuid.UUID),
		now:      time.Now,
	}
}

// Insert adds a new event. Zero-value fields are filled with defaults:
// a fresh id, pending status, normal priority, and an immediate schedule.
// Used by producers and tests; the engine itself never creates events.
func (ms *MemoryStore) Insert(ctx context.Context, ev *SyncEvent) error {
	if ev == nil {
		return errors.New("event cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	cp := *ev
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
	if cp.Priority == "" {
		cp.Priority = PriorityNormal
	}
	if cp.ScheduledAt.IsZero() {
		cp.ScheduledAt = now
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if _, exists := ms.events[cp.ID]; exists {
		return errors.New("event already exists")
	}

	ms.events[cp.ID] = &cp
	ms.byStatus[cp.Status] = append(ms.byStatus[cp.Status], cp.ID)
	ev.ID = cp.ID
	return nil
}

// FetchPendingByPriority implements Store. Claimed events transition to
// processing before they are returned, so a concurrent caller can never
// claim the same event.
func (ms *MemoryStore) FetchPendingByPriority(ctx context.Context, priority Priority, batchSize, maxRetries int) ([]SyncEvent, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.now()
	candidates := make([]*SyncEvent, 0, batchSize)
	for _, id := range ms.byStatus[StatusPending] {
		ev := ms.events[id]
		if ev.Priority != priority {
			continue
		}
		if ev.ScheduledAt.After(now) {
			continue
		}
		// Events at or above retry exhaustion are handled by the retry and
		// dead-letter path, never re-fetched.
		if ev.RetryCount > maxRetries {
			continue
		}
		candidates = append(candidates, ev)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ScheduledAt.Before(candidates[j].ScheduledAt)
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	claimed := make([]SyncEvent, 0, len(candidates))
	for _, ev := range candidates {
		ms.transition(ev, StatusProcessing)
		ev.UpdatedAt = now
		claimed = append(claimed, *ev)
	}
	return claimed, nil
}

// UpdateStatus implements Store. Writes against terminal rows are no-ops.
func (ms *MemoryStore) UpdateStatus(ctx context.Context, id uuid.UUID, status EventStatus, errMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, exists := ms.events[id]
	if !exists {
		return ErrEventNotFound
	}
	if ev.Status.Terminal() {
		return nil
	}

	ms.transition(ev, status)
	if errMsg != "" {
		ev.LastError = &errMsg
	}
	ev.UpdatedAt = ms.now()
	return nil
}

// ScheduleRetry implements Store.
func (ms *MemoryStore) ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, scheduledAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, exists := ms.events[id]
	if !exists {
		return ErrEventNotFound
	}
	if ev.Status.Terminal() {
		return nil
	}

	ms.transition(ev, StatusPending)
	ev.RetryCount++
	ev.LastError = &errMsg
	ev.ScheduledAt = scheduledAt
	ev.UpdatedAt = ms.now()
	return nil
}

// MoveToDeadLetter implements Store.
func (ms *MemoryStore) MoveToDeadLetter(ctx context.Context, id uuid.UUID, finalErr string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ev, exists := ms.events[id]
	if !exists {
		return ErrEventNotFound
	}
	if ev.Status.Terminal() {
		return nil
	}

	ms.transition(ev, StatusDeadLetter)
	ev.LastError = &finalErr
	ev.UpdatedAt = ms.now()
	return nil
}

// CleanupOldEvents implements Store.
func (ms *MemoryStore) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	return ms.deleteOlderThan(StatusCompleted, retentionDays), nil
}

// CleanupDeadLetter implements Store.
func (ms *MemoryStore) CleanupDeadLetter(ctx context.Context, retentionDays int) (int64, error) {
	return ms.deleteOlderThan(StatusDeadLetter, retentionDays), nil
}

func (ms *MemoryStore) deleteOlderThan(status EventStatus, retentionDays int) int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	var deleted int64
	for _, id := range slices.Clone(ms.byStatus[status]) {
		ev := ms.events[id]
		// Records exactly at or inside the boundary are preserved.
		if ev.UpdatedAt.Before(cutoff) {
			ms.removeFromStatusIndex(id, status)
			delete(ms.events, id)
			deleted++
		}
	}
	return deleted
}

// ResetFailedEvents implements Store: failed events and stale processing
// events older than maxAge go back to pending with a fresh retry budget.
func (ms *MemoryStore) ResetFailedEvents(ctx context.Context, priority *Priority, maxAge time.Duration) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	cutoff := ms.now().Add(-maxAge)
	var reset int64
	for _, status := range []EventStatus{StatusFailed, StatusProcessing} {
		for _, id := range slices.Clone(ms.byStatus[status]) {
			ev := ms.events[id]
			if priority != nil && ev.Priority != *priority {
				continue
			}
			if ev.UpdatedAt.After(cutoff) {
				continue
			}
			ms.transition(ev, StatusPending)
			ev.RetryCount = 0
			ev.LastError = nil
			ev.ScheduledAt = ms.now()
			ev.UpdatedAt = ms.now()
			reset++
		}
	}
	return reset, nil
}

// QueueStatistics implements Store.
func (ms *MemoryStore) QueueStatistics(ctx context.Context) (QueueStats, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	stats := QueueStats{
		ByStatus:       make(map[EventStatus]int64),
		PendingByLevel: make(map[Priority]int64),
	}

	now := ms.now()
	var oldestPending time.Time
	for _, ev := range ms.events {
		stats.ByStatus[ev.Status]++
		if ev.Status == StatusPending {
			stats.PendingByLevel[ev.Priority]++
			if oldestPending.IsZero() || ev.CreatedAt.Before(oldestPending) {
				oldestPending = ev.CreatedAt
			}
		}
	}
	if !oldestPending.IsZero() {
		stats.OldestPendingAge = now.Sub(oldestPending)
	}
	return stats, nil
}

// SetUpdatedAt rewrites an event's update timestamp, for backdating records
// in tests.
func (ms *MemoryStore) SetUpdatedAt(id uuid.UUID, at time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ev, exists := ms.events[id]; exists {
		ev.UpdatedAt = at
	}
}

// Get returns a copy of the event, for inspection in tests.
func (ms *MemoryStore) Get(id uuid.UUID) (SyncEvent, bool) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ev, exists := ms.events[id]
	if !exists {
		return SyncEvent{}, false
	}
	return *ev, true
}

// transition moves an event between status indexes. Caller holds the lock.
func (ms *MemoryStore) transition(ev *SyncEvent, to EventStatus) {
	if ev.Status == to {
		return
	}
	ms.removeFromStatusIndex(ev.ID, ev.Status)
	ev.Status = to
	ms.byStatus[to] = append(ms.byStatus[to], ev.ID)
}

func (ms *MemoryStore) removeFromStatusIndex(id uuid.UUID, status EventStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(existing uuid.UUID) bool {
		return existing == id
	})
}
