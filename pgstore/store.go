package pgstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/syncengine"
)

// Store is the PostgreSQL implementation of syncengine.Store. The atomic
// claim uses FOR UPDATE SKIP LOCKED so concurrent engine instances never
// hold the same event, and every status write excludes terminal rows,
// making late writes from timed-out processors harmless.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an existing connection pool.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	return &Store{pool: pool}, nil
}

const eventColumns = `id, table_name, payload, priority, status, retry_count, last_error, scheduled_at, created_at, updated_at`

// Insert adds a new pending event. Producers call this; the engine never
// creates events itself.
func (s *Store) Insert(ctx context.Context, ev *syncengine.SyncEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Priority == "" {
		ev.Priority = syncengine.PriorityNormal
	}
	scheduledAt := ev.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_events (id, table_name, payload, priority, status, scheduled_at)
		VALUES ($1, $2, $3, $4, 'pending', $5)`,
		ev.ID, ev.TableName, []byte(ev.Payload), string(ev.Priority), scheduledAt)
	return err
}

// FetchPendingByPriority implements syncengine.Store. The subquery locks the
// candidate rows and skips rows already locked by another caller, so the
// claim is atomic across instances; the outer update moves the claimed rows
// to processing in the same statement.
func (s *Store) FetchPendingByPriority(ctx context.Context, priority syncengine.Priority, batchSize, maxRetries int) ([]syncengine.SyncEvent, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE sync_events e
		SET status = 'processing', updated_at = now()
		FROM (
			SELECT id FROM sync_events
			WHERE status = 'pending'
			  AND priority = $1
			  AND scheduled_at <= now()
			  AND retry_count <= $2
			ORDER BY scheduled_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		) c
		WHERE e.id = c.id
		RETURNING `+qualifiedEventColumns("e"),
		string(priority), maxRetries, batchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

// UpdateStatus implements syncengine.Store. Terminal rows are excluded from
// the update, so the write is a silent no-op once an event is completed or
// dead-lettered.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status syncengine.EventStatus, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_events
		SET status = $2,
		    last_error = COALESCE(NULLIF($3, ''), last_error),
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'dead_letter')`,
		id, string(status), errMsg)
	return err
}

// ScheduleRetry implements syncengine.Store.
func (s *Store) ScheduleRetry(ctx context.Context, id uuid.UUID, errMsg string, scheduledAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_events
		SET status = 'pending',
		    retry_count = retry_count + 1,
		    last_error = $2,
		    scheduled_at = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'dead_letter')`,
		id, errMsg, scheduledAt)
	return err
}

// MoveToDeadLetter implements syncengine.Store.
func (s *Store) MoveToDeadLetter(ctx context.Context, id uuid.UUID, finalErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE sync_events
		SET status = 'dead_letter',
		    last_error = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('completed', 'dead_letter')`,
		id, finalErr)
	return err
}

// CleanupOldEvents implements syncengine.Store.
func (s *Store) CleanupOldEvents(ctx context.Context, retentionDays int) (int64, error) {
	return s.deleteOlderThan(ctx, "completed", retentionDays)
}

// CleanupDeadLetter implements syncengine.Store.
func (s *Store) CleanupDeadLetter(ctx context.Context, retentionDays int) (int64, error) {
	return s.deleteOlderThan(ctx, "dead_letter", retentionDays)
}

func (s *Store) deleteOlderThan(ctx context.Context, status string, retentionDays int) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM sync_events
		WHERE status = $1
		  AND updated_at < now() - make_interval(days => $2)`,
		status, retentionDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ResetFailedEvents implements syncengine.Store: failed events and stale
// processing events older than maxAge return to pending with a fresh retry
// budget.
func (s *Store) ResetFailedEvents(ctx context.Context, priority *syncengine.Priority, maxAge time.Duration) (int64, error) {
	var level *string
	if priority != nil {
		v := string(*priority)
		level = &v
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE sync_events
		SET status = 'pending',
		    retry_count = 0,
		    last_error = NULL,
		    scheduled_at = now(),
		    updated_at = now()
		WHERE status IN ('failed', 'processing')
		  AND updated_at < now() - make_interval(secs => $1)
		  AND ($2::text IS NULL OR priority = $2)`,
		maxAge.Seconds(), level)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// QueueStatistics implements syncengine.Store.
func (s *Store) QueueStatistics(ctx context.Context) (syncengine.QueueStats, error) {
	stats := syncengine.QueueStats{
		ByStatus:       make(map[syncengine.EventStatus]int64),
		PendingByLevel: make(map[syncengine.Priority]int64),
	}

	rows, err := s.pool.Query(ctx, `
		SELECT status, priority, count(*)
		FROM sync_events
		GROUP BY status, priority`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()

	for rows.Next() {
		var status, priority string
		var count int64
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return stats, err
		}
		stats.ByStatus[syncengine.EventStatus(status)] += count
		if syncengine.EventStatus(status) == syncengine.StatusPending {
			stats.PendingByLevel[syncengine.Priority(priority)] += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	var oldest *time.Time
	if err := s.pool.QueryRow(ctx, `
		SELECT min(created_at) FROM sync_events WHERE status = 'pending'`).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest != nil {
		stats.OldestPendingAge = time.Since(*oldest)
	}

	return stats, nil
}

// Get returns one event by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (syncengine.SyncEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM sync_events WHERE id = $1`, id)
	if err != nil {
		return syncengine.SyncEvent{}, err
	}
	defer rows.Close()

	events, err := scanEvents(rows)
	if err != nil {
		return syncengine.SyncEvent{}, err
	}
	if len(events) == 0 {
		return syncengine.SyncEvent{}, syncengine.ErrEventNotFound
	}
	return events[0], nil
}

func qualifiedEventColumns(alias string) string {
	return alias + `.id, ` + alias + `.table_name, ` + alias + `.payload, ` +
		alias + `.priority, ` + alias + `.status, ` + alias + `.retry_count, ` +
		alias + `.last_error, ` + alias + `.scheduled_at, ` + alias + `.created_at, ` +
		alias + `.updated_at`
}

func scanEvents(rows pgx.Rows) ([]syncengine.SyncEvent, error) {
	var events []syncengine.SyncEvent
	for rows.Next() {
		var ev syncengine.SyncEvent
		var priority, status string
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TableName, &payload, &priority, &status,
			&ev.RetryCount, &ev.LastError, &ev.ScheduledAt, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.Payload = payload
		ev.Priority = syncengine.Priority(priority)
		ev.Status = syncengine.EventStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}
