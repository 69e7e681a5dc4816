package syncengine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/syncengine"
)

func insertPending(t *testing.T, store *syncengine.MemoryStore, table string, priority syncengine.Priority) syncengine.SyncEvent {
	t.Helper()
	ev := syncengine.SyncEvent{TableName: table, Priority: priority}
	require.NoError(t, store.Insert(context.Background(), &ev))
	return ev
}

func TestMemoryStore_FetchPendingByPriority(t *testing.T) {
	t.Parallel()

	t.Run("claims and transitions to processing", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		ev := insertPending(t, store, "contacts", syncengine.PriorityHigh)

		claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityHigh, 10, 3)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, ev.ID, claimed[0].ID)
		assert.Equal(t, syncengine.StatusProcessing, claimed[0].Status)

		// Already-claimed rows are excluded from subsequent fetches.
		again, err := store.FetchPendingByPriority(ctx, syncengine.PriorityHigh, 10, 3)
		require.NoError(t, err)
		assert.Empty(t, again)
	})

	t.Run("filters by priority", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		insertPending(t, store, "contacts", syncengine.PriorityLow)

		claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityCritical, 10, 5)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("excludes future scheduled events", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		ev := syncengine.SyncEvent{
			TableName:   "contacts",
			Priority:    syncengine.PriorityNormal,
			ScheduledAt: time.Now().Add(time.Hour),
		}
		require.NoError(t, store.Insert(ctx, &ev))

		claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityNormal, 10, 3)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("excludes events above retry budget", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		ev := syncengine.SyncEvent{
			TableName:  "contacts",
			Priority:   syncengine.PriorityNormal,
			RetryCount: 4,
		}
		require.NoError(t, store.Insert(ctx, &ev))

		claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityNormal, 10, 3)
		require.NoError(t, err)
		assert.Empty(t, claimed)
	})

	t.Run("respects batch size", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		for _i := 0; _i < 10; _i++ {
			insertPending(t, store, "contacts", syncengine.PriorityNormal)
		}

		claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityNormal, 4, 3)
		require.NoError(t, err)
		assert.Len(t, claimed, 4)
	})

	t.Run("no event claimed twice under concurrent callers", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		store := syncengine.NewMemoryStore()
		for _i := 0; _i < 40; _i++ {
			insertPending(t, store, "contacts", syncengine.PriorityNormal)
		}

		var mu sync.Mutex
		seen := make(map[uuid.UUID]int)
		var wg sync.WaitGroup
		for _i := 0; _i < 8; _i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := store.FetchPendingByPriority(ctx, syncengine.PriorityNormal, 10, 3)
				assert.NoError(t, err)
				mu.Lock()
				for _, ev := range claimed {
					seen[ev.ID]++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		require.Len(t, seen, 40)
		for id, count := range seen {
			assert.Equal(t, 1, count, "event %s claimed more than once", id)
		}
	})
}

func TestMemoryStore_StickyTerminalStates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("completed absorbs later writes", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := insertPending(t, store, "contacts", syncengine.PriorityNormal)
		require.NoError(t, store.UpdateStatus(ctx, ev.ID, syncengine.StatusCompleted, ""))

		require.NoError(t, store.UpdateStatus(ctx, ev.ID, syncengine.StatusFailed, "late failure"))
		require.NoError(t, store.ScheduleRetry(ctx, ev.ID, "late retry", time.Now()))
		require.NoError(t, store.MoveToDeadLetter(ctx, ev.ID, "late dlq"))

		got, ok := store.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusCompleted, got.Status)
		assert.Nil(t, got.LastError)
		assert.Equal(t, 0, got.RetryCount)
	})

	t.Run("dead letter absorbs later completion", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := insertPending(t, store, "contacts", syncengine.PriorityNormal)
		require.NoError(t, store.MoveToDeadLetter(ctx, ev.ID, "exhausted"))

		// A timed-out processor finishing late must not resurrect the event.
		require.NoError(t, store.UpdateStatus(ctx, ev.ID, syncengine.StatusCompleted, ""))

		got, ok := store.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusDeadLetter, got.Status)
		require.NotNil(t, got.LastError)
		assert.Equal(t, "exhausted", *got.LastError)
	})
}

func TestMemoryStore_ScheduleRetry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := syncengine.NewMemoryStore()
	ev := insertPending(t, store, "contacts", syncengine.PriorityNormal)

	next := time.Now().Add(5 * time.Second)
	require.NoError(t, store.ScheduleRetry(ctx, ev.ID, "flaky upstream", next))

	got, ok := store.Get(ev.ID)
	require.True(t, ok)
	assert.Equal(t, syncengine.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "flaky upstream", *got.LastError)
	assert.Equal(t, next, got.ScheduledAt)
}

func TestMemoryStore_ResetFailedEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resets failed events back to pending", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := insertPending(t, store, "contacts", syncengine.PriorityHigh)
		require.NoError(t, store.UpdateStatus(ctx, ev.ID, syncengine.StatusFailed, "gave up"))

		reset, err := store.ResetFailedEvents(ctx, nil, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)

		got, ok := store.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusPending, got.Status)
		assert.Equal(t, 0, got.RetryCount)
		assert.Nil(t, got.LastError)
	})

	t.Run("priority filter limits the reset", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		high := insertPending(t, store, "contacts", syncengine.PriorityHigh)
		low := insertPending(t, store, "deals", syncengine.PriorityLow)
		require.NoError(t, store.UpdateStatus(ctx, high.ID, syncengine.StatusFailed, "x"))
		require.NoError(t, store.UpdateStatus(ctx, low.ID, syncengine.StatusFailed, "x"))

		filter := syncengine.PriorityHigh
		reset, err := store.ResetFailedEvents(ctx, &filter, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)

		gotLow, ok := store.Get(low.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusFailed, gotLow.Status)
	})

	t.Run("recent events untouched by max age", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := insertPending(t, store, "contacts", syncengine.PriorityHigh)
		require.NoError(t, store.UpdateStatus(ctx, ev.ID, syncengine.StatusFailed, "x"))

		reset, err := store.ResetFailedEvents(ctx, nil, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, reset)
	})
}

func TestMemoryStore_QueueStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := syncengine.NewMemoryStore()

	insertPending(t, store, "contacts", syncengine.PriorityCritical)
	insertPending(t, store, "contacts", syncengine.PriorityCritical)
	insertPending(t, store, "deals", syncengine.PriorityLow)
	done := insertPending(t, store, "deals", syncengine.PriorityNormal)
	require.NoError(t, store.UpdateStatus(ctx, done.ID, syncengine.StatusCompleted, ""))

	stats, err := store.QueueStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ByStatus[syncengine.StatusPending])
	assert.Equal(t, int64(1), stats.ByStatus[syncengine.StatusCompleted])
	assert.Equal(t, int64(2), stats.PendingByLevel[syncengine.PriorityCritical])
	assert.Equal(t, int64(1), stats.PendingByLevel[syncengine.PriorityLow])
}
