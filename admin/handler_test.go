package admin_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/syncengine"
	"github.com/dmitrymomot/syncengine/admin"
)

func newTestServer(t *testing.T, store *syncengine.MemoryStore) *httptest.Server {
	t.Helper()

	engine, err := syncengine.New(store, syncengine.ProcessorFunc(
		func(ctx context.Context, ev *syncengine.SyncEvent) error { return nil },
	))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	srv := httptest.NewServer(admin.NewHandler(engine).Router())
	t.Cleanup(srv.Close)
	return srv
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]json.RawMessage {
	t.Helper()
	defer resp.Body.Close()

	var envelope map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope
}

func TestHandler_Status(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, syncengine.NewMemoryStore())

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	envelope := decodeEnvelope(t, resp)
	require.Contains(t, envelope, "data")

	var status struct {
		Initialized bool `json:"initialized"`
		Running     bool `json:"running"`
		MaxWorkers  int  `json:"max_workers"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &status))
	assert.True(t, status.Initialized)
	assert.False(t, status.Running)
	assert.Equal(t, 5, status.MaxWorkers)
}

func TestHandler_DBStats(t *testing.T) {
	t.Parallel()

	store := syncengine.NewMemoryStore()
	ev := syncengine.SyncEvent{TableName: "contacts", Priority: syncengine.PriorityCritical}
	require.NoError(t, store.Insert(context.Background(), &ev))

	srv := newTestServer(t, store)

	resp, err := http.Get(srv.URL + "/stats/db")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	envelope := decodeEnvelope(t, resp)
	var stats struct {
		ByStatus       map[string]int64 `json:"by_status"`
		PendingByLevel map[string]int64 `json:"pending_by_priority"`
	}
	require.NoError(t, json.Unmarshal(envelope["data"], &stats))
	assert.Equal(t, int64(1), stats.ByStatus["pending"])
	assert.Equal(t, int64(1), stats.PendingByLevel["critical"])
}

func TestHandler_RunPriority(t *testing.T) {
	t.Parallel()

	t.Run("processes a batch", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := syncengine.SyncEvent{TableName: "contacts", Priority: syncengine.PriorityHigh}
		require.NoError(t, store.Insert(context.Background(), &ev))

		srv := newTestServer(t, store)

		resp, err := http.Post(srv.URL+"/run/high", "application/json", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		envelope := decodeEnvelope(t, resp)
		var result struct {
			Processed int `json:"processed"`
			Total     int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(envelope["data"], &result))
		assert.Equal(t, 1, result.Processed)
		assert.Equal(t, 1, result.Total)

		got, ok := store.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusCompleted, got.Status)
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, syncengine.NewMemoryStore())

		resp, err := http.Post(srv.URL+"/run/urgent", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		envelope := decodeEnvelope(t, resp)
		assert.Contains(t, envelope, "error")
	})

	t.Run("rejects malformed limit", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, syncengine.NewMemoryStore())

		resp, err := http.Post(srv.URL+"/run/high?limit=abc", "application/json", nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("honors limit", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		for _i := 0; _i < 5; _i++ {
			ev := syncengine.SyncEvent{TableName: "contacts", Priority: syncengine.PriorityNormal}
			require.NoError(t, store.Insert(context.Background(), &ev))
		}

		srv := newTestServer(t, store)

		resp, err := http.Post(srv.URL+"/run/normal?limit=2", "application/json", nil)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		envelope := decodeEnvelope(t, resp)
		var result struct {
			Total int `json:"total"`
		}
		require.NoError(t, json.Unmarshal(envelope["data"], &result))
		assert.Equal(t, 2, result.Total)
	})
}

func TestHandler_ResetFailed(t *testing.T) {
	t.Parallel()

	t.Run("resets failed events", func(t *testing.T) {
		t.Parallel()

		store := syncengine.NewMemoryStore()
		ev := syncengine.SyncEvent{TableName: "contacts", Priority: syncengine.PriorityHigh}
		require.NoError(t, store.Insert(context.Background(), &ev))
		require.NoError(t, store.UpdateStatus(context.Background(), ev.ID, syncengine.StatusFailed, "boom"))

		// Push the failure far enough into the past for the default
		// one-hour age gate to pass.
		backdate := time.Now().Add(-2 * time.Hour)
		store.SetUpdatedAt(ev.ID, backdate)

		srv := newTestServer(t, store)

		resp, err := http.Post(srv.URL+"/reset-failed", "application/json",
			strings.NewReader(`{"priority":"high","max_age_hours":1}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		envelope := decodeEnvelope(t, resp)
		var result struct {
			Reset int64 `json:"reset"`
		}
		require.NoError(t, json.Unmarshal(envelope["data"], &result))
		assert.Equal(t, int64(1), result.Reset)

		got, ok := store.Get(ev.ID)
		require.True(t, ok)
		assert.Equal(t, syncengine.StatusPending, got.Status)
	})

	t.Run("rejects invalid body", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, syncengine.NewMemoryStore())

		resp, err := http.Post(srv.URL+"/reset-failed", "application/json",
			strings.NewReader(`{not json`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("rejects unknown priority", func(t *testing.T) {
		t.Parallel()

		srv := newTestServer(t, syncengine.NewMemoryStore())

		resp, err := http.Post(srv.URL+"/reset-failed", "application/json",
			strings.NewReader(`{"priority":"urgent"}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})
}
