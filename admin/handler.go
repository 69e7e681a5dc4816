// Package admin exposes the engine's administrative surface over HTTP.
// The handlers are thin JSON wrappers around the engine API, meant to be
// mounted behind whatever authentication the host application already has.
package admin

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/syncengine"
)

// Handler serves the admin endpoints.
type Handler struct {
	engine *syncengine.Engine
}

// NewHandler creates the admin handler over an engine.
func NewHandler(engine *syncengine.Engine) *Handler {
	return &Handler{engine: engine}
}

// Router mounts the admin routes:
//
//	GET  /status        — engine snapshot (in-memory counters)
//	GET  /stats/db      — database-side aggregate statistics
//	POST /run/{priority} — run one batch of a priority immediately
//	POST /reset-failed  — reset failed and stale events back to pending
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.getStatus)
	r.Get("/stats/db", h.getDBStats)
	r.Post("/run/{priority}", h.runPriority)
	r.Post("/reset-failed", h.resetFailed)
	return r
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Status())
}

func (h *Handler) getDBStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.engine.QueueStatistics(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *Handler) runPriority(w http.ResponseWriter, r *http.Request) {
	priority := syncengine.Priority(chi.URLParam(r, "priority"))
	if !priority.Valid() {
		respondError(w, http.StatusBadRequest, syncengine.ErrInvalidPriority)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = n
	}

	result, err := h.engine.RunPriority(r.Context(), priority, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type resetFailedRequest struct {
	Priority    *syncengine.Priority `json:"priority,omitempty"`
	MaxAgeHours int                  `json:"max_age_hours"`
}

type resetFailedResponse struct {
	Reset int64 `json:"reset"`
}

func (h *Handler) resetFailed(w http.ResponseWriter, r *http.Request) {
	var req resetFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.Priority != nil && !req.Priority.Valid() {
		respondError(w, http.StatusBadRequest, syncengine.ErrInvalidPriority)
		return
	}
	if req.MaxAgeHours <= 0 {
		req.MaxAgeHours = 1
	}

	count, err := h.engine.ResetFailedEvents(r.Context(), req.Priority, hoursToDuration(req.MaxAgeHours))
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, resetFailedResponse{Reset: count})
}
