package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

var errInvalidLimit = errors.New("limit must be a non-negative integer")

// jsonEnvelope is the standard response structure.
type jsonEnvelope struct {
	Data  any          `json:"data,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type errorDetail struct {
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonEnvelope{Data: data})
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonEnvelope{Error: &errorDetail{Message: err.Error()}})
}

func hoursToDuration(hours int) time.Duration {
	return time.Duration(hours) * time.Hour
}
