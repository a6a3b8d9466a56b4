package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/SectorDesk/internal/domain"
)

const (
	maxQueryLength     = 256
	maxRequestBodySize = 1 << 20
)

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes the body into T, answering 413 past limit and 400 for
// anything that is not a single JSON value.
func readJSON[T any](w http.ResponseWriter, r *http.Request, bodyLimit int64) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

func urlParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// queryParam returns a trimmed query value, rejecting oversized input.
func queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if len(v) > maxQueryLength {
		writeError(w, http.StatusBadRequest, name+" is too long")
		return "", false
	}
	return v, true
}

// queryInt parses an optional non-negative integer query value.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v, ok := queryParam(w, r, name)
	if !ok || v == "" {
		return 0, ok
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// queryTime parses an optional RFC 3339 timestamp or unix milliseconds.
func queryTime(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	v, ok := queryParam(w, r, name)
	if !ok || v == "" {
		return time.Time{}, ok
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be RFC 3339 or unix milliseconds")
		return time.Time{}, false
	}
	return t.UTC(), true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// domainStatus maps domain sentinels onto responses. Order matters only
// for errors wrapping more than one sentinel.
var domainStatus = []struct {
	sentinel error
	status   int
	code     string
}{
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrConflict, http.StatusConflict, "conflict"},
	{domain.ErrValidation, http.StatusBadRequest, "validation"},
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeDomainError answers with the status of the sentinel err wraps. Not
// found errors use notFound as the message so store keys never leak.
func writeDomainError(w http.ResponseWriter, err error, notFound string) {
	for _, m := range domainStatus {
		if !errors.Is(err, m.sentinel) {
			continue
		}
		msg := err.Error()
		if m.sentinel == domain.ErrNotFound {
			msg = notFound
		}
		writeJSON(w, m.status, errorResponse{Error: msg, Code: m.code})
		return
	}
	writeInternalError(w, err)
}

// writeInternalError logs err and answers with a generic 500.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
