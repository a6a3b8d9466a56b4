// Package middleware provides HTTP middleware for SectorDesk.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Strob0t/SectorDesk/internal/logger"
)

const maxRequestIDLen = 128

// inboundIDHeaders are checked in order for a caller-supplied id.
var inboundIDHeaders = []string{"X-Request-ID", "X-Correlation-ID"}

// RequestID tags the request context with the caller's id, or a fresh uuid
// when none is usable, and echoes it as X-Request-ID. The id follows the
// request onto bus messages and into every log line.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		for _, h := range inboundIDHeaders {
			if v := r.Header.Get(h); usableID(v) {
				id = v
				break
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(inboundIDHeaders[0], id)
		next.ServeHTTP(w, r.WithContext(logger.WithRequestID(r.Context(), id)))
	})
}

// usableID accepts short printable ASCII ids so they are safe to log and
// to forward as NATS headers.
func usableID(v string) bool {
	if v == "" || len(v) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] <= ' ' || v[i] > '~' {
			return false
		}
	}
	return true
}
