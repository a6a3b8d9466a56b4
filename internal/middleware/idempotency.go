package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Strob0t/SectorDesk/internal/port/cache"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"

	// maxFingerprintBody bounds how much request body is hashed; larger
	// requests bypass replay and are left to the handler's own size limit.
	maxFingerprintBody = 1 << 20
	maxStoredResponse  = 1 << 20
)

// storedResponse is the cached outcome of a keyed request together with the
// fingerprint of the request that produced it.
type storedResponse struct {
	Fingerprint string              `json:"fingerprint"`
	Status      int                 `json:"status"`
	Header      map[string][]string `json:"header"`
	Body        []byte              `json:"body"`
}

// Idempotency replays the stored 2xx response of a POST that repeats an
// Idempotency-Key seen within ttl on the same path. Reusing a key with a
// different body is answered with 422 instead of running the handler, so a
// retried execution can never be confused with a new one.
func Idempotency(store cache.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idem := r.Header.Get(headerIdempotencyKey)
			if r.Method != http.MethodPost || idem == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxFingerprintBody+1))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))
			if len(body) > maxFingerprintBody {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := "idem:" + r.URL.Path + ":" + idem
			sum := sha256.Sum256(body)
			fp := hex.EncodeToString(sum[:])

			if prev, ok := lookup(r, store, key); ok {
				if prev.Fingerprint != fp {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnprocessableEntity)
					_, _ = w.Write([]byte(`{"error":"idempotency key reused with a different request"}`))
					return
				}
				replay(w, prev)
				return
			}

			capture := &captureWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			if capture.status/100 != 2 || capture.body.Len() > maxStoredResponse {
				return
			}
			data, err := json.Marshal(storedResponse{
				Fingerprint: fp,
				Status:      capture.status,
				Header:      w.Header().Clone(),
				Body:        capture.body.Bytes(),
			})
			if err != nil {
				return
			}
			if err := store.Set(ctx, key, data, ttl); err != nil {
				slog.WarnContext(ctx, "idempotency: store response failed", "key", key, "error", err)
			}
		})
	}
}

func lookup(r *http.Request, store cache.Cache, key string) (storedResponse, bool) {
	var prev storedResponse
	data, ok, err := store.Get(r.Context(), key)
	if err != nil || !ok {
		return prev, false
	}
	if err := json.Unmarshal(data, &prev); err != nil {
		slog.WarnContext(r.Context(), "idempotency: corrupt cache entry", "key", key)
		return prev, false
	}
	return prev, true
}

func replay(w http.ResponseWriter, prev storedResponse) {
	h := w.Header()
	for k, vals := range prev.Header {
		if k == "X-Request-Id" {
			continue
		}
		h[k] = append([]string(nil), vals...)
	}
	h.Set(headerReplayed, "true")
	w.WriteHeader(prev.Status)
	_, _ = w.Write(prev.Body)
}

// captureWriter tees the response so it can be stored after the handler returns.
type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	c.status = code
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}
