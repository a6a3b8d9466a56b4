package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes buffered output and stops background writers.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncQueue is shared by an AsyncHandler and every handler derived from it
// through WithAttrs or WithGroup.
type asyncQueue struct {
	ch      chan asyncRecord
	wg      sync.WaitGroup
	dropped atomic.Int64

	mu     sync.RWMutex // guards closed against a send on a closed channel
	closed bool
}

type asyncRecord struct {
	h   slog.Handler
	rec slog.Record
}

// AsyncHandler writes records from a buffered queue on background workers.
// When the queue is full, records below slog.LevelWarn are dropped and
// counted; warnings and errors are written synchronously instead, so a
// failed execution or a breaker trip is never lost to back-pressure.
type AsyncHandler struct {
	inner slog.Handler
	q     *asyncQueue
}

// NewAsyncHandler starts workers draining a queue of the given capacity.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	q := &asyncQueue{ch: make(chan asyncRecord, capacity)}
	for range max(workers, 1) {
		q.wg.Add(1)
		go q.drain()
	}
	return &AsyncHandler{inner: inner, q: q}
}

func (q *asyncQueue) drain() {
	defer q.wg.Done()
	for r := range q.ch {
		_ = r.h.Handle(context.Background(), r.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, or writes it inline once the handler is closed.
func (h *AsyncHandler) Handle(ctx context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.q.mu.RLock()
	if h.q.closed {
		h.q.mu.RUnlock()
		return h.inner.Handle(ctx, rec)
	}
	select {
	case h.q.ch <- asyncRecord{h: h.inner, rec: rec.Clone()}:
		h.q.mu.RUnlock()
		return nil
	default:
	}
	h.q.mu.RUnlock()
	if rec.Level >= slog.LevelWarn {
		return h.inner.Handle(ctx, rec)
	}
	h.q.dropped.Add(1)
	return nil
}

// WithAttrs returns a handler on the same queue with attrs added.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), q: h.q}
}

// WithGroup returns a handler on the same queue with the group opened.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), q: h.q}
}

// DroppedCount returns how many low-severity records were discarded.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.q.dropped.Load()
}

// Close drains queued records and stops the workers. It is safe to call
// more than once; later records are written synchronously.
func (h *AsyncHandler) Close() {
	h.q.mu.Lock()
	if h.q.closed {
		h.q.mu.Unlock()
		return
	}
	h.q.closed = true
	close(h.q.ch)
	h.q.mu.Unlock()
	h.q.wg.Wait()
}
