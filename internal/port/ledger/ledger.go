// Package ledger defines the best-effort external ledger mirror port.
package ledger

import (
	"context"
	"time"
)

// Entry kinds mirrored to the ledger.
const (
	KindSector    = "sector"
	KindAgent     = "agent"
	KindExecution = "execution"
	KindDecision  = "decision"
)

// Entry is one mirrored event. Digest is a hash of the canonical payload.
type Entry struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	SectorID  string    `json:"sector_id"`
	Payload   []byte    `json:"payload"`
	Digest    string    `json:"digest"`
	Timestamp time.Time `json:"timestamp"`
}

// Mirror records entries in an external ledger. Callers log and swallow
// errors; a failing mirror never blocks core operations.
type Mirror interface {
	Record(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

// Record does nothing.
func (Nop) Record(context.Context, Entry) error { return nil }
