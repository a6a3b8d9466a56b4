package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
	"github.com/Strob0t/SectorDesk/internal/port/ledger"
	"github.com/Strob0t/SectorDesk/internal/port/messagequeue"
)

// Events fans state changes out to the message bus, realtime clients and the
// ledger mirror. Every sink is best-effort: failures are logged, never returned.
type Events struct {
	queue  messagequeue.Publisher
	hub    broadcast.Broadcaster
	mirror ledger.Mirror
}

// NewEvents creates an Events fan-out. Any argument may be nil.
func NewEvents(queue messagequeue.Publisher, hub broadcast.Broadcaster, mirror ledger.Mirror) *Events {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	if mirror == nil {
		mirror = ledger.Nop{}
	}
	return &Events{queue: queue, hub: hub, mirror: mirror}
}

func (e *Events) emit(ctx context.Context, subject, sectorID, eventType string, payload any) {
	e.hub.BroadcastEvent(ctx, sectorID, eventType, payload)
	if e.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("failed to marshal event", "subject", subject, "error", err)
		return
	}
	if err := e.queue.Publish(ctx, subject, data); err != nil {
		slog.Error("failed to publish event", "subject", subject, "sector_id", sectorID, "error", err)
	}
}

// record mirrors v to the ledger under its canonical digest.
func (e *Events) record(ctx context.Context, kind, id, sectorID string, v any, at time.Time) {
	payload, dig, err := canonical(v)
	if err != nil {
		slog.Error("failed to canonicalize ledger entry", "kind", kind, "id", id, "error", err)
		return
	}
	err = e.mirror.Record(ctx, ledger.Entry{
		Kind:      kind,
		ID:        id,
		SectorID:  sectorID,
		Payload:   payload,
		Digest:    dig,
		Timestamp: at,
	})
	if err != nil {
		slog.Warn("ledger mirror failed", "kind", kind, "id", id, "error", err)
	}
}

// canonical returns the RFC 8785 form of v and its sha256 hex digest.
func canonical(v any) ([]byte, string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, "", fmt.Errorf("canonicalize: %w", err)
	}
	sum := sha256.Sum256(out)
	return out, hex.EncodeToString(sum[:]), nil
}

func (e *Events) discussionStatus(ctx context.Context, d *discussion.Discussion) {
	e.emit(ctx, messagequeue.SubjectDiscussionStatus, d.SectorID, broadcast.EventDiscussionStatus,
		messagequeue.DiscussionStatusPayload{
			DiscussionID: d.ID,
			SectorID:     d.SectorID,
			Status:       string(d.Status),
			CurrentRound: d.CurrentRound,
		})
}

func (e *Events) discussionMessage(ctx context.Context, d *discussion.Discussion, m *discussion.Message) {
	e.emit(ctx, messagequeue.SubjectDiscussionMessage, d.SectorID, broadcast.EventDiscussionMessage,
		messagequeue.DiscussionMessagePayload{
			DiscussionID: d.ID,
			SectorID:     d.SectorID,
			MessageID:    m.ID,
			AgentID:      m.AgentID,
			Content:      m.Content,
			Round:        m.Round,
			Timestamp:    m.CreatedAt,
		})
}

func (e *Events) agentStatus(ctx context.Context, a *agent.Agent) {
	e.emit(ctx, messagequeue.SubjectAgentStatus, a.SectorID, broadcast.EventAgentStatus,
		messagequeue.AgentStatusPayload{
			AgentID:    a.ID,
			SectorID:   a.SectorID,
			Status:     string(a.Status),
			Confidence: a.Confidence,
		})
}
