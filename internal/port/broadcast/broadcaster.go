// Package broadcast defines the port for broadcasting real-time events to connected clients.
package broadcast

import "context"

// Broadcaster sends real-time events to connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to clients following sectorID, and
	// to clients following every sector.
	BroadcastEvent(ctx context.Context, sectorID, eventType string, payload any)
}

// Nop drops every event.
type Nop struct{}

// BroadcastEvent does nothing.
func (Nop) BroadcastEvent(context.Context, string, string, any) {}

// Event types pushed to realtime clients.
const (
	EventMarketUpdate      = "market_update"
	EventSectorCandle      = "sector_candle"
	EventDiscussionMessage = "discussion_message"
	EventDiscussionStatus  = "discussion_status"
	EventAgentStatus       = "agent_status"
	EventExecution         = "execution"
	EventManagerDecision   = "manager_decision"
)
