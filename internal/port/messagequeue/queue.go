// Package messagequeue defines the event bus port and the subjects and
// payloads SectorDesk exchanges on it.
package messagequeue

import "context"

// Handler consumes one message. A returned error asks for redelivery; the
// context carries the publisher's request id.
type Handler func(ctx context.Context, subject string, data []byte) error

// Publisher emits desk events.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Subscriber receives commands. The returned cancel stops delivery.
type Subscriber interface {
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)
}

// Queue is a connected bus. Drain finishes in-flight messages before
// closing; Close drops them.
type Queue interface {
	Publisher
	Subscriber
	Drain() error
	Close() error
	IsConnected() bool
}

// Subject constants for NATS subjects used by SectorDesk.
const (
	// Outbound events (core → observers)
	SubjectMarketUpdate      = "sectors.market"      // price tick per sector
	SubjectSectorCandle      = "sectors.candle"      // new candle point
	SubjectDiscussionMessage = "discussions.message" // message appended to a discussion
	SubjectDiscussionStatus  = "discussions.status"  // discussion status change
	SubjectAgentStatus       = "agents.status"       // agent status / confidence change
	SubjectExecution         = "executions.logged"   // execution log row written
	SubjectManagerDecision   = "managers.decision"   // advisory vote written

	// Inbound commands (external scheduler → core)
	SubjectCommandRounds      = "commands.rounds.advance"
	SubjectCommandManagerTick = "commands.manager.tick"
)
