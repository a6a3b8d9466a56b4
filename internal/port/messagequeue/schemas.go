package messagequeue

import "time"

// MarketUpdatePayload is the schema for sectors.market messages.
type MarketUpdatePayload struct {
	SectorID      string    `json:"sector_id"`
	IndexValue    float64   `json:"index_value"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Timestamp     time.Time `json:"timestamp"`
}

// SectorCandlePayload is the schema for sectors.candle messages.
type SectorCandlePayload struct {
	SectorID  string    `json:"sector_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// DiscussionMessagePayload is the schema for discussions.message messages.
type DiscussionMessagePayload struct {
	DiscussionID string    `json:"discussion_id"`
	SectorID     string    `json:"sector_id"`
	MessageID    string    `json:"message_id"`
	AgentID      string    `json:"agent_id"`
	Content      string    `json:"content"`
	Round        int       `json:"round"`
	Timestamp    time.Time `json:"timestamp"`
}

// DiscussionStatusPayload is the schema for discussions.status messages.
type DiscussionStatusPayload struct {
	DiscussionID string `json:"discussion_id"`
	SectorID     string `json:"sector_id"`
	Status       string `json:"status"`
	CurrentRound int    `json:"current_round"`
}

// AgentStatusPayload is the schema for agents.status messages.
type AgentStatusPayload struct {
	AgentID    string  `json:"agent_id"`
	SectorID   string  `json:"sector_id"`
	Status     string  `json:"status"`
	Confidence float64 `json:"confidence"`
}

// ExecutionPayload is the schema for executions.logged messages.
type ExecutionPayload struct {
	LogID        string `json:"log_id"`
	SectorID     string `json:"sector_id"`
	DiscussionID string `json:"discussion_id"`
	ItemID       string `json:"item_id"`
	Action       string `json:"action"`
	Allocation   string `json:"allocation"`
	Valuation    string `json:"valuation"`
}

// ManagerDecisionPayload is the schema for managers.decision messages.
type ManagerDecisionPayload struct {
	DecisionID    string  `json:"decision_id"`
	ManagerID     string  `json:"manager_id"`
	SectorID      string  `json:"sector_id"`
	Action        string  `json:"action"`
	Confidence    float64 `json:"confidence"`
	ConflictScore float64 `json:"conflict_score"`
}

// RoundsCommandPayload is the schema for commands.rounds.advance messages.
// An empty DiscussionID advances every active discussion.
type RoundsCommandPayload struct {
	DiscussionID string `json:"discussion_id,omitempty"`
	Count        int    `json:"count"`
}

// ManagerTickPayload is the schema for commands.manager.tick messages.
// An empty SectorID ticks every sector.
type ManagerTickPayload struct {
	SectorID string `json:"sector_id,omitempty"`
}
