package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
)

// payloadCheck decodes data into the subject's payload and applies any
// field-level rules.
type payloadCheck func(data []byte) error

func decodeAs[T any](rules ...func(*T) error) payloadCheck {
	return func(data []byte) error {
		var p T
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		for _, rule := range rules {
			if err := rule(&p); err != nil {
				return err
			}
		}
		return nil
	}
}

var payloadChecks = map[string]payloadCheck{
	SubjectMarketUpdate: decodeAs(func(p *MarketUpdatePayload) error {
		return requireID("sector_id", p.SectorID)
	}),
	SubjectSectorCandle: decodeAs(func(p *SectorCandlePayload) error {
		return requireID("sector_id", p.SectorID)
	}),
	SubjectDiscussionMessage: decodeAs(func(p *DiscussionMessagePayload) error {
		return requireID("discussion_id", p.DiscussionID)
	}),
	SubjectDiscussionStatus: decodeAs(func(p *DiscussionStatusPayload) error {
		return requireID("discussion_id", p.DiscussionID)
	}),
	SubjectAgentStatus:        decodeAs[AgentStatusPayload](),
	SubjectExecution:          decodeAs[ExecutionPayload](),
	SubjectManagerDecision:    decodeAs[ManagerDecisionPayload](),
	SubjectCommandManagerTick: decodeAs[ManagerTickPayload](),
	SubjectCommandRounds: decodeAs(func(p *RoundsCommandPayload) error {
		if p.Count < 0 {
			return errors.New("count must be >= 0")
		}
		return nil
	}),
}

func requireID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// Validate checks that data is JSON and, for subjects SectorDesk owns, that
// it decodes into the subject's payload. Subjects without a registered
// payload only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	check, ok := payloadChecks[subject]
	if !ok {
		return nil
	}
	if err := check(data); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}
