package proposal

import "github.com/Strob0t/SectorDesk/internal/domain/agent"

// DecisionParseFailure is the reasoning attached to the fallback decision.
const DecisionParseFailure = "parse failure, defaulting to HOLD"

// Decision is a manager's verdict on a checklist item.
type Decision struct {
	Approve           bool    `json:"approve"`
	AllocationPercent float64 `json:"allocation_percent"`
	Confidence        float64 `json:"confidence"`
	Reasoning         string  `json:"reasoning"`
	Fallback          bool    `json:"fallback,omitempty"`
}

// FallbackDecision is the deterministic result of an unusable decision input.
func FallbackDecision() Decision {
	return Decision{
		Approve:           false,
		AllocationPercent: 0,
		Confidence:        FallbackConfidence,
		Reasoning:         DecisionParseFailure,
		Fallback:          true,
	}
}

// ParseDecision normalizes raw decision output. It never returns an error.
func ParseDecision(raw string) Decision {
	doc, err := decodeDocument(raw, decisionSchema)
	if err != nil {
		return FallbackDecision()
	}
	d := Decision{Reasoning: text(doc, "reasoning")}
	d.Approve, _ = doc["approve"].(bool)
	d.AllocationPercent, _ = number(doc, "allocationPercent")
	if v, ok := number(doc, "confidence"); ok {
		d.Confidence = agent.ClampProposalConfidence(v)
	}
	return d
}
