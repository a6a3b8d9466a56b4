package service

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"unicode"

	"github.com/Strob0t/SectorDesk/internal/domain/agent"
	"github.com/Strob0t/SectorDesk/internal/domain/discussion"
	"github.com/Strob0t/SectorDesk/internal/domain/sector"
)

//go:embed templates/proposal_system.tmpl
var proposalSystemPrompt string

//go:embed templates/proposal.tmpl
var proposalTmplSrc string

//go:embed templates/decision_system.tmpl
var decisionSystemPrompt string

//go:embed templates/decision.tmpl
var decisionTmplSrc string

var (
	proposalTmpl = template.Must(template.New("proposal").Parse(proposalTmplSrc))
	decisionTmpl = template.Must(template.New("decision").Parse(decisionTmplSrc))
)

const (
	promptMessageCount  = 6
	promptMessageMaxLen = 300
)

// proposalPromptData carries sector and agent context into the proposal prompt.
type proposalPromptData struct {
	AgentName     string
	RiskTolerance string
	DecisionStyle string
	SectorName    string
	Symbol        string
	Round         int
	MaxRounds     int
	Balance       string
	Position      string
	Valuation     string
	Price         float64
	ChangePercent float64
	Volatility    float64
	RiskCeiling   float64
	Confidence    float64
	LastAction    string
	Revision      *revisionPromptData
	Messages      []discussion.Message
}

type revisionPromptData struct {
	Action   string
	Amount   string
	Feedback string
}

func renderProposalPrompt(sec *sector.Sector, d *discussion.Discussion, a *agent.Agent, round int) (string, error) {
	data := proposalPromptData{
		AgentName:     sanitizePromptInput(a.Name),
		RiskTolerance: orDefault(sanitizePromptInput(a.Personality.RiskTolerance), "moderate"),
		DecisionStyle: orDefault(sanitizePromptInput(a.Personality.DecisionStyle), "balanced"),
		SectorName:    sanitizePromptInput(sec.Name),
		Symbol:        sanitizePromptInput(sec.Symbol),
		Round:         round,
		MaxRounds:     d.MaxRounds,
		Balance:       sec.Balance.StringFixed(2),
		Position:      sec.Position.StringFixed(2),
		Valuation:     sec.Valuation.StringFixed(2),
		Price:         sec.CurrentPrice,
		ChangePercent: sec.ChangePercent,
		Volatility:    sec.Volatility,
		RiskCeiling:   sec.RiskCeiling,
		Confidence:    a.Confidence,
		LastAction:    string(a.LastAction),
		Messages:      recentMessages(d.Messages),
	}
	if it := d.OpenItemFor(a.ID); it != nil {
		rev := &revisionPromptData{Action: string(it.Action), Amount: it.Amount.StringFixed(2)}
		if it.Review != nil {
			rev.Feedback = sanitizePromptInput(it.Review.Reason)
		}
		data.Revision = rev
	}

	var b bytes.Buffer
	if err := proposalTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render proposal prompt: %w", err)
	}
	return b.String(), nil
}

// decisionPromptData carries an item under review into the decision prompt.
type decisionPromptData struct {
	SectorName string
	Symbol     string
	Balance    string
	Position   string
	Valuation  string
	AgentID    string
	Round      int
	discussion.Content
	Amount    string
	RiskScore string
	Threshold float64
	Checks    discussion.Checks
}

func renderDecisionPrompt(sec *sector.Sector, it *discussion.ChecklistItem, review discussion.Review) (string, error) {
	data := decisionPromptData{
		SectorName: sanitizePromptInput(sec.Name),
		Symbol:     sanitizePromptInput(sec.Symbol),
		Balance:    sec.Balance.StringFixed(2),
		Position:   sec.Position.StringFixed(2),
		Valuation:  sec.Valuation.StringFixed(2),
		AgentID:    it.AgentID,
		Round:      it.Round,
		Content:    it.Content,
		Amount:     it.Amount.StringFixed(2),
		RiskScore:  "not provided",
		Threshold:  sec.ConfidenceThreshold,
		Checks:     review.Checks,
	}
	data.Reasoning = sanitizePromptInput(truncate(it.Reasoning, 2000))
	if it.RiskScore != nil {
		data.RiskScore = fmt.Sprintf("%.1f", *it.RiskScore)
	}

	var b bytes.Buffer
	if err := decisionTmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render decision prompt: %w", err)
	}
	return b.String(), nil
}

func recentMessages(msgs []discussion.Message) []discussion.Message {
	if len(msgs) > promptMessageCount {
		msgs = msgs[len(msgs)-promptMessageCount:]
	}
	out := make([]discussion.Message, len(msgs))
	for i, m := range msgs {
		m.Content = sanitizePromptInput(truncate(m.Content, promptMessageMaxLen))
		out[i] = m
	}
	return out
}

// sanitizePromptInput strips control characters and common prompt injection
// patterns from text before it is embedded in a prompt.
func sanitizePromptInput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.ToLower(line))
		for _, prefix := range []string{
			"system:", "assistant:", "user:", "[system]", "[assistant]",
			"<|system|>", "<|assistant|>", "<|im_start|>",
			"### system", "### assistant", "### instruction",
		} {
			if strings.HasPrefix(trimmed, prefix) {
				lines[i] = "[sanitized] " + line
				break
			}
		}
	}
	s = strings.Join(lines, "\n")

	const maxInputLen = 10000
	if len(s) > maxInputLen {
		s = s[:maxInputLen] + "\n[truncated]"
	}
	return s
}

// truncate returns s cut to maxLen bytes with an ellipsis.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
