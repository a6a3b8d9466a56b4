// Package litellm implements the proposal source on an OpenAI-compatible
// LiteLLM proxy.
package litellm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
	"github.com/Strob0t/SectorDesk/internal/resilience"
)

// ErrEmptyCompletion is returned when the proxy answers without any choice.
var ErrEmptyCompletion = errors.New("completion has no choices")

// Client talks to the LiteLLM proxy. Every call is rate limited and, when a
// breaker is attached, guarded by it.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

var _ proposer.Source = (*Client)(nil)

// NewClient creates a client for the configured proxy.
func NewClient(cfg config.Proposer) *Client {
	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if cfg.APIKey != "" {
		h.SetAuthToken(cfg.APIKey)
	}

	limit := rate.Limit(cfg.RatePerSecond)
	if cfg.RatePerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{http: h, limiter: rate.NewLimiter(limit, burst)}
}

// SetBreaker attaches a circuit breaker to all outgoing calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends one chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req proposer.Request) (string, error) {
	body := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})

	var out chatResponse
	if err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(body).SetResult(&out).Post("/v1/chat/completions")
	}); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}

func (c *Client) do(ctx context.Context, send func(*resty.Request) (*resty.Response, error)) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	call := func() error {
		resp, err := send(c.http.R().SetContext(ctx))
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		if resp.IsError() {
			return fmt.Errorf("litellm API error %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	}
	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}
