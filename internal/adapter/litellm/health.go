package litellm

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
)

// Model is a model configured on the proxy.
type Model struct {
	ModelName string         `json:"model_name"`
	ModelID   string         `json:"model_id,omitempty"`
	ModelInfo map[string]any `json:"model_info,omitempty"`
}

// EndpointHealth is the health of one model endpoint.
type EndpointHealth struct {
	Model string `json:"model"`
	Error string `json:"error,omitempty"`
}

// HealthReport is the proxy's per-endpoint health.
type HealthReport struct {
	HealthyEndpoints   []EndpointHealth `json:"healthy_endpoints"`
	UnhealthyEndpoints []EndpointHealth `json:"unhealthy_endpoints"`
	HealthyCount       int              `json:"healthy_count"`
	UnhealthyCount     int              `json:"unhealthy_count"`
}

// Health reports whether the proxy answers its health endpoint.
func (c *Client) Health(ctx context.Context) (bool, error) {
	err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/health/liveliness")
	})
	return err == nil, err
}

// HealthDetailed returns the per-endpoint health report.
func (c *Client) HealthDetailed(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&report).Get("/health")
	}); err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	return &report, nil
}

// ListModels returns the configured models.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	var out struct {
		Data []Model `json:"data"`
	}
	if err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&out).Get("/model/info")
	}); err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return out.Data, nil
}
