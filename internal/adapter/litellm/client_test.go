package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/SectorDesk/internal/adapter/litellm"
	"github.com/Strob0t/SectorDesk/internal/config"
	"github.com/Strob0t/SectorDesk/internal/port/proposer"
	"github.com/Strob0t/SectorDesk/internal/resilience"
)

func newClient(url string) *litellm.Client {
	return litellm.NewClient(config.Proposer{
		URL:     url,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Model != "openai/gpt-4o-mini" || len(body.Messages) != 2 || body.Messages[0].Role != "system" {
			t.Fatalf("unexpected request %+v", body)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"action\":\"HOLD\"}"}}]}`))
	}))
	defer srv.Close()

	out, err := newClient(srv.URL).Complete(context.Background(), proposer.Request{
		Model:  "openai/gpt-4o-mini",
		System: "you are a sector analyst",
		Prompt: "propose",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != `{"action":"HOLD"}` {
		t.Fatalf("unexpected content %q", out)
	}
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Complete(context.Background(), proposer.Request{Prompt: "x"})
	if !errors.Is(err, litellm.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestCompleteBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	c.SetBreaker(resilience.NewBreaker(2, time.Minute))
	ctx := context.Background()

	for range 2 {
		if _, err := c.Complete(ctx, proposer.Request{Prompt: "x"}); err == nil {
			t.Fatal("expected error from failing proxy")
		}
	}
	_, err := c.Complete(ctx, proposer.Request{Prompt: "x"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", calls.Load())
	}
}

func TestCompleteHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := newClient(srv.URL).Complete(ctx, proposer.Request{Prompt: "x"}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health/liveliness" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`"I'm alive!"`))
	}))
	defer srv.Close()

	healthy, err := newClient(srv.URL).Health(context.Background())
	if err != nil || !healthy {
		t.Fatalf("expected healthy, got %v %v", healthy, err)
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	healthy, _ := newClient(srv.URL).Health(context.Background())
	if healthy {
		t.Fatal("expected unhealthy")
	}
}

func TestHealthDetailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy_endpoints":   []map[string]string{{"model": "openai/gpt-4o-mini"}},
			"unhealthy_endpoints": []map[string]string{{"model": "ollama/llama3.2", "error": "ConnectionError"}},
			"healthy_count":       1,
			"unhealthy_count":     1,
		})
	}))
	defer srv.Close()

	report, err := newClient(srv.URL).HealthDetailed(context.Background())
	if err != nil {
		t.Fatalf("HealthDetailed failed: %v", err)
	}
	if report.HealthyCount != 1 || report.UnhealthyCount != 1 {
		t.Errorf("unexpected counts %+v", report)
	}
	if len(report.UnhealthyEndpoints) != 1 || report.UnhealthyEndpoints[0].Error != "ConnectionError" {
		t.Errorf("unexpected unhealthy endpoints %+v", report.UnhealthyEndpoints)
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model/info" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"model_name":"openai/gpt-4o-mini"},{"model_name":"openai/gpt-4o"}]}`))
	}))
	defer srv.Close()

	models, err := newClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 || models[0].ModelName != "openai/gpt-4o-mini" {
		t.Fatalf("unexpected models %+v", models)
	}
}
