package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/Strob0t/SectorDesk/internal/config"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		out = append(out, m)
	}
	return out
}

func TestNewWritesServiceAndCorrelation(t *testing.T) {
	for _, async := range []bool{false, true} {
		var buf bytes.Buffer
		l, closer := newTo(&buf, config.Logging{Level: "info", Service: "sectordesk", Async: async})

		ctx := WithDiscussionID(WithSectorID(WithRequestID(context.Background(), "req-9"), "energy"), "d-1")
		l.DebugContext(ctx, "hidden")
		l.InfoContext(ctx, "round advanced", "round", 2)
		closer.Close()

		lines := decodeLines(t, &buf)
		if len(lines) != 1 {
			t.Fatalf("async=%v: got %d lines, want 1", async, len(lines))
		}
		want := map[string]any{
			"msg":           "round advanced",
			"service":       "sectordesk",
			"request_id":    "req-9",
			"sector_id":     "energy",
			"discussion_id": "d-1",
			"round":         float64(2),
		}
		for k, v := range want {
			if lines[0][k] != v {
				t.Errorf("async=%v: %s = %v, want %v", async, k, lines[0][k], v)
			}
		}
	}
}

func TestCorrelationOmittedWhenUnset(t *testing.T) {
	var buf bytes.Buffer
	l, closer := newTo(&buf, config.Logging{Level: "debug", Service: "svc"})
	defer closer.Close()

	l.With("component", "scheduler").WithGroup("tick").Info("market step", "sectors", 6)

	line := decodeLines(t, &buf)[0]
	for _, k := range []string{"request_id", "sector_id", "discussion_id"} {
		if _, ok := line[k]; ok {
			t.Errorf("%s present without a tagged context", k)
		}
	}
	if line["component"] != "scheduler" {
		t.Errorf("component = %v", line["component"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"unknown": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCorrelationContext(t *testing.T) {
	ctx := context.Background()
	if RequestID(ctx) != "" || SectorID(ctx) != "" || DiscussionID(ctx) != "" {
		t.Fatal("empty context carries ids")
	}
	ctx = WithDiscussionID(WithSectorID(ctx, "tech"), "d-1")
	if SectorID(ctx) != "tech" || DiscussionID(ctx) != "d-1" || RequestID(ctx) != "" {
		t.Errorf("ids = %q %q %q", SectorID(ctx), DiscussionID(ctx), RequestID(ctx))
	}
}
