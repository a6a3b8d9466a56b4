package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/Strob0t/SectorDesk/internal/service"
)

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "migrate", "seed", "tick"} {
		if _, _, err := root.Find([]string{name}); err != nil {
			t.Errorf("subcommand %s: %v", name, err)
		}
	}
	for _, name := range []string{"up", "down", "version"} {
		if _, _, err := root.Find([]string{"migrate", name}); err != nil {
			t.Errorf("migrate %s: %v", name, err)
		}
	}
}

func TestSeedCommandInMemory(t *testing.T) {
	t.Setenv("SECTORDESK_STORE_DRIVER", "memory")
	t.Setenv("NATS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	cfgPath := filepath.Join(t.TempDir(), "missing.yaml")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "seed"})
	if err := root.Execute(); err != nil {
		t.Fatalf("seed: %v", err)
	}

	var report service.SeedReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v (%s)", err, out.String())
	}
	if len(report.Sectors) != 6 || len(report.Agents) != 24 {
		t.Errorf("report = %d sectors, %d agents", len(report.Sectors), len(report.Agents))
	}
}
