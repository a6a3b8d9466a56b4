package natskv_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Strob0t/SectorDesk/internal/adapter/nats"
	"github.com/Strob0t/SectorDesk/internal/adapter/natskv"
	"github.com/Strob0t/SectorDesk/internal/port/cache"
)

func TestEncodeKey(t *testing.T) {
	tests := map[string]string{
		cache.SectorKey("tech"):      "view.sector.tech",
		cache.CandlesKey("energy-2"): "view.candles.energy-2",
		"view:sector:a b*c>":         "view.sector.a_b_c_",
		"idem:/api/v1/sectors:k=1":   "idem./api/v1/sectors.k=1",
	}
	for in, want := range tests {
		if got := natskv.EncodeKey(in); got != want {
			t.Errorf("EncodeKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSharedViewRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()
	q, err := nats.Connect(ctx, url)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = q.Close() }()

	kv, err := q.KeyValue(ctx, natskv.Bucket+"-test", time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	c := natskv.New(kv)
	key := cache.SectorKey("tech")

	if err := c.Set(ctx, key, []byte(`{"id":"tech"}`), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, ok, err := c.Get(ctx, key); err != nil || !ok || string(got) != `{"id":"tech"}` {
		t.Fatalf("Get = %q, %v, %v", got, ok, err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("hit after delete")
	}
	if err := c.Delete(ctx, cache.SectorKey("never-written")); err != nil {
		t.Errorf("Delete of missing key: %v", err)
	}
}
