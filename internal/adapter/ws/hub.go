// Package ws pushes realtime desk events to dashboard clients over WebSocket.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/Strob0t/SectorDesk/internal/port/broadcast"
)

const (
	writeTimeout = 5 * time.Second
	// outboxSize is how many undelivered events a client may lag behind
	// before it is disconnected.
	outboxSize = 64
)

// Message is the envelope for every pushed event.
type Message struct {
	Type     string          `json:"type"`
	SectorID string          `json:"sector_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// client is one connection and its pending frames. An empty sector follows
// every sector.
type client struct {
	sector string
	outbox chan []byte
	cancel context.CancelFunc
}

func (c *client) follows(sectorID string) bool {
	return c.sector == "" || sectorID == "" || c.sector == sectorID
}

// Hub fans events out to connected clients. Broadcasting never blocks on a
// slow client: its outbox fills and it is dropped.
type Hub struct {
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var _ broadcast.Broadcaster = (*Hub)(nil)

// NewHub accepts connections from the comma-separated origins; empty or "*"
// accepts any.
func NewHub(origins string) *Hub {
	h := &Hub{clients: make(map[*client]struct{})}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			h.origins = append(h.origins, o)
		}
	}
	return h
}

// HandleWS upgrades the request. The optional "sector" query parameter
// limits the client to one sector's events.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     h.origins,
		InsecureSkipVerify: len(h.origins) == 0,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// CloseRead discards client frames and cancels ctx once the peer goes away.
	ctx, cancel := context.WithCancel(context.Background())
	ctx = conn.CloseRead(ctx)
	c := &client{sector: r.URL.Query().Get("sector"), outbox: make(chan []byte, outboxSize), cancel: cancel}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusGoingAway, "server shutdown")
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()
	slog.Info("websocket connected", "remote", r.RemoteAddr, "sector_id", c.sector)

	go func() {
		defer h.wg.Done()
		defer h.drop(c)
		h.pump(ctx, conn, c)
	}()
}

// pump writes queued frames until the client leaves or the hub closes.
func (h *Hub) pump(ctx context.Context, conn *websocket.Conn, c *client) {
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusGoingAway, "")
			return
		case frame := <-c.outbox:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "sector_id", c.sector, "error", err)
				_ = conn.CloseNow()
				return
			}
		}
	}
}

// Broadcast queues msg for every client following its sector.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	frame, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "type", msg.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.follows(msg.SectorID) {
			continue
		}
		select {
		case c.outbox <- frame:
		default:
			slog.Warn("websocket client too slow, disconnecting", "sector_id", c.sector)
			c.cancel()
		}
	}
}

// BroadcastEvent marshals payload and broadcasts it as eventType.
func (h *Hub) BroadcastEvent(ctx context.Context, sectorID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}
	h.Broadcast(ctx, Message{Type: eventType, SectorID: sectorID, Payload: data})
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their writers to stop.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		c.cancel()
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		c.cancel()
		delete(h.clients, c)
		slog.Info("websocket disconnected", "sector_id", c.sector)
	}
}
