package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxTrackedClients caps the limiter table; new clients beyond it are refused.
const maxTrackedClients = 100000

// RateLimiter applies a token bucket per client address. Read-only requests
// take one token; requests that can move money through the desk take
// writeCost tokens.
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	writeCost int

	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewRateLimiter allows perSecond sustained requests per client with the
// given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		writeCost: min(2, max(burst, 1)),
		clients:   make(map[string]*bucket),
	}
}

// Handler enforces the per-client budget and answers 429 with Retry-After
// when it is spent.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim, ok := rl.bucketFor(clientAddr(r))
		if !ok {
			rejectRate(w, time.Second)
			return
		}

		cost := 1
		if r.Method == http.MethodPost {
			cost = rl.writeCost
		}
		now := time.Now()
		res := lim.ReserveN(now, cost)
		if wait := res.DelayFrom(now); !res.OK() || wait > 0 {
			res.CancelAt(now)
			rejectRate(w, wait)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(lim.TokensAt(now))))
		next.ServeHTTP(w, r)
	})
}

func rejectRate(w http.ResponseWriter, wait time.Duration) {
	secs := math.Max(1, math.Ceil(wait.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(int(secs)))
	w.Header().Set("X-RateLimit-Remaining", "0")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
}

func (rl *RateLimiter) bucketFor(addr string) (*rate.Limiter, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[addr]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			return nil, false
		}
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[addr] = b
	}
	b.seen = time.Now()
	return b.lim, true
}

// StartCleanup forgets clients idle longer than maxIdle, sweeping every
// interval until the returned stop function is called.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.forgetIdle(maxIdle)
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) forgetIdle(maxIdle time.Duration) {
	cutoff := time.Now().Add(-maxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for addr, b := range rl.clients {
		if !b.seen.After(cutoff) {
			delete(rl.clients, addr)
		}
	}
}

// Len reports how many clients are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// clientAddr is the host part of RemoteAddr. Forwarding headers are ignored
// because any client can set them.
func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
