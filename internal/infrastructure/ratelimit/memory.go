package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleTTL is how long an unused bucket is kept before it is swept.
const idleTTL = 10 * time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Memory is an in-process per-key token bucket.
type Memory struct {
	every rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewMemory allows perMinute requests per minute per key with bursts of burst.
func NewMemory(perMinute, burst int) *Memory {
	if burst <= 0 {
		burst = 1
	}
	return &Memory{
		every:   rate.Every(refillInterval(perMinute)),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow consumes one token from key's bucket. It never returns an error.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(now)

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.every, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now

	d := Decision{Limit: m.burst}
	if b.lim.AllowN(now, 1) {
		d.Allowed = true
		d.Remaining = int(math.Max(0, math.Floor(b.lim.TokensAt(now))))
		return d, nil
	}

	missing := 1 - b.lim.TokensAt(now)
	d.RetryAfter = time.Duration(missing * float64(time.Second) / float64(m.every))
	return d, nil
}

// sweep drops idle buckets at most once per idleTTL. Callers hold mu.
func (m *Memory) sweep(now time.Time) {
	if now.Sub(m.lastSweep) < idleTTL {
		return
	}
	m.lastSweep = now
	for key, b := range m.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(m.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}
