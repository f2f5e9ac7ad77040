package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter checks whether a request identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// refillInterval is the time to regain one token at perMinute requests per minute.
func refillInterval(perMinute int) time.Duration {
	if perMinute <= 0 {
		perMinute = 1
	}
	return time.Minute / time.Duration(perMinute)
}
