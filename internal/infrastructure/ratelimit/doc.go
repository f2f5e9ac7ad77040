// Package ratelimit throttles the public authentication endpoints.
//
// Two token-bucket implementations share the Limiter interface: Memory keeps
// one golang.org/x/time/rate limiter per key in process, Redis keeps the
// bucket in Redis (evaluated atomically by a Lua script) so several core
// instances share one budget.
package ratelimit
