// Package api implements the HTTP REST API of SmartRack Core.
//
// This package provides:
//   - Authentication endpoints: login, token refresh, logout, device login,
//     password reset and identity
//   - User invitation and activation, gateway registration
//   - IoT endpoints for gateways (heartbeat, node status and stock batches)
//   - Middleware stack (request ID, metrics, logging, recovery, CORS,
//     rate limiting, per-route auth resolution)
//
// # Authentication
//
// Every route group declares an AuthPolicy with one auth.Requirement per
// identity axis (user, device). The bearer token is resolved against both
// axes independently and the results are attached to the request context.
// Refresh tokens travel only in the HttpOnly refreshAuth cookie.
//
// # Graceful Degradation
//
// MQTT, InfluxDB, the rate limiter and the audit store are optional. When
// one is missing the server keeps serving and the corresponding side
// effect is skipped.
package api
