// Package auth provides authentication and authorisation for SmartRack Core.
//
// It implements a 3-tier role model (org_user → org_admin → sys_admin) with:
//   - Argon2id hashing for passwords, gateway secrets and reset codes
//   - Short-lived JWT access tokens for users and gateway devices, with
//     audiences that are never interchangeable
//   - A persisted refresh token ledger: single-use rotation, a per-user
//     cap on active tokens, and revocation on logout or password change
//   - Invite and reset password flows backed by one-time requests
//   - Per-axis request resolution (Required, Optional, Denied) used by the
//     HTTP middleware
//
// Refresh tokens are never deleted; revocation stamps revoked_at with a
// conditional update, so concurrent rotations of one token have exactly
// one winner.
package auth
