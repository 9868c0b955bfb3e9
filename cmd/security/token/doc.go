// Package token verifies and issues the bearer credentials used by the HTTP
// API and the realtime gateway.
//
// Tokens are HS256 JWTs carrying the user id under the "id" claim, matching
// what the marketplace auth service issues. Verification distinguishes two
// failure kinds for diagnostics:
//   - ErrExpired: the token was valid once but its expiry has passed.
//   - ErrMalformed: anything else (bad signature, wrong algorithm, garbage).
//
// Both kinds leave the caller unauthenticated.
//
// Environment:
// - JWT_SECRET: the shared HMAC secret. Startup policy enforces a minimum size.
package token
