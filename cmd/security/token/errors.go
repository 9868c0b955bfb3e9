package token

import "errors"

// Public, stable errors for callers.
var (
	// ErrExpired reports a token whose expiry has passed. Distinct from
	// ErrMalformed so callers can log/report "session expired" separately.
	ErrExpired = errors.New("token expired")

	// ErrMalformed reports a token that failed verification for any reason
	// other than expiry: bad signature, wrong algorithm, missing claims.
	ErrMalformed = errors.New("token malformed")

	// ErrSecretMissing reports an absent JWT_SECRET.
	ErrSecretMissing = errors.New("token secret missing")

	// ErrSecretTooShort reports a JWT_SECRET below the enforced minimum size.
	ErrSecretTooShort = errors.New("token secret too short")
)
