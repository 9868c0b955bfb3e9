package token

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// SecretEnvKey is the env var name for the JWT signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "JWT_SECRET"

	defaultIssuer = "marketplace"
	defaultTTL    = 24 * time.Hour
)

// Claims is the decoded identity carried by a verified token.
type Claims struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	// The marketplace auth service puts the user id under "id".
	ID string `json:"id"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HS256 bearer tokens.
type Manager struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithIssuer overrides the issuer claim (default "marketplace").
func WithIssuer(issuer string) Option {
	return func(m *Manager) {
		if strings.TrimSpace(issuer) != "" {
			m.issuer = issuer
		}
	}
}

// WithTTL overrides the issued-token lifetime (default 24h).
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// NewManager constructs a Manager with the given HMAC secret.
func NewManager(secret []byte, opts ...Option) (*Manager, error) {
	if len(secret) == 0 {
		return nil, ErrSecretMissing
	}
	m := &Manager{
		secret: secret,
		issuer: defaultIssuer,
		ttl:    defaultTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(m)
	}
	return m, nil
}

// Issue signs a token for userID valid from now for the configured TTL.
func (m *Manager) Issue(userID string, now time.Time) (string, time.Time, error) {
	exp := now.Add(m.ttl)

	claims := jwtClaims{
		ID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify checks signature and expiry and returns the decoded claims.
// Returns ErrExpired or ErrMalformed; never both.
func (m *Manager) Verify(raw string, now time.Time) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Claims{}, ErrMalformed
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrMalformed
			}
			return m.secret, nil
		},
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrMalformed
	}

	if strings.TrimSpace(claims.ID) == "" {
		return Claims{}, ErrMalformed
	}

	out := Claims{UserID: claims.ID}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// SecretFromEnv returns the configured secret bytes (trimmed), enforcing a
// minimum byte length. Missing/blank -> ErrSecretMissing; too short ->
// ErrSecretTooShort. Bytes are measured (not runes) because the secret is
// used as raw key material.
func SecretFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(SecretEnvKey))
	if raw == "" {
		return nil, ErrSecretMissing
	}
	b := []byte(raw)
	if minBytes > 0 && len(b) < minBytes {
		return nil, ErrSecretTooShort
	}
	return b, nil
}
