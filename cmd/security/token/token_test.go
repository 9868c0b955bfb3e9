package token

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager([]byte(testSecret), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManager_IssueAndVerify(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now().UTC()

	raw, exp, err := m.Issue("b3a1e6a0-8c1f-4f7e-9f3a-1b2c3d4e5f60", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected expiry after now, got %v", exp)
	}

	claims, err := m.Verify(raw, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "b3a1e6a0-8c1f-4f7e-9f3a-1b2c3d4e5f60" {
		t.Fatalf("unexpected user id: %q", claims.UserID)
	}
	if claims.ExpiresAt.IsZero() || claims.IssuedAt.IsZero() {
		t.Fatalf("expected iat/exp claims, got %+v", claims)
	}
}

func TestManager_Verify_Expired(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, WithTTL(time.Minute))
	issuedAt := time.Now().UTC().Add(-2 * time.Hour)

	raw, _, err := m.Issue("user-1", issuedAt)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = m.Verify(raw, time.Now().UTC())
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestManager_Verify_Malformed(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now().UTC()

	other, err := NewManager([]byte("another-secret-that-is-plenty-long"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	wrongKey, _, err := other.Issue("user-1", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace", raw: "   "},
		{name: "garbage", raw: "not-a-token"},
		{name: "wrong key", raw: wrongKey},
		// alg=none with an empty signature must never verify.
		{name: "alg none", raw: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJpZCI6InUxIn0."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := m.Verify(tc.raw, now)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestManager_Verify_MissingUserIDClaim(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	now := time.Now().UTC()

	raw, _, err := m.Issue("", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	_, err = m.Verify(raw, now)
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed for empty id claim, got %v", err)
	}
}

func TestSecretFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{name: "missing", value: "", wantErr: ErrSecretMissing},
		{name: "blank", value: "   ", wantErr: ErrSecretMissing},
		{name: "too short", value: "shorty", wantErr: ErrSecretTooShort},
		{name: "ok", value: testSecret},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(SecretEnvKey, tc.value)

			b, err := SecretFromEnv(32)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(b) != tc.value {
				t.Fatalf("unexpected secret bytes: %q", b)
			}
		})
	}
}

func TestNewManager_EmptySecret(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(nil); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}
}
