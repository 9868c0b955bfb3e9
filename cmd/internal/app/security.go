package app

import (
	"errors"

	"github.com/liebestraumm/react-native-app-backend/cmd/security/token"
)

// ValidateSecurityConfig enforces the credential policy at startup.
// Fail-fast is intentional: a server that boots without a signing secret
// would mint unverifiable tokens and every request would 401 later.
func ValidateSecurityConfig() error {
	if _, err := token.SecretFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return errors.New("security policy: " + token.SecretEnvKey + " is not set")
		case errors.Is(err, token.ErrSecretTooShort):
			return errors.New("security policy: " + token.SecretEnvKey + " is too short (min 32 bytes)")
		default:
			return err
		}
	}
	return nil
}
