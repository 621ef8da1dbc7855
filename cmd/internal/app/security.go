package app

import (
	"errors"
	"fmt"

	"openon/cmd/internal/auth"
)

// ValidateSecurityConfig enforces the token-signing policy at startup.
// Failing fast beats booting a server that issues forgeable sessions.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.JWTSecret == "" {
		return errors.New("security policy: OPENON_JWT_SECRET is required")
	}
	// Enforcement goes through the same constructor the app signs with, so
	// the policy and the runtime cannot drift apart.
	if _, err := auth.NewTokenManager([]byte(cfg.JWTSecret), cfg.JWTTTL); err != nil {
		if errors.Is(err, auth.ErrSecretTooShort) {
			return errors.New("security policy: OPENON_JWT_SECRET is too short (min 32 bytes)")
		}
		return fmt.Errorf("security policy: %w", err)
	}
	return nil
}
