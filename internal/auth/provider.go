// Package auth obtains the Vault token used by the vault secret backend.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
)

var (
	ErrNoToken = errors.New("no token available for vault auth")
)

// Provider abstracts how we acquire a Vault token (no renew here).
type Provider interface {
	Acquire(ctx context.Context) (string, error)
}

// New selects the provider based on cfg.Auth.Method. cfg.Address must
// already be resolved.
func New(cfg config.VaultConfig) (Provider, error) {
	method := strings.ToLower(strings.TrimSpace(cfg.Auth.Method))
	switch method {
	case "", "token":
		log.Debug().
			Str("action", "auth_new").
			Str("method", "token").
			Msg("auth provider selected")
		return &tokenProvider{token: strings.TrimSpace(cfg.Token)}, nil

	case "kubernetes":
		log.Debug().
			Str("action", "auth_new").
			Str("method", "kubernetes").
			Str("mount", cfg.Auth.Mount).
			Str("role", cfg.Auth.Role).
			Msg("auth provider selected")
		return newKubernetesProvider(cfg)

	default:
		return nil, errors.New("unsupported auth method: " + method)
	}
}
