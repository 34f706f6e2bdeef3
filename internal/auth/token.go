package auth

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
)

type tokenProvider struct {
	token string
}

// Acquire returns the configured token, falling back to VAULT_TOKEN.
func (p *tokenProvider) Acquire(ctx context.Context) (string, error) {
	// Never log the token content.
	token := p.token
	if token == "" {
		token = strings.TrimSpace(os.Getenv("VAULT_TOKEN"))
	}
	if token == "" {
		log.Debug().
			Str("action", "auth_acquire").
			Str("method", "token").
			Msg("missing token")
		return "", ErrNoToken
	}
	log.Debug().
		Str("action", "auth_acquire").
		Str("method", "token").
		Msg("token acquired")
	return token, nil
}
