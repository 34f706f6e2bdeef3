package secret

import (
	"errors"
	"fmt"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
)

var (
	ErrNotFound      = errors.New("secret: not found")
	ErrInvalidRef    = errors.New("secret: invalid reference")
	ErrEmptyValue    = errors.New("secret: empty value")
	ErrNotConfigured = errors.New("secret: backend not configured")
	ErrReadOnly      = errors.New("secret: backend is read-only")
	ErrNotListable   = errors.New("secret: backend cannot list entries")
)

// NotFound reports a missing entry as a classified failure.
func NotFound(name string) error {
	return failure.New(failure.SecretNotFound, fmt.Errorf("%w: %q", ErrNotFound, name))
}

// Unavailable classifies a backend error: context expiry becomes Timeout,
// anything else SecretNotFound.
func Unavailable(op string, err error) error {
	return failure.Classify(fmt.Errorf("%s: %w", op, err), failure.SecretNotFound)
}
