// Package keyring stores secrets in the OS credential manager.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

// DefaultService is the keyring service entries are filed under.
const DefaultService = "dsh"

// Store reads and writes keyring entries for one service.
// Calls are serialized; some platform keyrings are not safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	service string
}

func New(service string) *Store {
	if strings.TrimSpace(service) == "" {
		service = DefaultService
	}
	return &Store{service: service}
}

func (s *Store) Resolve(ctx context.Context, ref secret.Reference) (*secret.Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, secret.Unavailable("keyring get", err)
	}
	s.mu.Lock()
	v, err := gokeyring.Get(s.service, ref.Name)
	s.mu.Unlock()
	switch {
	case errors.Is(err, gokeyring.ErrNotFound):
		return nil, secret.NotFound(ref.Name)
	case err != nil:
		return nil, secret.Unavailable("keyring get", err)
	case v == "":
		return nil, secret.NotFound(ref.Name)
	}
	return secret.FromString(v), nil
}

func (s *Store) Put(_ context.Context, name string, value []byte) error {
	if strings.TrimSpace(name) == "" {
		return secret.ErrInvalidRef
	}
	if len(value) == 0 {
		return secret.ErrEmptyValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := gokeyring.Set(s.service, name, string(value)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := gokeyring.Delete(s.service, name)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return fmt.Errorf("%w: %q", secret.ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}

func init() {
	secret.Register("keyring", func(cfg any) (secret.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("keyring: invalid config type")
		}
		return New(c.Secrets.Keyring.Service), nil
	})
}
