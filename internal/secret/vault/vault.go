// Package vault resolves secrets from a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/auth"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

// Store reads "path" or "path#field" references from a KV v2 mount.
type Store struct {
	kv    *api.KVv2
	mount string
	field string
}

// New builds a Vault client and logs in with the configured auth method.
// Address and token fall back to VAULT_ADDR and VAULT_TOKEN when unset.
func New(ctx context.Context, c config.VaultConfig) (*Store, error) {
	vc := api.DefaultConfig()
	if vc.Error != nil {
		return nil, fmt.Errorf("vault config: %w", vc.Error)
	}
	if c.Address != "" {
		vc.Address = c.Address
	}
	if c.Timeout > 0 {
		vc.Timeout = c.Timeout
	}
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	c.Address = vc.Address
	token, err := auth.AcquireToken(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("vault auth: %w", err)
	}
	client.SetToken(token)
	if c.Namespace != "" {
		client.SetNamespace(c.Namespace)
	}

	mount := strings.Trim(c.Mount, "/")
	if mount == "" {
		mount = "secret"
	}
	field := c.Field
	if field == "" {
		field = "value"
	}
	log.Debug().Str("action", "secret_open").Str("backend", "vault").
		Str("address", vc.Address).Str("mount", mount).Msg("vault client ready")
	return &Store{kv: client.KVv2(mount), mount: mount, field: field}, nil
}

func (s *Store) split(name string) (string, string) {
	path, field, ok := strings.Cut(name, "#")
	if !ok || field == "" {
		field = s.field
	}
	return strings.Trim(path, "/"), field
}

func (s *Store) Resolve(ctx context.Context, ref secret.Reference) (*secret.Secret, error) {
	path, field := s.split(ref.Name)
	if path == "" {
		return nil, secret.NotFound(ref.Name)
	}
	kvs, err := s.kv.Get(ctx, path)
	if errors.Is(err, api.ErrSecretNotFound) {
		return nil, secret.NotFound(ref.Name)
	}
	if err != nil {
		return nil, secret.Unavailable("vault read "+s.mount+"/"+path, err)
	}
	v, ok := kvs.Data[field].(string)
	if !ok || v == "" {
		return nil, secret.NotFound(ref.Name)
	}
	return secret.FromString(v), nil
}

// Put writes value under the reference's field. Other fields at path are replaced.
func (s *Store) Put(ctx context.Context, name string, value []byte) error {
	path, field := s.split(name)
	if path == "" {
		return secret.ErrInvalidRef
	}
	if len(value) == 0 {
		return secret.ErrEmptyValue
	}
	if _, err := s.kv.Put(ctx, path, map[string]interface{}{field: string(value)}); err != nil {
		return fmt.Errorf("vault write %s/%s: %w", s.mount, path, err)
	}
	return nil
}

// Delete removes every version and the metadata of path.
func (s *Store) Delete(ctx context.Context, name string) error {
	path, _ := s.split(name)
	if path == "" {
		return secret.ErrInvalidRef
	}
	if err := s.kv.DeleteMetadata(ctx, path); err != nil {
		return fmt.Errorf("vault delete %s/%s: %w", s.mount, path, err)
	}
	return nil
}

func init() {
	secret.Register("vault", func(cfg any) (secret.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("vault: invalid config type")
		}
		return New(context.Background(), c.Secrets.Vault)
	})
}
