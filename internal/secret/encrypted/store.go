// Package encrypted keeps secrets in a local SQLite file, sealed with
// XChaCha20-Poly1305 under a passphrase-derived key.
package encrypted

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

const (
	saltKey  = "salt"
	saltSize = 16
)

// KDF parameters (Argon2id).
var (
	kdfTime    uint32 = 1
	kdfMemory  uint32 = 64 * 1024
	kdfThreads uint8  = 4
)

var ErrEmptyPassphrase = errors.New("encrypted: empty passphrase")

type secretRow struct {
	bun.BaseModel `bun:"table:secrets"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:",notnull,unique"`
	Cipher    []byte    `bun:",notnull"`
	Nonce     []byte    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type metaRow struct {
	bun.BaseModel `bun:"table:store_meta"`

	Key   string `bun:",pk"`
	Value []byte `bun:",notnull"`
}

type cipherSuite interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// Store is a file-backed encrypted secret store.
type Store struct {
	db   *bun.DB
	aead cipherSuite
	now  func() time.Time
}

// Open opens (or creates) the store at path and derives its key from passphrase.
func Open(ctx context.Context, path string, passphrase []byte) (*Store, error) {
	if len(passphrase) == 0 {
		return nil, ErrEmptyPassphrase
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("encrypted: path required")
	}

	sqldb, err := sql.Open(sqliteshim.DriverName(), path)
	if err != nil {
		return nil, fmt.Errorf("encrypted: open sqlite: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())

	s, err := initStore(ctx, db, passphrase)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug().Str("action", "secret_open").Str("backend", "encrypted").Str("path", path).Msg("encrypted store ready")
	return s, nil
}

func initStore(ctx context.Context, db *bun.DB, passphrase []byte) (*Store, error) {
	for _, model := range []any{(*secretRow)(nil), (*metaRow)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return nil, fmt.Errorf("encrypted: create table: %w", err)
		}
	}

	salt, err := loadSalt(ctx, db)
	if err != nil {
		return nil, err
	}
	key := argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, aead: aead, now: func() time.Time { return time.Now().UTC() }}, nil
}

// loadSalt returns the per-file salt, creating it on first use.
func loadSalt(ctx context.Context, db *bun.DB) ([]byte, error) {
	var m metaRow
	err := db.NewSelect().Model(&m).Where("key = ?", saltKey).Limit(1).Scan(ctx)
	if err == nil {
		return m.Value, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("encrypted: read salt: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("encrypted: salt: %w", err)
	}
	m = metaRow{Key: saltKey, Value: salt}
	if _, err := db.NewInsert().Model(&m).Exec(ctx); err != nil {
		return nil, fmt.Errorf("encrypted: write salt: %w", err)
	}
	return salt, nil
}

func (s *Store) Resolve(ctx context.Context, ref secret.Reference) (*secret.Secret, error) {
	var row secretRow
	err := s.db.NewSelect().Model(&row).Where("name = ?", ref.Name).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, secret.NotFound(ref.Name)
	}
	if err != nil {
		return nil, secret.Unavailable("encrypted read", err)
	}
	// The name is bound as additional data so rows cannot be swapped.
	plain, err := s.aead.Open(nil, row.Nonce, row.Cipher, []byte(row.Name))
	if err != nil {
		return nil, secret.Unavailable("encrypted decrypt", err)
	}
	out := secret.New(plain)
	for i := range plain {
		plain[i] = 0
	}
	return out, nil
}

func (s *Store) Put(ctx context.Context, name string, value []byte) error {
	if strings.TrimSpace(name) == "" {
		return secret.ErrInvalidRef
	}
	if len(value) == 0 {
		return secret.ErrEmptyValue
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("encrypted: nonce: %w", err)
	}
	now := s.now()
	row := secretRow{
		Name:      name,
		Cipher:    s.aead.Seal(nil, nonce, value, []byte(name)),
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.NewInsert().
		Model(&row).
		On("CONFLICT (name) DO UPDATE").
		Set("cipher = EXCLUDED.cipher").
		Set("nonce = EXCLUDED.nonce").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("encrypted: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	res, err := s.db.NewDelete().
		Model((*secretRow)(nil)).
		Where("name = ?", name).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("encrypted: delete: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %q", secret.ErrNotFound, name)
	}
	return nil
}

// Names lists stored secret names.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().Model((*secretRow)(nil)).Column("name").Order("name ASC").Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("encrypted: list: %w", err)
	}
	return names, nil
}

func (s *Store) Close() error { return s.db.Close() }

func init() {
	secret.Register("encrypted", func(cfg any) (secret.Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("encrypted: invalid config type")
		}
		pass, err := c.Secrets.Encrypted.Passphrase()
		if err != nil {
			return nil, err
		}
		return Open(context.Background(), c.Secrets.Encrypted.Path, []byte(pass))
	})
}
