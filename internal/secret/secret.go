// Package secret resolves credential references against pluggable backends.
package secret

import (
	"context"
	"strings"
	"sync"
)

const redacted = "[redacted]"

// Reference names a secret and, optionally, the backend holding it.
// Textual form: "backend:name" or "name".
type Reference struct {
	Name    string
	Backend string
}

// ParseReference parses "backend:name" or "name". Only a known backend
// prefix is split off so names may contain colons.
func ParseReference(s string) (Reference, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Reference{}, ErrInvalidRef
	}
	if b, name, ok := strings.Cut(s, ":"); ok && isBackendName(b) {
		if strings.TrimSpace(name) == "" {
			return Reference{}, ErrInvalidRef
		}
		return Reference{Name: name, Backend: b}, nil
	}
	return Reference{Name: s}, nil
}

func (r Reference) String() string {
	if r.Backend == "" {
		return r.Name
	}
	return r.Backend + ":" + r.Name
}

// Secret holds credential bytes until Destroy is called.
// It never renders its value through fmt or encoding/json.
type Secret struct {
	mu sync.Mutex
	b  []byte
}

// New copies b into a new Secret.
func New(b []byte) *Secret {
	return &Secret{b: append([]byte(nil), b...)}
}

// FromString builds a Secret from a string value.
func FromString(s string) *Secret {
	return &Secret{b: []byte(s)}
}

// Bytes returns a copy of the value, or nil once destroyed.
func (s *Secret) Bytes() []byte {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.b == nil {
		return nil
	}
	return append([]byte(nil), s.b...)
}

// Destroy zeroes the buffer. Safe to call more than once.
func (s *Secret) Destroy() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.b {
		s.b[i] = 0
	}
	s.b = nil
}

// Destroyed reports whether Destroy has been called.
func (s *Secret) Destroyed() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b == nil
}

func (s *Secret) String() string   { return redacted }
func (s *Secret) GoString() string { return redacted }

func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Store resolves references to secret values.
// Errors are *failure.Error of kind SecretNotFound or Timeout.
type Store interface {
	Resolve(ctx context.Context, ref Reference) (*Secret, error)
}

// Writer is implemented by backends that can be written to.
type Writer interface {
	Put(ctx context.Context, name string, value []byte) error
	Delete(ctx context.Context, name string) error
}

// Lister is implemented by backends that can enumerate their entries.
type Lister interface {
	Names(ctx context.Context) ([]string, error)
}
