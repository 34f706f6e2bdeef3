package secret

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
)

// Static keeps secrets in memory. Intended for tests and dry runs.
type Static struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewStatic builds a store seeded with values.
func NewStatic(values map[string]string) *Static {
	s := &Static{values: make(map[string][]byte, len(values))}
	for k, v := range values {
		s.values[k] = []byte(v)
	}
	return s
}

func (s *Static) Resolve(ctx context.Context, ref Reference) (*Secret, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable("mock", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[ref.Name]
	if !ok {
		return nil, NotFound(ref.Name)
	}
	return New(v), nil
}

func (s *Static) Put(_ context.Context, name string, value []byte) error {
	if name == "" {
		return ErrInvalidRef
	}
	if len(value) == 0 {
		return ErrEmptyValue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[name] = append([]byte(nil), value...)
	return nil
}

func (s *Static) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[name]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(s.values, name)
	return nil
}

// Names returns the stored names, sorted.
func (s *Static) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values)), nil
}

func init() {
	Register("mock", func(cfg any) (Store, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("mock: invalid config type")
		}
		return NewStatic(c.Secrets.Mock.Values), nil
	})
}
