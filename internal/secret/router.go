package secret

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
)

// Router dispatches references to backends by hint, falling back to a default.
type Router struct {
	def      string
	backends map[string]Store
	broken   map[string]error
}

// NewRouter wraps already opened backends.
func NewRouter(def string, backends map[string]Store) *Router {
	if backends == nil {
		backends = map[string]Store{}
	}
	return &Router{def: def, backends: backends, broken: map[string]error{}}
}

// OpenRouter opens the default backend plus every backend named by refs.
// A backend that fails to open is remembered; references to it resolve
// to SecretNotFound instead of failing the whole batch.
func OpenRouter(cfg config.Config, refs []Reference) *Router {
	r := NewRouter(cfg.Secrets.Backend, nil)
	names := []string{cfg.Secrets.Backend}
	for _, ref := range refs {
		if ref.Backend != "" {
			names = append(names, ref.Backend)
		}
	}
	for _, name := range names {
		if _, ok := r.backends[name]; ok {
			continue
		}
		if _, ok := r.broken[name]; ok {
			continue
		}
		st, err := Open(name, cfg)
		if err != nil {
			log.Warn().Err(err).Str("action", "secret_open").Str("backend", name).Msg("secret backend unavailable")
			r.broken[name] = err
			continue
		}
		log.Debug().Str("action", "secret_open").Str("backend", name).Msg("secret backend opened")
		r.backends[name] = st
	}
	return r
}

func (r *Router) backend(hint string) (string, Store, error) {
	name := hint
	if name == "" {
		name = r.def
	}
	if st, ok := r.backends[name]; ok {
		return name, st, nil
	}
	if err, ok := r.broken[name]; ok {
		return name, nil, err
	}
	return name, nil, fmt.Errorf("%w: %s", ErrNotConfigured, name)
}

// Resolve implements Store.
func (r *Router) Resolve(ctx context.Context, ref Reference) (*Secret, error) {
	name, st, err := r.backend(ref.Backend)
	if err != nil {
		return nil, failure.New(failure.SecretNotFound, fmt.Errorf("backend %s: %w", name, err))
	}
	s, err := st.Resolve(ctx, ref)
	if err != nil {
		return nil, failure.Classify(err, failure.SecretNotFound)
	}
	return s, nil
}

// Writer returns the writable backend for hint (or the default).
func (r *Router) Writer(hint string) (Writer, error) {
	name, st, err := r.backend(hint)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	w, ok := st.(Writer)
	if !ok {
		return nil, fmt.Errorf("backend %s: %w", name, ErrReadOnly)
	}
	return w, nil
}

// Lister returns the enumerable backend for hint (or the default).
func (r *Router) Lister(hint string) (Lister, error) {
	name, st, err := r.backend(hint)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	l, ok := st.(Lister)
	if !ok {
		return nil, fmt.Errorf("backend %s: %w", name, ErrNotListable)
	}
	return l, nil
}

// Close closes every backend that holds resources.
func (r *Router) Close() error {
	var errs []error
	for name, st := range r.backends {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}
