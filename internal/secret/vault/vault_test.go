package vault

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

const versionMeta = `{"created_time":"2024-01-01T00:00:00Z","custom_metadata":null,"deletion_time":"","destroyed":false,"version":1}`

type fakeVault struct {
	mu      sync.Mutex
	data    map[string]map[string]any
	deleted []string
	tokens  []string
}

func (f *fakeVault) handler(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, r.Header.Get("X-Vault-Token"))

	const dataPrefix = "/v1/secret/data/"
	const metaPrefix = "/v1/secret/metadata/"
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/auth/kubernetes/login":
		_, _ = io.WriteString(w, `{"auth":{"client_token":"k8s-issued"}}`)

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, dataPrefix):
		d, ok := f.data[strings.TrimPrefix(r.URL.Path, dataPrefix)]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"errors":[]}`)
			return
		}
		body, _ := json.Marshal(d)
		_, _ = io.WriteString(w, `{"data":{"data":`+string(body)+`,"metadata":`+versionMeta+`}}`)

	case (r.Method == http.MethodPut || r.Method == http.MethodPost) && strings.HasPrefix(r.URL.Path, dataPrefix):
		var in struct {
			Data map[string]any `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		f.data[strings.TrimPrefix(r.URL.Path, dataPrefix)] = in.Data
		_, _ = io.WriteString(w, `{"data":`+versionMeta+`}`)

	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, metaPrefix):
		p := strings.TrimPrefix(r.URL.Path, metaPrefix)
		delete(f.data, p)
		f.deleted = append(f.deleted, p)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func newTestStore(t *testing.T, seed map[string]map[string]any) (*Store, *fakeVault) {
	t.Helper()
	fv := &fakeVault{data: seed}
	if fv.data == nil {
		fv.data = map[string]map[string]any{}
	}
	srv := httptest.NewServer(http.HandlerFunc(fv.handler))
	t.Cleanup(srv.Close)

	st, err := New(context.Background(), config.VaultConfig{Address: srv.URL, Token: "root", Mount: "secret", Field: "value"})
	require.NoError(t, err)
	return st, fv
}

func TestResolve(t *testing.T) {
	st, fv := newTestStore(t, map[string]map[string]any{
		"dsh/tenant-a": {"value": "k-default", "apikey": "k-field"},
	})
	ctx := context.Background()

	s, err := st.Resolve(ctx, secret.Reference{Name: "dsh/tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, "k-default", string(s.Bytes()))

	s, err = st.Resolve(ctx, secret.Reference{Name: "dsh/tenant-a#apikey"})
	require.NoError(t, err)
	assert.Equal(t, "k-field", string(s.Bytes()))

	fv.mu.Lock()
	assert.Contains(t, fv.tokens, "root")
	fv.mu.Unlock()
}

func TestResolveMissing(t *testing.T) {
	st, _ := newTestStore(t, map[string]map[string]any{
		"dsh/tenant-a": {"value": "k"},
	})
	ctx := context.Background()

	for _, name := range []string{"dsh/nope", "dsh/tenant-a#other", "#value"} {
		_, err := st.Resolve(ctx, secret.Reference{Name: name})
		k, ok := failure.KindOf(err)
		require.True(t, ok, name)
		assert.Equal(t, failure.SecretNotFound, k, name)
	}
}

func TestPutDelete(t *testing.T) {
	st, fv := newTestStore(t, nil)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "dsh/tenant-b", []byte("v")))
	s, err := st.Resolve(ctx, secret.Reference{Name: "dsh/tenant-b"})
	require.NoError(t, err)
	assert.Equal(t, "v", string(s.Bytes()))

	require.NoError(t, st.Delete(ctx, "dsh/tenant-b"))
	fv.mu.Lock()
	assert.Equal(t, []string{"dsh/tenant-b"}, fv.deleted)
	fv.mu.Unlock()

	assert.ErrorIs(t, st.Put(ctx, "dsh/x", nil), secret.ErrEmptyValue)
}

func TestKubernetesAuth(t *testing.T) {
	fv := &fakeVault{data: map[string]map[string]any{"dsh/tenant-a": {"value": "k"}}}
	srv := httptest.NewServer(http.HandlerFunc(fv.handler))
	t.Cleanup(srv.Close)

	jwtPath := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(jwtPath, []byte("sa-jwt"), 0o600))

	st, err := New(context.Background(), config.VaultConfig{
		Address: srv.URL,
		Auth:    config.VaultAuthConfig{Method: "kubernetes", Mount: "kubernetes", Role: "fetcher", JWTPath: jwtPath},
	})
	require.NoError(t, err)

	_, err = st.Resolve(context.Background(), secret.Reference{Name: "dsh/tenant-a"})
	require.NoError(t, err)
	fv.mu.Lock()
	assert.Contains(t, fv.tokens, "k8s-issued")
	fv.mu.Unlock()
}

func TestNewWithoutToken(t *testing.T) {
	t.Setenv("VAULT_TOKEN", "")
	_, err := New(context.Background(), config.VaultConfig{Address: "http://127.0.0.1:1"})
	assert.ErrorContains(t, err, "vault auth")
}
