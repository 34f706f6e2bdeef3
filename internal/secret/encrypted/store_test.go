package encrypted

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/config"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/failure"
	"github.com/Chapsvision-dev/dsh-token-fetcher/internal/secret"
)

func init() {
	// Keep tests fast.
	kdfMemory = 8 * 1024
	kdfThreads = 1
}

func openTemp(t *testing.T, path, pass string) *Store {
	t.Helper()
	st, err := Open(context.Background(), path, []byte(pass))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPutResolveDelete(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "s.db"), "pw")
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "tenant-a", []byte("k1")))
	require.NoError(t, st.Put(ctx, "tenant-a", []byte("k2")), "upsert")

	s, err := st.Resolve(ctx, secret.Reference{Name: "tenant-a"})
	require.NoError(t, err)
	assert.Equal(t, "k2", string(s.Bytes()))

	names, err := st.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a"}, names)

	require.NoError(t, st.Delete(ctx, "tenant-a"))
	assert.ErrorIs(t, st.Delete(ctx, "tenant-a"), secret.ErrNotFound)

	_, err = st.Resolve(ctx, secret.Reference{Name: "tenant-a"})
	k, _ := failure.KindOf(err)
	assert.Equal(t, failure.SecretNotFound, k)
}

func TestValuesAreSealedAtRest(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "s.db"), "pw")
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "a", []byte("plain-value")))

	var row secretRow
	require.NoError(t, st.db.NewSelect().Model(&row).Where("name = ?", "a").Scan(ctx))
	assert.NotContains(t, string(row.Cipher), "plain-value")
}

func TestReopenWithWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.db")
	ctx := context.Background()

	st, err := Open(ctx, path, []byte("right"))
	require.NoError(t, err)
	require.NoError(t, st.Put(ctx, "a", []byte("v")))
	require.NoError(t, st.Close())

	again := openTemp(t, path, "right")
	s, err := again.Resolve(ctx, secret.Reference{Name: "a"})
	require.NoError(t, err)
	assert.Equal(t, "v", string(s.Bytes()))
	require.NoError(t, again.Close())

	wrong := openTemp(t, path, "wrong")
	_, err = wrong.Resolve(ctx, secret.Reference{Name: "a"})
	k, ok := failure.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, failure.SecretNotFound, k)
}

func TestSwappedRowsFailToOpen(t *testing.T) {
	st := openTemp(t, filepath.Join(t.TempDir(), "s.db"), "pw")
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "a", []byte("va")))
	require.NoError(t, st.Put(ctx, "b", []byte("vb")))

	_, err := st.db.NewUpdate().Model((*secretRow)(nil)).
		Set("name = ?", "c").Where("name = ?", "a").Exec(ctx)
	require.NoError(t, err)

	_, err = st.Resolve(ctx, secret.Reference{Name: "c"})
	assert.Error(t, err)
}

func TestOpenRequiresPassphrase(t *testing.T) {
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "s.db"), nil)
	assert.ErrorIs(t, err, ErrEmptyPassphrase)
}

func TestRegisteredFactoryReadsPassphraseEnv(t *testing.T) {
	cfg := config.Defaults()
	cfg.Secrets.Encrypted.Path = filepath.Join(t.TempDir(), "s.db")
	cfg.Secrets.Encrypted.PassphraseEnv = "TOKENFETCH_TEST_PASSPHRASE"

	t.Setenv("TOKENFETCH_TEST_PASSPHRASE", "")
	_, err := secret.Open("encrypted", cfg)
	assert.Error(t, err)

	t.Setenv("TOKENFETCH_TEST_PASSPHRASE", "pw")
	st, err := secret.Open("encrypted", cfg)
	require.NoError(t, err)
	assert.NoError(t, st.(*Store).Close())
}
