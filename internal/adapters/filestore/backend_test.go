package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "nested", "session.json"))
	require.NoError(t, err)
	return b
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestBackend_RoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "mmk_access_token", "A"))
	v, ok, err := b.Get(ctx, "mmk_access_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	info, err := os.Stat(b.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestBackend_SurvivesReopen(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "k", "v"))

	reopened, err := New(b.Path())
	require.NoError(t, err)
	v, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestBackend_RemoveAndClear(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "a", "1"))
	require.NoError(t, b.Set(ctx, "b", "2"))

	require.NoError(t, b.Remove(ctx, "a"))
	_, ok, err := b.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Clear(ctx))
	_, ok, err = b.Get(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, b.Clear(ctx), "clearing twice is fine")
}

func TestBackend_CorruptFileReadsEmpty(t *testing.T) {
	b := newTestBackend(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(b.Path()), 0o700))
	require.NoError(t, os.WriteFile(b.Path(), []byte("{not json"), 0o600))

	_, ok, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set(context.Background(), "k", "v"))
	v, _, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
