package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-identity-service/internal/model"
)

func TestLocalImageStore_RoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalImageStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "profiles/u1/a.jpg", []byte("jpeg-bytes"), ProfileImageContentType))

	rc, err := store.Open(ctx, "profiles/u1/a.jpg")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(body))

	entries, err := os.ReadDir(filepath.Join(root, "profiles", "u1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, store.Delete(ctx, "profiles/u1/a.jpg"))
	require.NoError(t, store.Delete(ctx, "profiles/u1/a.jpg"), "deleting twice is fine")

	_, err = store.Open(ctx, "profiles/u1/a.jpg")
	assert.ErrorIs(t, err, model.ErrImageNotFound)
}

func TestLocalImageStore_RejectsEscapingKeys(t *testing.T) {
	store, err := NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	err = store.Put(context.Background(), "../outside.jpg", []byte("x"), ProfileImageContentType)
	assert.Error(t, err)
}

func TestLocalImageStore_CancelledContext(t *testing.T) {
	store, err := NewLocalImageStore(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Put(ctx, "a.jpg", []byte("x"), ProfileImageContentType), context.Canceled)
}
