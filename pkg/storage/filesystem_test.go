package storage

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	key := "logos/user-1/logo.png"
	require.NoError(t, store.PutObject(ctx, key, bytes.NewReader([]byte("png-bytes")), "image/png"))

	exists, err := store.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, err := store.GetObject(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	require.NoError(t, store.DeleteObject(ctx, key))
	exists, err = store.ObjectExists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.NoError(t, store.DeleteObject(ctx, key), "deleting twice is fine")
}

func TestFileSystemStore_NotFound(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.GetObject(context.Background(), "invoices/missing.pdf")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestFileSystemStore_RejectsTraversal(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	err = store.PutObject(context.Background(), "../escape", strings.NewReader("x"), "text/plain")
	assert.Error(t, err)
}

func TestFileSystemStore_PresignUnsupported(t *testing.T) {
	store, err := NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.PresignGet(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ErrPresignUnsupported)
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestConfigTTL(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5*time.Minute, cfg.TTL("user", time.Second))
	assert.Equal(t, time.Second, cfg.TTL("unknown", time.Second))
}
