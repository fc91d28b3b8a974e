package storage_test

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"narrator-server/internal/storage"
)

func TestFileImageStore_SaveImage(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileImageStore(dir, "http://localhost:8080/images/", zap.NewNop())
	require.NoError(t, err)

	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	url, err := store.SaveImage("game-1", 3, base64.StdEncoding.EncodeToString(payload), "jpeg")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/images/game-1-turn-3.jpeg", url)

	written, err := os.ReadFile(filepath.Join(dir, "game-1-turn-3.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, payload, written)
}

func TestFileImageStore_DefaultsFormat(t *testing.T) {
	dir := t.TempDir()
	store, err := storage.NewFileImageStore(dir, "http://host/images", zap.NewNop())
	require.NoError(t, err)

	url, err := store.SaveImage("game-1", 1, base64.StdEncoding.EncodeToString([]byte("x")), "")
	require.NoError(t, err)
	assert.Equal(t, "http://host/images/game-1-turn-1.jpeg", url)
}

func TestFileImageStore_RejectsBadPayloads(t *testing.T) {
	store, err := storage.NewFileImageStore(t.TempDir(), "http://host/images", zap.NewNop())
	require.NoError(t, err)

	_, err = store.SaveImage("game-1", 1, "not base64!!", "jpeg")
	assert.ErrorIs(t, err, storage.ErrImageSaveFailed)

	_, err = store.SaveImage("game-1", 1, "", "jpeg")
	assert.ErrorIs(t, err, storage.ErrImageSaveFailed)
}

func TestNewFileImageStore_RequiresConfiguration(t *testing.T) {
	_, err := storage.NewFileImageStore("", "http://host/images", zap.NewNop())
	assert.Error(t, err)

	_, err = storage.NewFileImageStore(t.TempDir(), "", zap.NewNop())
	assert.Error(t, err)
}

func TestFileImageStore_CreatesSaveDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "images")
	_, err := storage.NewFileImageStore(dir, "http://host/images", zap.NewNop())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
