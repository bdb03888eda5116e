package storage

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/kbforge/kbforge/pkg/models"
	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_StoreAndRead(t *testing.T) {
	store, err := NewLocal(slog.Default(), t.TempDir(), 0)
	require.NoError(t, err)

	meta, err := store.Store(t.Context(), "kb/manifest.json", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "kb/manifest.json", meta.Path)
	assert.Equal(t, int64(5), meta.Size)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", meta.Checksum)

	data, err := store.Read(t.Context(), "kb/manifest.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestLocal_Quota(t *testing.T) {
	store, err := NewLocal(slog.Default(), t.TempDir(), 10)
	require.NoError(t, err)

	_, err = store.Store(t.Context(), "a.txt", []byte("123456"))
	require.NoError(t, err)

	_, err = store.Store(t.Context(), "b.txt", []byte("123456"))
	require.ErrorIs(t, err, models.ErrResourceLimitExceeded)

	// overwriting a file only counts the difference
	_, err = store.Store(t.Context(), "a.txt", []byte("1234567890"))
	require.NoError(t, err)

	used, err := store.Usage(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(10), used)
}

func TestLocal_RejectsEscapes(t *testing.T) {
	store, err := NewLocal(slog.Default(), t.TempDir(), 0)
	require.NoError(t, err)

	_, err = store.Store(t.Context(), "../outside.txt", []byte("x"))
	require.ErrorIs(t, err, ErrPathOutsideRoot)

	_, err = store.Store(t.Context(), "/etc/passwd", []byte("x"))
	require.ErrorIs(t, err, ErrPathOutsideRoot)
}

func TestLocal_Walk(t *testing.T) {
	source := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(source, "guide"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "intro.md"), []byte("# Intro"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "guide", "setup.md"), []byte("# Setup!"), 0o644))

	store, err := NewLocal(slog.Default(), t.TempDir(), 0)
	require.NoError(t, err)

	found := map[string]int64{}
	err = store.Walk(t.Context(), source, func(info protocol.FileInfo) error {
		found[filepath.ToSlash(info.Path)] = info.Size

		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"intro.md": 7, "guide/setup.md": 8}, found)
}
