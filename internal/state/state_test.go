package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/docchat/internal/config"
	"github.com/capitalize-ai/docchat/pkg/logger"
)

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	s := NewFile(path, logger.NewNop())
	ctx := context.Background()

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	require.NoError(t, s.Save(ctx, []byte(`{"dark_mode":true}`)))

	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dark_mode":true}`, string(data))

	// Saves replace, not append.
	require.NoError(t, s.Save(ctx, []byte(`{"dark_mode":false}`)))
	data, err = s.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"dark_mode":false}`, string(data))
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewSQLite(path, logger.NewNop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoState)

	require.NoError(t, s.Save(ctx, []byte("blob-1")))
	data, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-1"), data)

	require.NoError(t, s.Save(ctx, []byte("blob-2")))
	data, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-2"), data)
}

func TestOpen_SelectsBackend(t *testing.T) {
	dir := t.TempDir()
	log := logger.NewNop()
	ctx := context.Background()

	fileStore, err := Open(ctx, &config.Config{
		StateBackend: "file",
		StatePath:    filepath.Join(dir, "state.json"),
	}, log)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, fileStore)

	sqliteStore, err := Open(ctx, &config.Config{
		StateBackend: "sqlite",
		StatePath:    filepath.Join(dir, "state.db"),
	}, log)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, sqliteStore)
	sqliteStore.Close()

	_, err = Open(ctx, &config.Config{StateBackend: "redis"}, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
