package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/movatlas/movements/internal/config"
	"github.com/movatlas/movements/internal/storage"
	"github.com/movatlas/movements/internal/storage/memory"
	"github.com/movatlas/movements/internal/storage/postgres"
	sqlitestorage "github.com/movatlas/movements/internal/storage/sqlite"
	"github.com/movatlas/movements/pkg/core"
)

// Compile-time interface checks
var (
	_ storage.Backend = (*memory.Backend)(nil)
	_ storage.Backend = (*sqlitestorage.Backend)(nil)
	_ storage.Backend = (*postgres.Backend)(nil)
)

func TestNewBackend_Memory(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{Type: "memory"}, zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, b)
}

func TestNewBackend_SQLite(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{
		Type:   "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ledger.db")},
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.RecordExport(context.Background(), &core.ExportRun{Format: core.FormatCSV}))
	runs, err := b.ListExports(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNewBackend_PostgresFallsBackToSQLite(t *testing.T) {
	b, err := storage.NewBackend(config.StorageConfig{
		Type: "postgres",
		Postgres: config.PostgresConfig{
			Host: "127.0.0.1", Port: "1", Username: "u", Password: "p", Database: "d",
		},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "fallback.db")},
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	pg, ok := b.(*postgres.Backend)
	require.True(t, ok)
	assert.True(t, pg.FellBack())

	require.NoError(t, b.Init())
	defer b.Close()
	require.NoError(t, b.RecordExport(context.Background(), &core.ExportRun{Format: core.FormatGeoJSON}))
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := storage.NewBackend(config.StorageConfig{Type: "mongo"}, zerolog.Nop(), nil)
	assert.Error(t, err)
}
