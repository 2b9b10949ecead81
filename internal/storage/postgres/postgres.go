// Package postgres keeps the export ledger in PostgreSQL through GORM. When
// the server cannot be reached the database manager falls back to SQLite,
// so the ledger keeps working locally.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/movatlas/movements/internal/config"
	"github.com/movatlas/movements/internal/database"
	gormstorage "github.com/movatlas/movements/internal/storage/gorm"
)

// Backend wraps the GORM backend with a managed connection.
type Backend struct {
	*gormstorage.Backend
	manager *database.Manager
}

// New connects using the storage config. cfg.Type should be "postgres";
// cfg.SQLite is used for the fallback.
func New(cfg config.StorageConfig, dbLog zerolog.Logger, log *slog.Logger) (*Backend, error) {
	m := database.NewManager(dbLog)
	if err := m.Connect(cfg); err != nil {
		return nil, fmt.Errorf("failed to connect ledger database: %w", err)
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{DB: m.DB, Logger: log}),
		manager: m,
	}, nil
}

// FellBack reports whether the ledger is on SQLite instead of Postgres.
func (b *Backend) FellBack() bool {
	return b.manager.FellBack
}

// Init migrates through the manager so a failed migration marks the
// connection invalid.
func (b *Backend) Init() error {
	return b.manager.Migrate(&gormstorage.ExportRun{})
}

// Close closes the managed connection.
func (b *Backend) Close() error {
	return b.manager.Close()
}
