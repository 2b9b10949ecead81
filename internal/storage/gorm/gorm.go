// Package gormstorage implements the export ledger on top of GORM. The
// sqlite and postgres backends embed it and only differ in how the
// connection is opened.
package gormstorage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/movatlas/movements/pkg/core"
)

// ExportRun is the ledger row.
type ExportRun struct {
	ID         string `gorm:"primaryKey;size:36"`
	CreatedAt  time.Time
	StartedAt  time.Time `gorm:"index"`
	DurationMs int64
	Format     string `gorm:"size:16;index"`
	Scope      string `gorm:"size:16"`
	YearMin    int
	YearMax    int
	Bounds     datatypes.JSON
	Records    int
	Bundled    bool
	Files      datatypes.JSON
	Error      string
}

// TableName sets the table name.
func (ExportRun) TableName() string {
	return "export_runs"
}

// FromCore converts a run into its row.
func FromCore(run *core.ExportRun) (ExportRun, error) {
	row := ExportRun{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		DurationMs: run.Duration.Milliseconds(),
		Format:     string(run.Format),
		Scope:      string(run.Scope),
		YearMin:    run.Range.Min,
		YearMax:    run.Range.Max,
		Records:    run.Records,
		Bundled:    run.Bundled,
		Error:      run.Error,
	}
	if run.Bounds != nil {
		b, err := json.Marshal(run.Bounds)
		if err != nil {
			return ExportRun{}, fmt.Errorf("encoding bounds: %w", err)
		}
		row.Bounds = datatypes.JSON(b)
	}
	files := run.Files
	if files == nil {
		files = []string{}
	}
	f, err := json.Marshal(files)
	if err != nil {
		return ExportRun{}, fmt.Errorf("encoding files: %w", err)
	}
	row.Files = datatypes.JSON(f)
	return row, nil
}

// ToCore converts a row back into a run.
func (r ExportRun) ToCore() (core.ExportRun, error) {
	run := core.ExportRun{
		ID:        r.ID,
		Format:    core.Format(r.Format),
		Scope:     core.Scope(r.Scope),
		Range:     core.YearRange{Min: r.YearMin, Max: r.YearMax},
		Records:   r.Records,
		Bundled:   r.Bundled,
		Error:     r.Error,
		StartedAt: r.StartedAt,
		Duration:  time.Duration(r.DurationMs) * time.Millisecond,
	}
	if len(r.Bounds) > 0 && string(r.Bounds) != "null" {
		var b core.ViewportBounds
		if err := json.Unmarshal(r.Bounds, &b); err != nil {
			return core.ExportRun{}, fmt.Errorf("decoding bounds of %s: %w", r.ID, err)
		}
		run.Bounds = &b
	}
	if len(r.Files) > 0 {
		if err := json.Unmarshal(r.Files, &run.Files); err != nil {
			return core.ExportRun{}, fmt.Errorf("decoding files of %s: %w", r.ID, err)
		}
	}
	return run, nil
}

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

// Backend stores runs through GORM.
type Backend struct {
	deps Dependencies
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{deps: deps}
}

// DB exposes the connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init migrates the ledger table.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database")
	}
	if err := b.deps.DB.AutoMigrate(&ExportRun{}); err != nil {
		return fmt.Errorf("failed to migrate export_runs: %w", err)
	}
	b.deps.Logger.Debug("ledger schema ready", "dialect", b.deps.DB.Dialector.Name())
	return nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	if b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordExport inserts a run.
func (b *Backend) RecordExport(ctx context.Context, run *core.ExportRun) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	row, err := FromCore(run)
	if err != nil {
		return err
	}
	if err := b.deps.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("inserting export run: %w", err)
	}
	return nil
}

// ListExports returns runs newest first.
func (b *Backend) ListExports(ctx context.Context, limit int) ([]core.ExportRun, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []ExportRun
	err := b.deps.DB.WithContext(ctx).
		Order("started_at desc").
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing export runs: %w", err)
	}

	out := make([]core.ExportRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.ToCore()
		if err != nil {
			b.deps.Logger.Warn("skipping unreadable export run", "id", r.ID, "error", err)
			continue
		}
		out = append(out, run)
	}
	return out, nil
}
