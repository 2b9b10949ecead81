// internal/storage/storage.go
package storage

import (
	"context"

	"github.com/movatlas/movements/pkg/core"
)

// Backend is the interface all export ledger implementations must satisfy.
// Only export metadata is stored; movement records always come from the
// content API.
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// RecordExport stores a finished run. A run with an empty ID is
	// assigned one.
	RecordExport(ctx context.Context, run *core.ExportRun) error
	// ListExports returns the newest runs first. limit <= 0 means all.
	ListExports(ctx context.Context, limit int) ([]core.ExportRun, error)
}
