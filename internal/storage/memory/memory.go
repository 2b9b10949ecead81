// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/movatlas/movements/pkg/core"
)

// DefaultCapacity bounds how many runs are kept.
const DefaultCapacity = 1000

// Backend keeps the export ledger in memory. Oldest runs are dropped once
// capacity is reached.
type Backend struct {
	capacity int
	runs     []core.ExportRun
	mu       sync.RWMutex
}

// New creates a new memory backend. capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Backend {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Backend{capacity: capacity}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// RecordExport stores a copy of run.
func (b *Backend) RecordExport(ctx context.Context, run *core.ExportRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	cp := *run
	cp.Files = append([]string(nil), run.Files...)
	if run.Bounds != nil {
		b := *run.Bounds
		cp.Bounds = &b
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs = append(b.runs, cp)
	if over := len(b.runs) - b.capacity; over > 0 {
		b.runs = append(b.runs[:0:0], b.runs[over:]...)
	}
	return nil
}

// ListExports returns runs newest first.
func (b *Backend) ListExports(ctx context.Context, limit int) ([]core.ExportRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	out := make([]core.ExportRun, len(b.runs))
	copy(out, b.runs)
	b.mu.RUnlock()

	// reverse insertion order, then a stable sort keeps it for equal times
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
