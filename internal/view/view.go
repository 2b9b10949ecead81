// Package view holds the interactive state of a movements map: the year
// range, the viewport, the fetched records and everything derived from
// them. Derived data is recomputed on every state change.
package view

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/movatlas/movements/internal/aggregate"
	"github.com/movatlas/movements/internal/export"
	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/marker"
	"github.com/movatlas/movements/pkg/core"
)

// ErrStale is returned by Refresh when a newer refresh was started while
// this one was fetching. Its result is discarded.
var ErrStale = errors.New("superseded by a newer request")

// ErrNoGroup is returned when a marker index is out of range.
var ErrNoGroup = errors.New("no such marker")

// Fetcher loads the records for a year range.
type Fetcher interface {
	Fetch(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error)
}

// Snapshot is a consistent copy of the view.
type Snapshot struct {
	Range      core.YearRange       `json:"range"`
	Domain     core.YearRange       `json:"domain"`
	Bounds     *core.ViewportBounds `json:"bounds"`
	Role       string               `json:"role,omitempty"`
	Aggregates aggregate.Result     `json:"aggregates"`
	Groups     []*marker.Group      `json:"groups"`
	Counts     geo.Counts           `json:"counts"`
	Generation uint64               `json:"generation"`
	Error      string               `json:"error,omitempty"`
}

// View is safe for concurrent use.
type View struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu       sync.Mutex
	domain   core.YearRange
	rng      core.YearRange
	bounds   *core.ViewportBounds
	role     string
	records  []core.MovementRecord
	filtered []core.MovementRecord
	groups   []*marker.Group
	agg      aggregate.Result
	counts   geo.Counts
	issued   uint64
	applied  uint64
	lastErr  error
}

// New creates a view over domain with the range set to the whole domain.
func New(fetcher Fetcher, domain core.YearRange, logger *slog.Logger) (*View, error) {
	if err := domain.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	v := &View{
		fetcher: fetcher,
		logger:  logger,
		domain:  domain,
		rng:     domain,
	}
	v.recompute()
	return v, nil
}

// SetRange changes the year range, clamped to the domain, and recomputes
// from the records already held. Call Refresh to refetch.
func (v *View) SetRange(rng core.YearRange) (core.YearRange, error) {
	if err := rng.Validate(); err != nil {
		return core.YearRange{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rng = rng.Clamp(v.domain)
	v.recompute()
	return v.rng, nil
}

// SetDomain replaces the domain and clamps the range into it.
func (v *View) SetDomain(domain core.YearRange) error {
	if err := domain.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.domain = domain
	v.rng = v.rng.Clamp(domain)
	v.recompute()
	return nil
}

// SetBounds changes the viewport. Nil clears it. Bounds only affect the
// visible count, never the data.
func (v *View) SetBounds(b *core.ViewportBounds) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b != nil {
		cp := *b
		b = &cp
	}
	v.bounds = b
	v.counts = geo.CountVisible(v.filtered, v.bounds)
}

// SetRole narrows everything derived to one role. Empty clears it.
func (v *View) SetRole(role string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.role = role
	v.recompute()
}

// Refresh fetches records for the current range. Only the most recently
// started refresh may apply its result; an older one that finishes later
// returns ErrStale and changes nothing. A failed fetch keeps the previous
// data and records the error.
func (v *View) Refresh(ctx context.Context) error {
	v.mu.Lock()
	v.issued++
	gen := v.issued
	rng := v.rng
	v.mu.Unlock()

	records, err := v.fetcher.Fetch(ctx, rng)

	v.mu.Lock()
	defer v.mu.Unlock()
	if gen != v.issued {
		v.logger.Debug("discarding stale response", "generation", gen, "latest", v.issued)
		return ErrStale
	}
	v.applied = gen
	if err != nil {
		v.lastErr = err
		v.logger.Warn("refresh failed", "range", rng.String(), "error", err)
		return err
	}
	v.lastErr = nil
	v.records = records
	v.recompute()
	v.logger.Debug("view refreshed", "range", rng.String(), "records", len(records), "groups", len(v.groups))
	return nil
}

// recompute must be called with mu held.
func (v *View) recompute() {
	v.filtered = aggregate.ByRole(aggregate.InRange(v.records, v.rng), v.role)
	domain := v.domain
	v.agg = aggregate.Aggregate(v.records, aggregate.Options{Range: v.rng, Domain: &domain, Role: v.role})
	v.groups = marker.Build(v.filtered)
	v.counts = geo.CountVisible(v.filtered, v.bounds)
}

// Next advances the cursor of marker i. It reports whether it moved.
func (v *View) Next(i int) (bool, error) {
	return v.step(i, (*marker.Group).Next)
}

// Prev moves the cursor of marker i back. It reports whether it moved.
func (v *View) Prev(i int) (bool, error) {
	return v.step(i, (*marker.Group).Prev)
}

func (v *View) step(i int, move func(*marker.Group) bool) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.groups) {
		return false, fmt.Errorf("%w: %d of %d", ErrNoGroup, i, len(v.groups))
	}
	return move(v.groups[i]), nil
}

// Group returns a copy of marker i.
func (v *View) Group(i int) (*marker.Group, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.groups) {
		return nil, fmt.Errorf("%w: %d of %d", ErrNoGroup, i, len(v.groups))
	}
	return v.groups[i].Clone(), nil
}

// Records returns the records inside the current range and role.
func (v *View) Records() []core.MovementRecord {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]core.MovementRecord(nil), v.filtered...)
}

// Snapshot copies the current state.
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()

	groups := make([]*marker.Group, len(v.groups))
	for i, g := range v.groups {
		groups[i] = g.Clone()
	}
	s := Snapshot{
		Range:      v.rng,
		Domain:     v.domain,
		Role:       v.role,
		Aggregates: v.agg,
		Groups:     groups,
		Counts:     v.counts,
		Generation: v.applied,
	}
	if v.bounds != nil {
		b := *v.bounds
		s.Bounds = &b
	}
	if v.lastErr != nil {
		s.Error = v.lastErr.Error()
	}
	return s
}

// ExportRequest builds a download request for the current state.
func (v *View) ExportRequest(format core.Format, scope core.Scope) export.Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	req := export.Request{
		Format: format,
		Scope:  scope,
		Range:  v.rng,
		Role:   v.role,
	}
	if v.bounds != nil {
		b := *v.bounds
		req.Bounds = &b
	}
	return req
}
