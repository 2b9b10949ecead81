// Package source loads normalized movement records from the content API.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/movatlas/movements/internal/aggregate"
	"github.com/movatlas/movements/internal/api"
	"github.com/movatlas/movements/internal/filter"
	"github.com/movatlas/movements/internal/metrics"
	"github.com/movatlas/movements/internal/normalize"
	"github.com/movatlas/movements/pkg/core"
)

// Items is the part of the API client the service uses.
type Items interface {
	Items(ctx context.Context, q api.Query) ([]map[string]any, *api.Meta, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records fetch counts and latency.
func WithMetrics(m *metrics.Instruments) Option {
	return func(s *Service) { s.metrics = m }
}

// WithBaseFilter ANDs expr into every fetch.
func WithBaseFilter(expr filter.Expr) Option {
	return func(s *Service) { s.base = expr }
}

// FetchObserver is told about every content API request.
type FetchObserver func(table string, d time.Duration, rows int, err error)

// WithFetchObserver adds an observer, such as a time series writer.
func WithFetchObserver(fn FetchObserver) Option {
	return func(s *Service) { s.observers = append(s.observers, fn) }
}

// WithVirtualFields adds search field aliases, overriding the built-in
// "person", "place" and "any" aliases when the names collide.
func WithVirtualFields(v map[string][]string) Option {
	return func(s *Service) {
		for name, paths := range v {
			s.virtual[name] = paths
		}
	}
}

// Service fetches and normalizes records.
type Service struct {
	client  Items
	table   string
	parser  *normalize.Parser
	base    filter.Expr
	virtual map[string][]string
	metrics *metrics.Instruments
	logger  *slog.Logger

	observers []FetchObserver
}

// New creates a service reading table through client.
func New(client Items, table string, parser *normalize.Parser, opts ...Option) *Service {
	paths := parser.Paths()
	s := &Service{
		client: client,
		table:  table,
		parser: parser,
		virtual: map[string][]string{
			"person": {paths.PersonName},
			"place":  {paths.PlaceName},
			"any":    {paths.PersonName, paths.PlaceName, paths.Role, paths.Notes},
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Table is the collection read.
func (s *Service) Table() string {
	return s.table
}

// Fetch loads records whose start year lies in rng.
func (s *Service) Fetch(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	return s.fetch(ctx, filter.Between(s.parser.Paths().YearStart, rng.Min, rng.Max))
}

// FetchAll loads every record, dated or not.
func (s *Service) FetchAll(ctx context.Context) ([]core.MovementRecord, error) {
	return s.fetch(ctx, nil)
}

// Search loads records in rng whose field contains text, case-insensitively.
// field may be a virtual alias ("person", "place", "any") or a real path.
func (s *Service) Search(ctx context.Context, rng core.YearRange, field, text string) ([]core.MovementRecord, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	match := filter.ExpandVirtual(filter.IContains(field, text), s.virtual)
	return s.fetch(ctx, filter.AllOf(
		filter.Between(s.parser.Paths().YearStart, rng.Min, rng.Max),
		match,
	))
}

// Domain derives the year domain from the data.
func (s *Service) Domain(ctx context.Context) (core.YearRange, error) {
	records, err := s.FetchAll(ctx)
	if err != nil {
		return core.YearRange{}, err
	}
	d, ok := aggregate.DomainOf(records)
	if !ok {
		return core.YearRange{}, fmt.Errorf("%w: no dated records", core.ErrInvalidRange)
	}
	return d, nil
}

// Roles lists the distinct roles, in the order the API returns them.
func (s *Service) Roles(ctx context.Context) ([]string, error) {
	rolePath := s.parser.Paths().Role
	rows, err := s.query(ctx, api.Query{
		Table:    s.table,
		Fields:   []string{rolePath},
		Distinct: []string{rolePath},
		Sort:     []string{rolePath},
	})
	if err != nil {
		return nil, err
	}
	return aggregate.DistinctRoles(s.parser.NormalizeAll(rows)), nil
}

func (s *Service) fetch(ctx context.Context, expr filter.Expr) ([]core.MovementRecord, error) {
	if s.base != nil {
		if expr == nil {
			expr = s.base
		} else {
			expr = filter.AllOf(s.base, expr)
		}
	}

	q := api.Query{
		Table:  s.table,
		Fields: s.parser.Paths().Fields(),
		Limit:  api.NoLimit,
	}
	if expr != nil {
		f, err := filter.Build(expr)
		if err != nil {
			return nil, fmt.Errorf("building filter: %w", err)
		}
		q.Filter = f
	}

	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.parser.NormalizeAll(rows), nil
}

func (s *Service) query(ctx context.Context, q api.Query) ([]map[string]any, error) {
	start := time.Now()
	rows, meta, err := s.client.Items(ctx, q)
	elapsed := time.Since(start)
	s.metrics.Fetch(ctx, q.Table, elapsed, len(rows), err)
	for _, fn := range s.observers {
		fn(q.Table, elapsed, len(rows), err)
	}
	if err != nil {
		s.logger.Error("content API fetch failed", "table", q.Table, "error", err)
		return nil, fmt.Errorf("fetching %s: %w", q.Table, err)
	}

	args := []any{"table", q.Table, "rows", len(rows), "duration", elapsed}
	if meta != nil && meta.TotalCount != nil {
		args = append(args, "total", *meta.TotalCount)
	}
	s.logger.Debug("content API fetch", args...)
	return rows, nil
}
