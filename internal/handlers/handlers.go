// Package handlers serves aggregated movement data over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/movatlas/movements/internal/aggregate"
	"github.com/movatlas/movements/internal/export"
	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/marker"
	"github.com/movatlas/movements/internal/metrics"
	"github.com/movatlas/movements/pkg/core"
)

// DefaultExportsLimit caps the ledger listing when no limit is given.
const DefaultExportsLimit = 50

// Source loads movement records.
type Source interface {
	Fetch(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error)
	Search(ctx context.Context, rng core.YearRange, field, text string) ([]core.MovementRecord, error)
	Roles(ctx context.Context) ([]string, error)
}

// DefaultSearchField matches person, place, role and notes.
const DefaultSearchField = "any"

var errMissingText = errors.New("missing search text")

// Pinger reports whether the content API is reachable.
type Pinger interface {
	Healthcheck(ctx context.Context) error
}

// Ledger lists past export runs.
type Ledger interface {
	ListExports(ctx context.Context, limit int) ([]core.ExportRun, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Source    Source
	Pinger    Pinger
	Ledger    Ledger
	Recorder  export.Recorder
	Projector *export.Projector
	Metrics   *metrics.Instruments
	Logger    *slog.Logger
	// Domain is the default year range when a request names none.
	Domain core.YearRange
	Bundle bool
	Arrows geo.ArrowStyle
}

// Service provides the HTTP handlers.
type Service struct {
	deps Dependencies
}

// NewService creates a new handler service
func NewService(deps Dependencies) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Projector == nil {
		deps.Projector = export.NewProjector(nil)
	}
	if deps.Arrows == (geo.ArrowStyle{}) {
		deps.Arrows = geo.DefaultArrowStyle
	}
	return &Service{deps: deps}
}

// query is the common filter of every data endpoint.
type query struct {
	Range  core.YearRange
	Bounds *core.ViewportBounds
	Role   string
}

func (s *Service) parseQuery(r *http.Request) (query, error) {
	v := r.URL.Query()
	q := query{Range: s.deps.Domain, Role: v.Get("role")}

	var err error
	if raw := v.Get("from"); raw != "" {
		if q.Range.Min, err = strconv.Atoi(raw); err != nil {
			return q, fmt.Errorf("%w: from %q", core.ErrInvalidRange, raw)
		}
	}
	if raw := v.Get("to"); raw != "" {
		if q.Range.Max, err = strconv.Atoi(raw); err != nil {
			return q, fmt.Errorf("%w: to %q", core.ErrInvalidRange, raw)
		}
	}
	if err := q.Range.Validate(); err != nil {
		return q, err
	}
	q.Range = q.Range.Clamp(s.deps.Domain)
	if q.Bounds, err = geo.ParseBounds(v.Get("bbox")); err != nil {
		return q, err
	}
	return q, nil
}

func (s *Service) load(ctx context.Context, q query) ([]core.MovementRecord, error) {
	records, err := s.deps.Source.Fetch(ctx, q.Range)
	if err != nil {
		return nil, err
	}
	return aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role), nil
}

// Health reports service status and, when a pinger is set, content API
// reachability.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	if s.deps.Pinger != nil {
		if err := s.deps.Pinger.Healthcheck(r.Context()); err != nil {
			body["status"] = "degraded"
			body["contentApi"] = err.Error()
			respondWithJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["contentApi"] = "ok"
	}
	respondWithJSON(w, http.StatusOK, body)
}

// GetAggregates returns year and place counts.
func (s *Service) GetAggregates(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", err)
		return
	}
	records, err := s.deps.Source.Fetch(r.Context(), q.Range)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Failed to fetch movements", err)
		return
	}
	domain := s.deps.Domain
	result := aggregate.Aggregate(records, aggregate.Options{Range: q.Range, Domain: &domain, Role: q.Role})
	counts := geo.CountVisible(aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role), q.Bounds)

	respondWithJSON(w, http.StatusOK, map[string]any{
		"range":  q.Range,
		"years":  result.Years,
		"places": result.Places,
		"total":  result.Total,
		"counts": counts,
	})
}

// GetMarkers returns the grouped markers. An asOf year keeps only
// movements started by then.
func (s *Service) GetMarkers(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", err)
		return
	}
	records, err := s.load(r.Context(), q)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Failed to fetch movements", err)
		return
	}

	groups := marker.Build(records)
	if raw := r.URL.Query().Get("asOf"); raw != "" {
		year, err := strconv.Atoi(raw)
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "Invalid asOf year", err)
			return
		}
		groups = marker.AsOf(groups, year)
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"range":   q.Range,
		"markers": groups,
		"counts":  geo.CountVisible(records, q.Bounds),
	})
}

// GetSearch returns the records in range whose field contains text, with
// their markers. field defaults to "any".
func (s *Service) GetSearch(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", err)
		return
	}
	v := r.URL.Query()
	text := strings.TrimSpace(v.Get("text"))
	if text == "" {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", errMissingText)
		return
	}
	field := defaultString(v.Get("field"), DefaultSearchField)

	records, err := s.deps.Source.Search(r.Context(), q.Range, field, text)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Search failed", err)
		return
	}
	records = aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role)

	respondWithJSON(w, http.StatusOK, map[string]any{
		"range":   q.Range,
		"field":   field,
		"text":    text,
		"records": records,
		"markers": marker.Build(records),
		"counts":  geo.CountVisible(records, q.Bounds),
	})
}

// GetRoles lists the distinct roles.
func (s *Service) GetRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.deps.Source.Roles(r.Context())
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Failed to fetch roles", err)
		return
	}
	if roles == nil {
		roles = []string{}
	}
	respondWithJSON(w, http.StatusOK, roles)
}

// GetTrajectory returns the movement arrows as a GeoJSON FeatureCollection.
func (s *Service) GetTrajectory(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", err)
		return
	}
	records, err := s.load(r.Context(), q)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadGateway, "Failed to fetch movements", err)
		return
	}
	data, err := geo.LegsGeoJSON(geo.Trajectory(marker.Build(records), s.deps.Arrows))
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to encode trajectory", err)
		return
	}
	w.Header().Set("Content-Type", core.FormatGeoJSON.ContentType())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GetExport runs one download and streams the result. A bundled run
// returns the zip; a fallback run returns the dataset file alone.
func (s *Service) GetExport(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseQuery(r)
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid query", err)
		return
	}
	v := r.URL.Query()
	format, err := core.ParseFormat(defaultString(v.Get("format"), string(core.FormatCSV)))
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid format", err)
		return
	}
	scope, err := core.ParseScope(defaultString(v.Get("scope"), string(core.ScopeAll)))
	if err != nil {
		s.respondWithError(w, r, http.StatusBadRequest, "Invalid scope", err)
		return
	}

	sink := &export.MemorySink{}
	opts := []export.Option{
		export.WithBundle(s.deps.Bundle),
		export.WithMetrics(s.deps.Metrics),
		export.WithLogger(s.deps.Logger),
	}
	if s.deps.Recorder != nil {
		opts = append(opts, export.WithRecorder(s.deps.Recorder))
	}
	d := export.NewDownloader(s.deps.Source, s.deps.Projector, sink, opts...)

	run, err := d.Run(r.Context(), export.Request{
		Format: format,
		Scope:  scope,
		Range:  q.Range,
		Bounds: q.Bounds,
		Role:   q.Role,
	})
	if err != nil {
		code := http.StatusBadGateway
		if isClientError(err) {
			code = http.StatusBadRequest
		}
		s.respondWithError(w, r, code, "Export failed", err)
		return
	}

	files := sink.Files()
	if len(files) == 0 {
		s.respondWithError(w, r, http.StatusInternalServerError, "Export produced no file", nil)
		return
	}
	f := files[0]
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, f.Name))
	w.Header().Set("X-Export-Run", run.ID)
	w.Header().Set("X-Export-Records", strconv.Itoa(run.Records))
	if !run.Bundled {
		w.Header().Set("X-Export-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}

// ListExports returns the export ledger, newest first.
func (s *Service) ListExports(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		respondWithJSON(w, http.StatusOK, []exportRunJSON{})
		return
	}
	limit := DefaultExportsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.respondWithError(w, r, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}
	runs, err := s.deps.Ledger.ListExports(r.Context(), limit)
	if err != nil {
		s.respondWithError(w, r, http.StatusInternalServerError, "Failed to list exports", err)
		return
	}
	out := make([]exportRunJSON, len(runs))
	for i, run := range runs {
		out[i] = toExportRunJSON(run)
	}
	respondWithJSON(w, http.StatusOK, out)
}

type exportRunJSON struct {
	ID         string               `json:"id"`
	Format     core.Format          `json:"format"`
	Scope      core.Scope           `json:"scope"`
	Range      core.YearRange       `json:"range"`
	Bounds     *core.ViewportBounds `json:"bounds,omitempty"`
	Records    int                  `json:"records"`
	Bundled    bool                 `json:"bundled"`
	Files      []string             `json:"files"`
	Error      string               `json:"error,omitempty"`
	StartedAt  string               `json:"startedAt"`
	DurationMs int64                `json:"durationMs"`
}

func toExportRunJSON(run core.ExportRun) exportRunJSON {
	return exportRunJSON{
		ID:         run.ID,
		Format:     run.Format,
		Scope:      run.Scope,
		Range:      run.Range,
		Bounds:     run.Bounds,
		Records:    run.Records,
		Bundled:    run.Bundled,
		Files:      run.Files,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		DurationMs: run.Duration.Milliseconds(),
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Failed to marshal response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

func (s *Service) respondWithError(w http.ResponseWriter, r *http.Request, code int, message string, err error) {
	response := map[string]string{"error": message}
	if err != nil {
		response["detail"] = err.Error()
	}
	if code >= 500 {
		s.deps.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", code, "error", err)
	} else {
		s.deps.Logger.DebugContext(r.Context(), "bad request", "path", r.URL.Path, "error", err)
	}
	respondWithJSON(w, code, response)
}

// isClientError reports whether err came from bad request input.
func isClientError(err error) bool {
	return errors.Is(err, core.ErrInvalidRange) ||
		errors.Is(err, core.ErrUnknownFormat) ||
		errors.Is(err, core.ErrUnknownScope)
}
