package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/movatlas/movements/internal/aggregate"
	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/metrics"
	"github.com/movatlas/movements/pkg/core"
)

// ErrBusy is returned when a download is started while another one runs.
var ErrBusy = errors.New("export already in progress")

// State is a step of the download interaction.
type State int

const (
	Idle State = iota
	Preparing
	Packaging
	SingleFileFallback
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Preparing:
		return "preparing"
	case Packaging:
		return "packaging"
	case SingleFileFallback:
		return "single-file-fallback"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fetcher loads the records for a year range.
type Fetcher interface {
	Fetch(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, rng core.YearRange) ([]core.MovementRecord, error) {
	return f(ctx, rng)
}

// Recorder keeps a ledger of export runs.
type Recorder interface {
	RecordExport(ctx context.Context, run *core.ExportRun) error
}

type multiRecorder []Recorder

func (m multiRecorder) RecordExport(ctx context.Context, run *core.ExportRun) error {
	var errs []error
	for _, r := range m {
		if err := r.RecordExport(ctx, run); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorders fans a run out to every non-nil recorder.
func Recorders(rs ...Recorder) Recorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Request describes one download.
type Request struct {
	Format core.Format
	Scope  core.Scope
	Range  core.YearRange
	Bounds *core.ViewportBounds
	Role   string
}

// Validate checks the request before any fetch happens.
func (r Request) Validate() error {
	if _, err := core.ParseFormat(string(r.Format)); err != nil {
		return err
	}
	if _, err := core.ParseScope(string(r.Scope)); err != nil {
		return err
	}
	return r.Range.Validate()
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithPackager replaces the zip packager.
func WithPackager(p Packager) Option {
	return func(d *Downloader) { d.packager = p }
}

// WithBundle turns zip bundling on or off. Without it the dataset and
// README are delivered as separate files.
func WithBundle(on bool) Option {
	return func(d *Downloader) { d.bundle = on }
}

// WithRecorder records every run.
func WithRecorder(r Recorder) Option {
	return func(d *Downloader) { d.recorder = r }
}

// WithMetrics counts exports and fallbacks.
func WithMetrics(m *metrics.Instruments) Option {
	return func(d *Downloader) { d.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// WithStateHook is called on every state change.
func WithStateHook(fn func(State)) Option {
	return func(d *Downloader) { d.onState = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Downloader) { d.now = now }
}

// Downloader runs the Idle, Preparing, Packaging or SingleFileFallback,
// Idle sequence for one download at a time.
type Downloader struct {
	fetcher   Fetcher
	projector *Projector
	sink      Sink
	packager  Packager
	recorder  Recorder
	metrics   *metrics.Instruments
	logger    *slog.Logger
	onState   func(State)
	now       func() time.Time
	bundle    bool

	mu    sync.Mutex
	state State
}

// NewDownloader creates a downloader delivering to sink.
func NewDownloader(fetcher Fetcher, projector *Projector, sink Sink, opts ...Option) *Downloader {
	d := &Downloader{
		fetcher:   fetcher,
		projector: projector,
		sink:      sink,
		packager:  ZipPackager{},
		logger:    slog.New(slog.DiscardHandler),
		now:       time.Now,
		bundle:    true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State returns the current step.
func (d *Downloader) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Downloader) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	if d.onState != nil {
		d.onState(s)
	}
}

func (d *Downloader) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Idle {
		return false
	}
	d.state = Preparing
	return true
}

// Run performs one download. A fetch or encode failure delivers nothing
// and returns an error. A packaging failure falls back to delivering the
// dataset and README separately and is not an error.
func (d *Downloader) Run(ctx context.Context, req Request) (*core.ExportRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !d.begin() {
		return nil, ErrBusy
	}
	if d.onState != nil {
		d.onState(Preparing)
	}
	defer d.setState(Idle)

	run := &core.ExportRun{
		ID:        uuid.NewString(),
		Format:    req.Format,
		Scope:     req.Scope,
		Range:     req.Range,
		Bounds:    req.Bounds,
		StartedAt: d.now(),
	}
	log := d.logger.With("run", run.ID, "format", req.Format, "scope", req.Scope, "range", req.Range.String())

	err := d.run(ctx, req, run, log)
	run.Duration = d.now().Sub(run.StartedAt)
	if err != nil {
		run.Error = err.Error()
		log.Error("export failed", "error", err)
	} else {
		log.Info("export delivered", "records", run.Records, "bundled", run.Bundled, "files", run.Files)
	}
	d.metrics.Export(ctx, string(req.Format), string(req.Scope), err)

	if d.recorder != nil {
		// a failed run is still recorded
		if rerr := d.recorder.RecordExport(context.WithoutCancel(ctx), run); rerr != nil {
			log.Warn("failed to record export", "error", rerr)
		}
	}
	return run, err
}

func (d *Downloader) run(ctx context.Context, req Request, run *core.ExportRun, log *slog.Logger) error {
	records, err := d.fetcher.Fetch(ctx, req.Range)
	if err != nil {
		return fmt.Errorf("fetching export data: %w", err)
	}
	records = Select(records, req)
	run.Records = len(records)

	data, err := d.projector.Encode(req.Format, records)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", req.Format, err)
	}
	dataset := File{
		Name:        Filename(req.Range, req.Scope, req.Format),
		ContentType: req.Format.ContentType(),
		Data:        data,
	}
	readme := File{
		Name:        ReadmeName,
		ContentType: "text/plain",
		Data: Readme(d.projector.Fields(), ReadmeInfo{
			Format:      req.Format,
			Scope:       req.Scope,
			Range:       req.Range,
			Bounds:      req.Bounds,
			Role:        req.Role,
			Records:     len(records),
			GeneratedAt: run.StartedAt,
		}),
	}

	if d.bundle {
		d.setState(Packaging)
		bundle, err := d.packager.Package(BundleName(req.Range, req.Scope), dataset, readme)
		if err == nil {
			if err := d.sink.Deliver(ctx, bundle); err != nil {
				return fmt.Errorf("delivering %s: %w", bundle.Name, err)
			}
			run.Bundled = true
			run.Files = []string{bundle.Name}
			return nil
		}
		log.Warn("packaging failed, delivering files separately", "error", err)
		d.metrics.Fallback(ctx, string(req.Format))
	}

	d.setState(SingleFileFallback)
	if err := d.sink.Deliver(ctx, dataset); err != nil {
		return fmt.Errorf("delivering %s: %w", dataset.Name, err)
	}
	run.Files = []string{dataset.Name}
	if err := d.sink.Deliver(ctx, readme); err != nil {
		log.Warn("failed to deliver readme", "error", err)
		return nil
	}
	run.Files = append(run.Files, readme.Name)
	return nil
}

// Select applies the request's temporal, role and scope filters. Scope
// visible keeps only records inside the bounds; scope all keeps records
// without coordinates too.
func Select(records []core.MovementRecord, req Request) []core.MovementRecord {
	out := aggregate.ByRole(aggregate.InRange(records, req.Range), req.Role)
	if req.Scope == core.ScopeVisible {
		out = geo.Visible(out, req.Bounds)
	}
	return out
}
