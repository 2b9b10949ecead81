package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/movatlas/movements/internal/api"
	"github.com/movatlas/movements/internal/config"
	"github.com/movatlas/movements/internal/export"
	"github.com/movatlas/movements/internal/influx"
	"github.com/movatlas/movements/internal/logging"
	"github.com/movatlas/movements/internal/metrics"
	"github.com/movatlas/movements/internal/normalize"
	"github.com/movatlas/movements/internal/source"
	"github.com/movatlas/movements/internal/storage"
	"github.com/movatlas/movements/pkg/core"
)

// application is everything a command needs, built once from config.
type application struct {
	logs   *logging.SlogManager
	logger *slog.Logger
	zlog   zerolog.Logger

	client    *api.Client
	source    *source.Service
	projector *export.Projector
	metrics   *metrics.Instruments
	ledger    storage.Backend
	influx    *influx.Manager
	recorder  export.Recorder

	timeline  config.TimelineConfig
	exportCfg config.ExportConfig
	serverCfg config.ServerConfig

	closers []io.Closer
}

// newApplication loads configuration from dir and wires logging, the
// content API source, the export ledger and the optional InfluxDB sink.
// A missing config file is logged and the defaults are used.
func newApplication(ctx context.Context, dir, level string) (*application, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfgErr := config.Load(dir)
	if level == "" {
		level = config.GetString("logLevel")
	}

	app := &application{
		logs:      logging.NewSlogManager(),
		timeline:  config.GetTimelineConfig(),
		exportCfg: config.GetExportConfig(),
		serverCfg: config.GetServerConfig(),
	}

	// logs never go to stdout, which carries command output
	var logOut io.Writer = os.Stderr
	if logsDir := config.GetString("logsDir"); logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs directory: %w", err)
		}
		f, err := os.OpenFile(logging.LogFilePath(logsDir, "movements", time.Now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		app.closers = append(app.closers, f)
		logOut = f
	}

	var extra []slog.Handler
	var graylogErr error
	if gl := config.GetGraylogConfig(); gl.Enabled {
		h, closer, err := logging.NewGraylogHandler(gl.Address, level)
		if err != nil {
			graylogErr = err
		} else {
			extra = append(extra, h)
			app.closers = append(app.closers, closer)
		}
	}
	app.logs.Setup(logOut, level, extra...)
	app.logger = app.logs.Logger()
	app.zlog = logging.NewZerolog(logOut, level)

	if cfgErr != nil {
		app.logger.Warn("config file not loaded, using defaults", "dir", dir, "error", cfgErr)
	}
	if graylogErr != nil {
		app.logger.Warn("graylog output disabled", "error", graylogErr)
	}

	if err := app.wire(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire(ctx context.Context) error {
	inst, err := metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}
	a.metrics = inst

	fields, err := export.LoadFields(a.exportCfg.FieldsFile)
	if err != nil {
		return err
	}
	a.projector = export.NewProjector(fields)
	if a.exportCfg.GeometryPath != "" {
		a.projector = a.projector.WithGeometryPath(a.exportCfg.GeometryPath)
	}

	ledger, err := storage.NewBackend(config.GetStorageConfig(), a.zlog, a.logs.Component("storage"))
	if err != nil {
		return fmt.Errorf("failed to create export ledger: %w", err)
	}
	if err := ledger.Init(); err != nil {
		return fmt.Errorf("failed to initialize export ledger: %w", err)
	}
	a.ledger = ledger
	recorders := []export.Recorder{ledger}

	apiCfg := config.GetAPIConfig()
	a.client = api.New(api.Config{
		BaseURL: apiCfg.BaseURL,
		Token:   apiCfg.Token,
		Timeout: apiCfg.Timeout,
	})
	srcOpts := []source.Option{
		source.WithLogger(a.logs.Component("source")),
		source.WithMetrics(inst),
	}
	if len(apiCfg.VirtualFields) > 0 {
		srcOpts = append(srcOpts, source.WithVirtualFields(apiCfg.VirtualFields))
	}

	if ic := config.GetInfluxConfig(); ic.Enabled {
		m := influx.NewManager(ic, a.zlog)
		if err := m.Connect(ctx); err != nil {
			a.logger.Warn("influx output disabled", "error", err)
			_ = m.Close()
		} else {
			a.influx = m
			recorders = append(recorders, m)
			srcOpts = append(srcOpts, source.WithFetchObserver(func(table string, d time.Duration, rows int, err error) {
				if werr := m.RecordFetch(table, d, rows, err); werr != nil {
					a.logger.Debug("failed to write fetch point", "error", werr)
				}
			}))
		}
	}
	a.recorder = export.Recorders(recorders...)

	parser := normalize.NewParser(normalize.DefaultFieldPaths(), a.logs.Component("normalize"))
	a.source = source.New(a.client, apiCfg.Table, parser, srcOpts...)
	return nil
}

// Domain is the configured year domain, or the span of the dated records
// when timeline.fromData is set. A data domain that cannot be derived
// falls back to the configured one.
func (a *application) Domain(ctx context.Context) (core.YearRange, error) {
	configured := core.YearRange{Min: a.timeline.MinYear, Max: a.timeline.MaxYear}
	if !a.timeline.FromData {
		return configured, configured.Validate()
	}
	d, err := a.source.Domain(ctx)
	if err != nil {
		a.logger.Warn("failed to derive domain from data, using configured domain", "error", err)
		return configured, configured.Validate()
	}
	return d, nil
}

// Close releases the ledger, the InfluxDB writer and the log outputs.
func (a *application) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("failed to close export ledger", "error", err)
		}
	}
	if a.influx != nil {
		if err := a.influx.Close(); err != nil {
			a.logger.Warn("failed to close influx", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}
