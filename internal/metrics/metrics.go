// Package metrics holds the OpenTelemetry instruments shared by the fetch
// and export paths. Instruments come from the global meter provider, so
// they are no-ops until a provider is installed.
package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/movatlas/movements/internal/metrics"

// Instruments groups the counters and histograms.
type Instruments struct {
	fetches       metric.Int64Counter
	fetchFailures metric.Int64Counter
	fetchDuration metric.Float64Histogram
	records       metric.Int64Counter
	exports       metric.Int64Counter
	exportFailed  metric.Int64Counter
	fallbacks     metric.Int64Counter
}

// New creates the instruments from the global meter.
func New() (*Instruments, error) {
	m := otel.Meter(instrumentationName)
	i := &Instruments{}

	var err error
	if i.fetches, err = m.Int64Counter(
		"movements.fetch.count",
		metric.WithDescription("Content API fetches issued"),
	); err != nil {
		return nil, fmt.Errorf("creating fetch counter: %w", err)
	}
	if i.fetchFailures, err = m.Int64Counter(
		"movements.fetch.failures",
		metric.WithDescription("Content API fetches that failed"),
	); err != nil {
		return nil, fmt.Errorf("creating fetch failure counter: %w", err)
	}
	if i.fetchDuration, err = m.Float64Histogram(
		"movements.fetch.duration",
		metric.WithDescription("Content API fetch latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("creating fetch duration histogram: %w", err)
	}
	if i.records, err = m.Int64Counter(
		"movements.fetch.records",
		metric.WithDescription("Records received from the content API"),
	); err != nil {
		return nil, fmt.Errorf("creating record counter: %w", err)
	}
	if i.exports, err = m.Int64Counter(
		"movements.export.count",
		metric.WithDescription("Exports delivered"),
	); err != nil {
		return nil, fmt.Errorf("creating export counter: %w", err)
	}
	if i.exportFailed, err = m.Int64Counter(
		"movements.export.failures",
		metric.WithDescription("Exports that delivered nothing"),
	); err != nil {
		return nil, fmt.Errorf("creating export failure counter: %w", err)
	}
	if i.fallbacks, err = m.Int64Counter(
		"movements.export.fallbacks",
		metric.WithDescription("Exports delivered as separate files after packaging failed"),
	); err != nil {
		return nil, fmt.Errorf("creating fallback counter: %w", err)
	}

	return i, nil
}

// Fetch records one content API fetch.
func (i *Instruments) Fetch(ctx context.Context, table string, d time.Duration, n int, err error) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("table", table))
	i.fetches.Add(ctx, 1, attrs)
	i.fetchDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		i.fetchFailures.Add(ctx, 1, attrs)
		return
	}
	i.records.Add(ctx, int64(n), attrs)
}

// Export records the outcome of one export.
func (i *Instruments) Export(ctx context.Context, format, scope string, err error) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("format", format),
		attribute.String("scope", scope),
	)
	if err != nil {
		i.exportFailed.Add(ctx, 1, attrs)
		return
	}
	i.exports.Add(ctx, 1, attrs)
}

// Fallback records a packaging failure that was recovered by delivering
// files separately.
func (i *Instruments) Fallback(ctx context.Context, format string) {
	if i == nil {
		return
	}
	i.fallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("format", format)))
}
