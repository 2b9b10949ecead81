package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/movatlas/movements/internal/aggregate"
	"github.com/movatlas/movements/internal/export"
	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/handlers"
	"github.com/movatlas/movements/internal/marker"
	"github.com/movatlas/movements/internal/server"
	"github.com/movatlas/movements/pkg/core"
)

// query is the selection shared by the data commands.
type query struct {
	Domain core.YearRange
	Range  core.YearRange
	Bounds *core.ViewportBounds
	Role   string
}

// readQuery resolves the --from/--to/--bbox/--role flags of cmd against
// the domain. Unset years take the domain's ends and the result is clamped
// to the domain.
func readQuery(cmd *cobra.Command, app *application) (query, error) {
	domain, err := app.Domain(cmd.Context())
	if err != nil {
		return query{}, err
	}
	q := query{Domain: domain, Range: domain, Role: role}
	if cmd.Flags().Changed("from") {
		q.Range.Min = fromYear
	}
	if cmd.Flags().Changed("to") {
		q.Range.Max = toYear
	}
	if err := q.Range.Validate(); err != nil {
		return query{}, err
	}
	q.Range = q.Range.Clamp(domain)
	if q.Bounds, err = geo.ParseBounds(bbox); err != nil {
		return query{}, err
	}
	return q, nil
}

func (q query) load(ctx context.Context, app *application) ([]core.MovementRecord, error) {
	records, err := app.source.Fetch(ctx, q.Range)
	if err != nil {
		return nil, err
	}
	return aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printCounts(w io.Writer, c geo.Counts) {
	fmt.Fprintf(w, "%d visible, %d mapped, %d total\n", c.Visible, c.Mapped, c.All)
}

// runAggregate prints the year histogram and the place counts.
func runAggregate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	records, err := current.source.Fetch(ctx, q.Range)
	if err != nil {
		return err
	}
	result := aggregate.Aggregate(records, aggregate.Options{Range: q.Range, Domain: &q.Domain, Role: q.Role})
	counts := geo.CountVisible(aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role), q.Bounds)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, map[string]any{
			"range":  q.Range,
			"years":  result.Years,
			"places": result.Places,
			"total":  result.Total,
			"counts": counts,
		})
	}

	fmt.Fprintf(out, "Movements %s: %d\n", q.Range, result.Total)
	printCounts(out, counts)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nYEAR\tCOUNT")
	for _, y := range result.Years {
		if y.Count > 0 {
			fmt.Fprintf(tw, "%d\t%d\n", y.Year, y.Count)
		}
	}
	fmt.Fprintln(tw, "\nPLACE\tCOUNT")
	for _, p := range result.Places {
		fmt.Fprintf(tw, "%s\t%d\n", p.Place, p.Count)
	}
	return tw.Flush()
}

// runMarkers prints one line per place with its movements newest first.
func runMarkers(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	records, err := q.load(ctx, current)
	if err != nil {
		return err
	}
	groups := marker.Build(records)
	if cmd.Flags().Changed("as-of") {
		groups = marker.AsOf(groups, asOf)
	}
	counts := geo.CountVisible(records, q.Bounds)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, map[string]any{
			"range":   q.Range,
			"markers": groups,
			"counts":  counts,
		})
	}
	printCounts(out, counts)
	printGroups(out, groups)
	return nil
}

// runSearch prints the markers of the movements matching --text.
func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	text := strings.TrimSpace(searchText)
	if text == "" {
		return errors.New("search: --text must not be blank")
	}
	records, err := current.source.Search(ctx, q.Range, searchField, text)
	if err != nil {
		return err
	}
	records = aggregate.ByRole(aggregate.InRange(records, q.Range), q.Role)
	groups := marker.Build(records)
	counts := geo.CountVisible(records, q.Bounds)

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, map[string]any{
			"range":   q.Range,
			"field":   searchField,
			"text":    text,
			"records": records,
			"markers": groups,
			"counts":  counts,
		})
	}
	fmt.Fprintf(out, "%d movements matching %q in %s\n", len(records), text, searchField)
	printCounts(out, counts)
	printGroups(out, groups)
	return nil
}

func printGroups(w io.Writer, groups []*marker.Group) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tPLACE\tLAT\tLNG\tMOVEMENTS")
	for i, g := range groups {
		place := aggregate.UnknownPlace
		if g.PlaceName != nil {
			place = *g.PlaceName
		}
		labels := g.Labels()
		if idx := g.Index(); idx < len(labels) {
			labels[idx] = "[" + labels[idx] + "]"
		}
		mark := ""
		if g.IsMostRecent {
			mark = " *"
		}
		fmt.Fprintf(tw, "%d\t%s%s\t%.4f\t%.4f\t%s\n",
			i, place, mark, g.Coordinates.Lat, g.Coordinates.Lng, strings.Join(labels, " "))
	}
	_ = tw.Flush()
}

// runExport runs one download into the output directory.
func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	format, err := core.ParseFormat(exportFormat)
	if err != nil {
		return err
	}
	scope, err := core.ParseScope(exportScope)
	if err != nil {
		return err
	}
	run, err := exportRun(ctx, current, export.Request{
		Format: format,
		Scope:  scope,
		Range:  q.Range,
		Bounds: q.Bounds,
		Role:   q.Role,
	})
	if err != nil {
		return err
	}
	return printRun(cmd.OutOrStdout(), run)
}

// exportRun delivers req to the configured output directory and records
// the run in the ledger.
func exportRun(ctx context.Context, app *application, req export.Request) (*core.ExportRun, error) {
	dir := exportDir
	if dir == "" {
		dir = app.exportCfg.OutputDir
	}
	sink := export.DirSink{Dir: dir, Compress: app.exportCfg.CompressOutput}
	d := export.NewDownloader(app.source, app.projector, sink,
		export.WithBundle(app.exportCfg.Bundle && !noBundle),
		export.WithRecorder(app.recorder),
		export.WithMetrics(app.metrics),
		export.WithLogger(app.logs.Component("export")),
	)
	return d.Run(ctx, req)
}

func printRun(w io.Writer, run *core.ExportRun) error {
	if jsonOutput {
		return writeJSON(w, run)
	}
	mode := "bundled"
	if !run.Bundled {
		mode = "separate files"
	}
	fmt.Fprintf(w, "Exported %d records (%s, %s) as %s: %s\n",
		run.Records, run.Format, run.Scope, mode, strings.Join(run.Files, ", "))
	return nil
}

// runTrajectory prints the arrow legs as a GeoJSON FeatureCollection.
func runTrajectory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	records, err := q.load(ctx, current)
	if err != nil {
		return err
	}
	data, err := geo.LegsGeoJSON(geo.Trajectory(marker.Build(records), geo.DefaultArrowStyle))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

// runRoles lists the distinct roles.
func runRoles(cmd *cobra.Command, args []string) error {
	roles, err := current.source.Roles(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		if roles == nil {
			roles = []string{}
		}
		return writeJSON(out, roles)
	}
	for _, r := range roles {
		fmt.Fprintln(out, r)
	}
	return nil
}

// runExports lists the export ledger.
func runExports(cmd *cobra.Command, args []string) error {
	runs, err := current.ledger.ListExports(cmd.Context(), exportsLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if jsonOutput {
		if runs == nil {
			runs = []core.ExportRun{}
		}
		return writeJSON(out, runs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tFORMAT\tSCOPE\tRANGE\tRECORDS\tBUNDLED\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%t\t%s\n",
			r.StartedAt.UTC().Format(time.RFC3339), r.Format, r.Scope, r.Range, r.Records, r.Bundled, r.Error)
	}
	return tw.Flush()
}

// runServe serves the HTTP API until interrupted.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	domain, err := current.Domain(ctx)
	if err != nil {
		return err
	}
	cfg := current.serverCfg
	if servePort != 0 {
		cfg.Port = servePort
	}

	svc := handlers.NewService(handlers.Dependencies{
		Source:    current.source,
		Pinger:    current.client,
		Ledger:    current.ledger,
		Recorder:  current.recorder,
		Projector: current.projector,
		Metrics:   current.metrics,
		Logger:    current.logs.Component("handlers"),
		Domain:    domain,
		Bundle:    current.exportCfg.Bundle,
		Arrows:    geo.DefaultArrowStyle,
	})
	srv := server.NewServer(cfg, svc, current.logs.Component("http"))

	errCh := make(chan error, 1)
	go func() {
		current.logger.Info("listening", "addr", srv.Addr(), "domain", domain.String())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	current.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
