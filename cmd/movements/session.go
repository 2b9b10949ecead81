package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/movatlas/movements/internal/dispatcher"
	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/logging"
	"github.com/movatlas/movements/internal/marker"
	"github.com/movatlas/movements/internal/view"
	"github.com/movatlas/movements/pkg/core"
)

// exportQueueSize bounds the exports waiting behind a running one.
const exportQueueSize = 4

// runSession reads line commands from stdin until EOF or "quit".
func runSession(cmd *cobra.Command, args []string) error {
	q, err := readQuery(cmd, current)
	if err != nil {
		return err
	}
	return session(cmd.Context(), current, q, cmd.InOrStdin(), cmd.OutOrStdout())
}

// syncWriter serializes writes from the loop and the export worker.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func session(ctx context.Context, app *application, q query, in io.Reader, w io.Writer) error {
	out := &syncWriter{w: w}

	v, err := view.New(app.source, q.Domain, app.logs.Component("view"))
	if err != nil {
		return err
	}
	if _, err := v.SetRange(q.Range); err != nil {
		return err
	}
	v.SetBounds(q.Bounds)
	v.SetRole(q.Role)

	d, err := dispatcher.New(logging.NewDispatcherLogger(app.zlog))
	if err != nil {
		return err
	}
	registerSession(d, app, v, out)
	defer d.Close()

	if err := v.Refresh(ctx); err != nil {
		fmt.Fprintf(out, "error: %v\n", err)
	}
	printSnapshot(out, v.Snapshot())

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "quit" || line == "exit" {
			break
		}
		result, err := d.DispatchLine(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		printResult(out, result)
	}
	return scanner.Err()
}

func registerSession(d *dispatcher.Dispatcher, app *application, v *view.View, out io.Writer) {
	refreshed := func(ctx context.Context) (any, error) {
		if err := v.Refresh(ctx); err != nil {
			return nil, err
		}
		return v.Snapshot(), nil
	}

	d.Register("range", func(ctx context.Context, e dispatcher.Event) (any, error) {
		from, err := strconv.Atoi(e.Arg(0))
		if err != nil {
			return nil, fmt.Errorf("range: bad start year %q", e.Arg(0))
		}
		to, err := strconv.Atoi(e.Arg(1))
		if err != nil {
			return nil, fmt.Errorf("range: bad end year %q", e.Arg(1))
		}
		if _, err := v.SetRange(core.YearRange{Min: from, Max: to}); err != nil {
			return nil, err
		}
		return refreshed(ctx)
	}, dispatcher.Logged(), dispatcher.Help("<from> <to>  set the year range and refetch"))

	d.Register("bounds", func(_ context.Context, e dispatcher.Event) (any, error) {
		b, err := geo.ParseBounds(strings.Join(e.Args, ","))
		if err != nil {
			return nil, err
		}
		v.SetBounds(b)
		return v.Snapshot().Counts, nil
	}, dispatcher.Help("<south> <west> <north> <east>  set the viewport; no args clears it"))

	d.Register("role", func(_ context.Context, e dispatcher.Event) (any, error) {
		v.SetRole(strings.Join(e.Args, " "))
		return v.Snapshot(), nil
	}, dispatcher.Help("[name]  keep one role; no args clears it"))

	step := func(move func(int) (bool, error)) dispatcher.HandlerFunc {
		return func(_ context.Context, e dispatcher.Event) (any, error) {
			i, err := strconv.Atoi(e.Arg(0))
			if err != nil {
				return nil, fmt.Errorf("bad marker index %q", e.Arg(0))
			}
			if _, err := move(i); err != nil {
				return nil, err
			}
			return v.Group(i)
		}
	}
	d.Register("next", step(v.Next), dispatcher.Help("<marker>  show the next older movement"))
	d.Register("prev", step(v.Prev), dispatcher.Help("<marker>  show the next newer movement"))

	d.Register("export", func(ctx context.Context, e dispatcher.Event) (any, error) {
		format, err := core.ParseFormat(e.Arg(0))
		if err != nil {
			return nil, err
		}
		scope := core.ScopeAll
		if e.Arg(1) != "" {
			if scope, err = core.ParseScope(e.Arg(1)); err != nil {
				return nil, err
			}
		}
		run, err := exportRun(ctx, app, v.ExportRequest(format, scope))
		if err != nil {
			fmt.Fprintf(out, "export failed: %v\n", err)
			return nil, err
		}
		_ = printRun(out, run)
		return run, nil
	}, dispatcher.Buffered(exportQueueSize), dispatcher.Logged(), dispatcher.Help("<csv|json|geojson> [visible|all]  export in the background"))

	d.Register("refresh", func(ctx context.Context, _ dispatcher.Event) (any, error) {
		return refreshed(ctx)
	}, dispatcher.Logged(), dispatcher.Help("refetch the current range"))

	d.Register("show", func(context.Context, dispatcher.Event) (any, error) {
		return v.Snapshot(), nil
	}, dispatcher.Help("print the current state"))

	d.Register("help", func(context.Context, dispatcher.Event) (any, error) {
		return "Commands:\n" + d.Usage() + "  quit", nil
	})
}

func printResult(w io.Writer, result any) {
	if jsonOutput && result != nil && result != dispatcher.Queued {
		_ = writeJSON(w, result)
		return
	}
	switch r := result.(type) {
	case nil:
	case string:
		fmt.Fprintln(w, r)
	case view.Snapshot:
		printSnapshot(w, r)
	case geo.Counts:
		printCounts(w, r)
	case *marker.Group:
		printGroups(w, []*marker.Group{r})
	default:
		fmt.Fprintf(w, "%v\n", r)
	}
}

func printSnapshot(w io.Writer, s view.Snapshot) {
	if jsonOutput {
		_ = writeJSON(w, s)
		return
	}
	role := s.Role
	if role == "" {
		role = "any"
	}
	fmt.Fprintf(w, "Range %s of %s, role %s: %d movements\n", s.Range, s.Domain, role, s.Aggregates.Total)
	printCounts(w, s.Counts)
	if s.Error != "" {
		fmt.Fprintf(w, "last fetch failed: %s\n", s.Error)
	}
	printGroups(w, s.Groups)
}
