package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

var (
	// Global flags
	configDir  string
	logLevel   string
	jsonOutput bool

	// Query flags shared by the data commands
	fromYear int
	toYear   int
	role     string
	bbox     string

	asOf         int
	searchField  string
	searchText   string
	exportFormat string
	exportScope  string
	exportDir    string
	noBundle     bool
	exportsLimit int
	servePort    int

	// current holds the wired application for the running command
	current *application
)

var rootCmd = &cobra.Command{
	Use:     "movements",
	Short:   "Aggregate, map and export dated movement records",
	Version: fmt.Sprintf("%s (built %s)", Version, BuildDate),
	Long: `movements reads movement records from a Directus-style content API,
aggregates them along a year axis, groups them by place and exports them as
CSV, JSON or GeoJSON.

Configuration is read from movements.cfg.json in the config directory and
may be overridden with MOVEMENTS_ environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		app, err := newApplication(cmd.Context(), configDir, logLevel)
		if err != nil {
			return err
		}
		current = app
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil {
			current.Close()
			current = nil
		}
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Count movements per year and per place",
	RunE:  runAggregate,
}

var markersCmd = &cobra.Command{
	Use:   "markers",
	Short: "Group movements by place, newest first",
	RunE:  runMarkers,
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find movements whose person, place, role or notes contain a text",
	Long: `Search matches --text case-insensitively against --field. The field may
be a column path or one of the aliases person, place and any; further aliases
come from api.virtualFields in the config.`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export movements to a file or zip bundle",
	Long: `Export writes the selected movements as CSV, JSON or GeoJSON. Unless
--no-bundle is given the dataset is zipped together with a README describing
every column; if packaging fails the two files are written separately.`,
	RunE: runExport,
}

var trajectoryCmd = &cobra.Command{
	Use:   "trajectory",
	Short: "Print the arrows linking consecutive places as GeoJSON",
	RunE:  runTrajectory,
}

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "List the distinct movement roles",
	Args:  cobra.NoArgs,
	RunE:  runRoles,
}

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List recorded export runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runExports,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the aggregation and export API over HTTP",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Drive an interactive view with line commands on stdin",
	Long: `Session keeps a view of the records in memory and reads one command per
line: range <from> <to>, bounds <south> <west> <north> <east>, role <name>,
next <marker>, prev <marker>, export <format> <scope>, refresh, show, help.`,
	Args: cobra.NoArgs,
	RunE: runSession,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "Directory containing movements.cfg.json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Write machine-readable JSON")

	for _, cmd := range []*cobra.Command{aggregateCmd, markersCmd, searchCmd, exportCmd, trajectoryCmd, sessionCmd} {
		cmd.Flags().IntVar(&fromYear, "from", 0, "First year (default: start of the domain)")
		cmd.Flags().IntVar(&toYear, "to", 0, "Last year (default: end of the domain)")
		cmd.Flags().StringVar(&role, "role", "", "Keep only movements with this role")
	}
	for _, cmd := range []*cobra.Command{aggregateCmd, markersCmd, searchCmd, exportCmd} {
		cmd.Flags().StringVar(&bbox, "bbox", "", "Viewport as south,west,north,east")
	}

	markersCmd.Flags().IntVar(&asOf, "as-of", 0, "Keep only movements started by this year")

	searchCmd.Flags().StringVar(&searchField, "field", "any", "Field or alias to match: person, place, any or a column path")
	searchCmd.Flags().StringVar(&searchText, "text", "", "Text to look for, case-insensitively")
	_ = searchCmd.MarkFlagRequired("text")

	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "Output format: csv, json or geojson")
	exportCmd.Flags().StringVarP(&exportScope, "scope", "s", "all", "Rows to export: visible or all")
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "Output directory (default: export.outputDir)")
	exportCmd.Flags().BoolVar(&noBundle, "no-bundle", false, "Write the dataset and README without zipping them")

	exportsCmd.Flags().IntVarP(&exportsLimit, "limit", "n", 20, "Maximum runs to list")

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Listen port (default: server.port)")

	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(markersCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(trajectoryCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(exportsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
