package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/movatlas/movements/pkg/core"
)

// FilePrefix starts every export file name.
const FilePrefix = "movements"

// ReadmeName is the companion description file inside a bundle.
const ReadmeName = "README.txt"

// Filename is movements_<start>-<end>_<scope>.<ext>.
func Filename(rng core.YearRange, scope core.Scope, format core.Format) string {
	return fmt.Sprintf("%s_%d-%d_%s.%s", FilePrefix, rng.Min, rng.Max, scope, format.Extension())
}

// BundleName is movements_<start>-<end>_<scope>.zip.
func BundleName(rng core.YearRange, scope core.Scope) string {
	return fmt.Sprintf("%s_%d-%d_%s.zip", FilePrefix, rng.Min, rng.Max, scope)
}

// ReadmeInfo describes the export a README accompanies.
type ReadmeInfo struct {
	Format      core.Format
	Scope       core.Scope
	Range       core.YearRange
	Bounds      *core.ViewportBounds
	Role        string
	Records     int
	GeneratedAt time.Time
}

// Readme renders the plain-text companion listing every column.
func Readme(fields []Field, info ReadmeInfo) []byte {
	var b strings.Builder

	b.WriteString("Movements export\n")
	b.WriteString("================\n\n")
	fmt.Fprintf(&b, "Generated: %s\n", info.GeneratedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Years:     %d to %d (inclusive)\n", info.Range.Min, info.Range.Max)
	fmt.Fprintf(&b, "Scope:     %s\n", info.Scope)
	if info.Scope == core.ScopeVisible && info.Bounds != nil {
		fmt.Fprintf(&b, "Viewport:  south %g, west %g, north %g, east %g\n",
			info.Bounds.South, info.Bounds.West, info.Bounds.North, info.Bounds.East)
	}
	if info.Role != "" {
		fmt.Fprintf(&b, "Role:      %s\n", info.Role)
	}
	fmt.Fprintf(&b, "Format:    %s\n", info.Format)
	fmt.Fprintf(&b, "Records:   %d\n\n", info.Records)

	b.WriteString("Fields\n------\n\n")
	width := 0
	for _, f := range fields {
		width = max(width, len(f.Key))
	}
	for _, f := range fields {
		fmt.Fprintf(&b, "%-*s  %s\n", width, f.Key, f.Description)
	}

	switch info.Format {
	case core.FormatCSV:
		b.WriteString("\nValues containing commas, quotes or line breaks are quoted; quotes are doubled.\n")
	case core.FormatGeoJSON:
		b.WriteString("\nRecords without coordinates are not included. Each feature carries a \"count\"\n")
		b.WriteString("property with the number of exported records at the same place.\n")
	}
	return []byte(b.String())
}
