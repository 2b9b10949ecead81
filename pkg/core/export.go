// pkg/core/export.go
package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrUnknownScope  = errors.New("unknown export scope")
)

// Format is an export serialization.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatGeoJSON Format = "geojson"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatGeoJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Extension is the file extension without the dot.
func (f Format) Extension() string {
	return string(f)
}

// ContentType is the MIME type of the serialized payload.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatGeoJSON:
		return "application/geo+json"
	default:
		return "application/json"
	}
}

// Scope selects which records an export covers.
type Scope string

const (
	// ScopeVisible keeps records inside the current viewport.
	ScopeVisible Scope = "visible"
	// ScopeAll applies only the temporal filter.
	ScopeAll Scope = "all"
)

// ParseScope parses a scope name, case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToLower(strings.TrimSpace(s))); sc {
	case ScopeVisible, ScopeAll:
		return sc, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
}

// ExportRun describes one completed (or failed) export.
type ExportRun struct {
	ID        string          `json:"id"`
	Format    Format          `json:"format"`
	Scope     Scope           `json:"scope"`
	Range     YearRange       `json:"range"`
	Bounds    *ViewportBounds `json:"bounds,omitempty"`
	Records   int             `json:"records"`
	Bundled   bool            `json:"bundled"`
	Files     []string        `json:"files"`
	Error     string          `json:"error,omitempty"`
	StartedAt time.Time       `json:"startedAt"`
	Duration  time.Duration   `json:"duration"`
}
