// Package normalize turns raw content API rows into flat movement records.
package normalize

import (
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/util"
	"github.com/movatlas/movements/pkg/core"
)

// FieldPaths says where each record attribute lives in a raw row, as a
// dotted path through nested relations.
type FieldPaths struct {
	ID           string `yaml:"id"`
	PersonID     string `yaml:"personId"`
	PersonName   string `yaml:"personName"`
	PlaceName    string `yaml:"placeName"`
	Coordinates  string `yaml:"coordinates"`
	YearStart    string `yaml:"yearStart"`
	YearEnd      string `yaml:"yearEnd"`
	Hypothetical string `yaml:"hypothetical"`
	Role         string `yaml:"role"`
	Notes        string `yaml:"notes"`
	Resident     string `yaml:"resident"`
	Source       string `yaml:"source"`
}

// DefaultFieldPaths matches the people/places junction collection.
func DefaultFieldPaths() FieldPaths {
	return FieldPaths{
		ID:           "id",
		PersonID:     "f_persone_id.id",
		PersonName:   "f_persone_id.nome_e_cognome",
		PlaceName:    "f_luoghi_id.nome_localita",
		Coordinates:  "f_luoghi_id.coordinate",
		YearStart:    "prima_attestazione_anno",
		YearEnd:      "ultima_attestazione_anno",
		Hypothetical: "ipotizzato",
		Role:         "spostato_in_qualita_di",
		Notes:        "note_sullo_spostamento",
		Resident:     "residente",
		Source:       "fonte",
	}
}

// Fields lists the non-empty paths, deduplicated, for the API fields
// parameter.
func (p FieldPaths) Fields() []string {
	all := []string{
		p.ID, p.PersonID, p.PersonName, p.PlaceName, p.Coordinates,
		p.YearStart, p.YearEnd, p.Hypothetical, p.Role, p.Notes,
		p.Resident, p.Source,
	}
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, f := range all {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Parser normalizes raw rows. It never fails: anything it cannot read
// becomes nil (or zero) on the record.
type Parser struct {
	paths  FieldPaths
	logger *slog.Logger
}

// NewParser creates a parser. A nil logger discards debug output.
func NewParser(paths FieldPaths, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Parser{paths: paths, logger: logger}
}

// Paths returns the field table in use.
func (p *Parser) Paths() FieldPaths {
	return p.paths
}

// Normalize maps one raw row.
func (p *Parser) Normalize(raw map[string]any) core.MovementRecord {
	rec := core.MovementRecord{Raw: raw}

	rec.ID = stringOrEmpty(p.get(raw, p.paths.ID))
	rec.PersonID = stringOrEmpty(p.get(raw, p.paths.PersonID))
	rec.PersonName = Text(p.get(raw, p.paths.PersonName))
	rec.PlaceName = Text(p.get(raw, p.paths.PlaceName))
	rec.YearStart = Year(p.get(raw, p.paths.YearStart))
	rec.YearEnd = Year(p.get(raw, p.paths.YearEnd))
	rec.Role = stringOrEmpty(p.get(raw, p.paths.Role))
	rec.Notes = Text(p.get(raw, p.paths.Notes))
	rec.Resident = Bool(p.get(raw, p.paths.Resident))
	rec.Source = Text(p.get(raw, p.paths.Source))
	if h := Bool(p.get(raw, p.paths.Hypothetical)); h != nil {
		rec.IsHypothetical = *h
	}

	if v := p.get(raw, p.paths.Coordinates); v != nil {
		c, err := Coordinates(v)
		if err != nil {
			p.logger.Debug("unreadable coordinates", "id", rec.ID, "error", err)
		} else {
			rec.Coordinates = &c
		}
	}
	if v := p.get(raw, p.paths.YearStart); v != nil && rec.YearStart == nil {
		p.logger.Debug("unreadable start year", "id", rec.ID, "value", v)
	}

	return rec
}

// NormalizeAll maps every row, keeping input order.
func (p *Parser) NormalizeAll(rows []map[string]any) []core.MovementRecord {
	out := make([]core.MovementRecord, len(rows))
	for i, row := range rows {
		out[i] = p.Normalize(row)
	}
	return out
}

func (p *Parser) get(raw map[string]any, path string) any {
	if path == "" {
		return nil
	}
	v, _ := util.Lookup(raw, path)
	return v
}

// Text reads a non-blank string. Numbers are formatted; anything else is nil.
func Text(v any) *string {
	switch s := v.(type) {
	case string:
		if strings.TrimSpace(s) == "" {
			return nil
		}
		return &s
	case float64:
		f := strconv.FormatFloat(s, 'f', -1, 64)
		return &f
	case json.Number:
		f := s.String()
		return &f
	case int:
		f := strconv.Itoa(s)
		return &f
	}
	return nil
}

func stringOrEmpty(v any) string {
	if s := Text(v); s != nil {
		return *s
	}
	return ""
}

// Year reads an integral year from a JSON number or a numeric string.
// Fractional, non-finite and non-numeric values are nil.
func Year(v any) *int {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		return &n
	case int64:
		y := int(n)
		return &y
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1e6 {
		return nil
	}
	y := int(f)
	return &y
}

// Bool reads a boolean, also accepting 0/1 and "true"/"false" spellings.
func Bool(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case float64:
		if t != 0 && t != 1 {
			return nil
		}
		b = t == 1
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		b = parsed
	default:
		return nil
	}
	return &b
}

// Coordinates reads a GeoJSON point, a [lng, lat] array or a "lng,lat"
// string.
func Coordinates(v any) (core.Coordinates, error) {
	switch t := v.(type) {
	case string:
		if c, err := geo.ParseCoordinates(t); err == nil {
			return c, nil
		}
		return geo.CoordinatesFromGeoJSON(t)
	case []any:
		return geo.CoordinatesFromPair(t)
	default:
		return geo.CoordinatesFromGeoJSON(t)
	}
}
