package geo

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/movatlas/movements/pkg/core"
)

// InBounds reports whether c lies inside b, edges included. Nil bounds
// means the viewport is not known yet and every point counts as visible.
func InBounds(c core.Coordinates, b *core.ViewportBounds) bool {
	if b == nil {
		return true
	}
	return c.Lng >= b.West && c.Lng <= b.East && c.Lat >= b.South && c.Lat <= b.North
}

// Visible returns the records whose coordinates are inside b. Records
// without coordinates are never visible.
func Visible(records []core.MovementRecord, b *core.ViewportBounds) []core.MovementRecord {
	out := make([]core.MovementRecord, 0, len(records))
	for _, r := range records {
		if r.Coordinates != nil && InBounds(*r.Coordinates, b) {
			out = append(out, r)
		}
	}
	return out
}

// Counts is the visible/all split shown next to the export scope picker.
type Counts struct {
	Visible int `json:"visible"`
	Mapped  int `json:"mapped"`
	All     int `json:"all"`
}

// CountVisible counts records inside b, records with coordinates, and all
// records.
func CountVisible(records []core.MovementRecord, b *core.ViewportBounds) Counts {
	c := Counts{All: len(records)}
	for _, r := range records {
		if r.Coordinates == nil {
			continue
		}
		c.Mapped++
		if InBounds(*r.Coordinates, b) {
			c.Visible++
		}
	}
	return c
}

// ParseBounds parses "south,west,north,east". An empty string yields nil.
func ParseBounds(s string) (*core.ViewportBounds, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounds need south,west,north,east, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bounds component %d: %w", i, err)
		}
		v[i] = f
	}
	b := &core.ViewportBounds{South: v[0], West: v[1], North: v[2], East: v[3]}
	if b.South > b.North {
		return nil, fmt.Errorf("bounds south %g above north %g", b.South, b.North)
	}
	return b, nil
}
