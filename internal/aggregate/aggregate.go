// Package aggregate counts movement records by year and by place.
package aggregate

import (
	"sort"

	"github.com/movatlas/movements/pkg/core"
)

// UnknownPlace labels records without a place name in place counts.
const UnknownPlace = "Unknown"

// MaxAxisYears caps the materialized year axis. A wider axis is narrowed
// to the span of the counted records.
const MaxAxisYears = 100000

// Options controls a single aggregation pass.
type Options struct {
	// Range is the active year filter.
	Range core.YearRange
	// Domain is the full axis to materialize. Range is clamped to it. Nil
	// means Range alone.
	Domain *core.YearRange
	// Role, when set, keeps only records with exactly this role.
	Role string
}

// YearCount is one histogram bucket.
type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// PlaceCount is one place bar.
type PlaceCount struct {
	Place string `json:"place"`
	Count int    `json:"count"`
}

// Result holds both mappings.
type Result struct {
	Years  []YearCount  `json:"years"`
	Places []PlaceCount `json:"places"`
	// Total is the number of records counted.
	Total int `json:"total"`
}

// YearMap returns the non-zero year buckets as a map.
func (r Result) YearMap() map[int]int {
	out := make(map[int]int)
	for _, y := range r.Years {
		if y.Count > 0 {
			out[y.Year] = y.Count
		}
	}
	return out
}

// PlaceMap returns the place buckets as a map.
func (r Result) PlaceMap() map[string]int {
	out := make(map[string]int, len(r.Places))
	for _, p := range r.Places {
		out[p.Place] = p.Count
	}
	return out
}

// Aggregate counts records with a start year inside opts.Range. Records
// are counted once each, by start year only; the end year never spreads a
// record over several buckets.
func Aggregate(records []core.MovementRecord, opts Options) Result {
	rng, axis := opts.Range, opts.Range
	if opts.Domain != nil {
		rng = opts.Range.Clamp(*opts.Domain)
		axis = *opts.Domain
	}
	if axis.Len() > MaxAxisYears {
		span, ok := DomainOf(InRange(records, rng))
		if !ok || span.Len() > MaxAxisYears {
			span = core.YearRange{Min: 1, Max: 0}
		}
		axis = span
	}

	years := make([]YearCount, axis.Len())
	for i := range years {
		years[i].Year = axis.Min + i
	}

	placeIdx := make(map[string]int)
	var places []PlaceCount
	total := 0

	for _, r := range records {
		y, ok := r.StartYear()
		if !ok || !rng.Contains(y) {
			continue
		}
		if opts.Role != "" && r.Role != opts.Role {
			continue
		}
		total++
		if axis.Contains(y) {
			years[y-axis.Min].Count++
		}

		name := UnknownPlace
		if r.PlaceName != nil {
			name = *r.PlaceName
		}
		i, seen := placeIdx[name]
		if !seen {
			i = len(places)
			placeIdx[name] = i
			places = append(places, PlaceCount{Place: name})
		}
		places[i].Count++
	}

	sort.SliceStable(places, func(a, b int) bool {
		return places[a].Count > places[b].Count
	})

	return Result{Years: years, Places: places, Total: total}
}

// InRange returns the records whose start year lies inside rng, keeping
// input order. Undated records are dropped.
func InRange(records []core.MovementRecord, rng core.YearRange) []core.MovementRecord {
	out := make([]core.MovementRecord, 0, len(records))
	for _, r := range records {
		if y, ok := r.StartYear(); ok && rng.Contains(y) {
			out = append(out, r)
		}
	}
	return out
}

// ByRole keeps records with the given role. An empty role keeps all.
func ByRole(records []core.MovementRecord, role string) []core.MovementRecord {
	if role == "" {
		return records
	}
	out := make([]core.MovementRecord, 0, len(records))
	for _, r := range records {
		if r.Role == role {
			out = append(out, r)
		}
	}
	return out
}

// DistinctRoles lists non-empty roles in first-seen order.
func DistinctRoles(records []core.MovementRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		if r.Role == "" || seen[r.Role] {
			continue
		}
		seen[r.Role] = true
		out = append(out, r.Role)
	}
	return out
}

// DomainOf spans the start years present in records. ok is false when no
// record is dated.
func DomainOf(records []core.MovementRecord) (core.YearRange, bool) {
	var rng core.YearRange
	found := false
	for _, r := range records {
		y, ok := r.StartYear()
		if !ok {
			continue
		}
		if !found {
			rng = core.YearRange{Min: y, Max: y}
			found = true
			continue
		}
		rng = rng.Union(core.YearRange{Min: y, Max: y})
	}
	return rng, found
}
