// Package marker collapses movement records sharing a position into map
// markers, each with a navigable, newest-first list of movements.
package marker

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/movatlas/movements/pkg/core"
)

// Group is every movement recorded at one exact position.
type Group struct {
	Coordinates core.Coordinates
	// PlaceName is the first non-empty place name among the movements.
	PlaceName *string
	// Movements are sorted by YearStart descending; undated ones come last.
	Movements []core.MovementRecord
	// IsMostRecent marks the group holding the latest YearStart of the
	// whole grouped set.
	IsMostRecent bool

	cursor int
}

// Build groups records by bit-identical coordinates. Groups keep the order
// in which their position was first seen; records without coordinates are
// skipped.
func Build(records []core.MovementRecord) []*Group {
	index := make(map[core.CoordKey]*Group)
	groups := make([]*Group, 0)

	for _, r := range records {
		if r.Coordinates == nil {
			continue
		}
		key := r.Coordinates.Key()
		g, ok := index[key]
		if !ok {
			g = &Group{Coordinates: *r.Coordinates}
			index[key] = g
			groups = append(groups, g)
		}
		if g.PlaceName == nil && r.PlaceName != nil && *r.PlaceName != "" {
			g.PlaceName = r.PlaceName
		}
		g.Movements = append(g.Movements, r)
	}

	for _, g := range groups {
		sortNewestFirst(g.Movements)
	}
	markMostRecent(groups)
	return groups
}

func sortNewestFirst(ms []core.MovementRecord) {
	sort.SliceStable(ms, func(i, j int) bool {
		a, b := ms[i].YearStart, ms[j].YearStart
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

func markMostRecent(groups []*Group) {
	best := -1
	var bestYear int
	for i, g := range groups {
		g.IsMostRecent = false
		if y, ok := g.Latest(); ok && (best < 0 || y > bestYear) {
			best, bestYear = i, y
		}
	}
	if best >= 0 {
		groups[best].IsMostRecent = true
	}
}

// Flatten returns every movement of groups, group by group.
func Flatten(groups []*Group) []core.MovementRecord {
	var n int
	for _, g := range groups {
		n += len(g.Movements)
	}
	out := make([]core.MovementRecord, 0, n)
	for _, g := range groups {
		out = append(out, g.Movements...)
	}
	return out
}

// AsOf regroups keeping only movements that started at or before year, so
// a timeline scrubber can show where people had been by then.
func AsOf(groups []*Group, year int) []*Group {
	kept := make([]core.MovementRecord, 0)
	for _, m := range Flatten(groups) {
		if y, ok := m.StartYear(); ok && y <= year {
			kept = append(kept, m)
		}
	}
	return Build(kept)
}

// Len is the number of movements.
func (g *Group) Len() int { return len(g.Movements) }

// Index is the cursor position.
func (g *Group) Index() int { return g.cursor }

// Current returns the movement under the cursor.
func (g *Group) Current() core.MovementRecord {
	return g.Movements[g.cursor]
}

// Next advances the cursor. At the last movement it does nothing and
// returns false.
func (g *Group) Next() bool {
	if g.cursor >= len(g.Movements)-1 {
		return false
	}
	g.cursor++
	return true
}

// Prev moves the cursor back. At the first movement it does nothing and
// returns false.
func (g *Group) Prev() bool {
	if g.cursor <= 0 {
		return false
	}
	g.cursor--
	return true
}

// Seek moves the cursor to i, clamped to the valid range.
func (g *Group) Seek(i int) {
	if i < 0 {
		i = 0
	}
	if last := len(g.Movements) - 1; i > last {
		i = last
	}
	g.cursor = i
}

// Clone copies the group, cursor included. Movements are copied shallowly.
func (g *Group) Clone() *Group {
	cp := *g
	cp.Movements = append([]core.MovementRecord(nil), g.Movements...)
	return &cp
}

// Latest is the greatest YearStart in the group.
func (g *Group) Latest() (int, bool) {
	for _, m := range g.Movements {
		if m.YearStart != nil {
			// sorted newest first
			return *m.YearStart, true
		}
	}
	return 0, false
}

// Earliest is the smallest YearStart in the group.
func (g *Group) Earliest() (int, bool) {
	for i := len(g.Movements) - 1; i >= 0; i-- {
		if y := g.Movements[i].YearStart; y != nil {
			return *y, true
		}
	}
	return 0, false
}

// Labels formats each movement's period as "start-end", with "?" for an
// unknown bound.
func (g *Group) Labels() []string {
	out := make([]string, len(g.Movements))
	for i, m := range g.Movements {
		out[i] = fmt.Sprintf("%s-%s", yearLabel(m.YearStart), yearLabel(m.YearEnd))
	}
	return out
}

func yearLabel(y *int) string {
	if y == nil {
		return "?"
	}
	return fmt.Sprint(*y)
}

type groupJSON struct {
	Coordinates  core.Coordinates      `json:"coordinates"`
	PlaceName    *string               `json:"placeName"`
	IsMostRecent bool                  `json:"isMostRecent"`
	Cursor       int                   `json:"cursor"`
	Labels       []string              `json:"labels"`
	Movements    []core.MovementRecord `json:"movements"`
}

// MarshalJSON includes the cursor and period labels.
func (g *Group) MarshalJSON() ([]byte, error) {
	return json.Marshal(groupJSON{
		Coordinates:  g.Coordinates,
		PlaceName:    g.PlaceName,
		IsMostRecent: g.IsMostRecent,
		Cursor:       g.cursor,
		Labels:       g.Labels(),
		Movements:    g.Movements,
	})
}
