package geo

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/movatlas/movements/internal/marker"
	"github.com/movatlas/movements/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// ArrowStyle sizes trajectory arrows, in Web Mercator metres.
type ArrowStyle struct {
	// HeadLength is how far before the destination the shaft stops.
	HeadLength float64
	// HeadHalfWidth is the distance from the shaft axis to each barb.
	HeadHalfWidth float64
}

// DefaultArrowStyle roughly matches 0.2 and 0.05 degree offsets at
// mid-latitudes.
var DefaultArrowStyle = ArrowStyle{HeadLength: 20000, HeadHalfWidth: 5000}

// Leg is one arrow from an earlier marker to a later one.
type Leg struct {
	From      core.Coordinates
	To        core.Coordinates
	FromYear  int
	ToYear    int
	Shaft     geom.LineString
	Head      geom.LineString
	FromPlace *string
	ToPlace   *string
}

// Trajectory orders groups by their earliest YearStart and links each to the
// next, so no leg points back in time. Groups without any dated movement are
// left out, as are legs between groups at the same position and legs whose
// geometry is rejected.
func Trajectory(groups []*marker.Group, style ArrowStyle) []Leg {
	type stop struct {
		g    *marker.Group
		year int
	}
	stops := make([]stop, 0, len(groups))
	for _, g := range groups {
		if y, ok := g.Earliest(); ok {
			stops = append(stops, stop{g: g, year: y})
		}
	}
	sort.SliceStable(stops, func(i, j int) bool { return stops[i].year < stops[j].year })

	legs := make([]Leg, 0, len(stops))
	for i := 0; i+1 < len(stops); i++ {
		from, to := stops[i], stops[i+1]
		shaft, head, ok := arrow(from.g.Coordinates, to.g.Coordinates, style)
		if !ok {
			continue
		}
		legs = append(legs, Leg{
			From:      from.g.Coordinates,
			To:        to.g.Coordinates,
			FromYear:  from.year,
			ToYear:    to.year,
			Shaft:     shaft,
			Head:      head,
			FromPlace: from.g.PlaceName,
			ToPlace:   to.g.PlaceName,
		})
	}
	return legs
}

// arrow computes the shaft (from origin to the head base) and the head
// (left barb, tip, right barb) in Web Mercator, returned in WGS84.
func arrow(from, to core.Coordinates, style ArrowStyle) (geom.LineString, geom.LineString, bool) {
	a, b := ToWebMercator(from), ToWebMercator(to)
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Hypot(dx, dy)
	if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return geom.LineString{}, geom.LineString{}, false
	}
	ux, uy := dx/length, dy/length

	headLen := math.Min(style.HeadLength, length/2)
	base := geom.XY{X: b.X - ux*headLen, Y: b.Y - uy*headLen}
	left := geom.XY{X: base.X - uy*style.HeadHalfWidth, Y: base.Y + ux*style.HeadHalfWidth}
	right := geom.XY{X: base.X + uy*style.HeadHalfWidth, Y: base.Y - ux*style.HeadHalfWidth}

	shaft, err := lineString(from, FromWebMercator(base))
	if err != nil {
		return geom.LineString{}, geom.LineString{}, false
	}
	head, err := lineString(FromWebMercator(left), to, FromWebMercator(right))
	if err != nil {
		return geom.LineString{}, geom.LineString{}, false
	}
	return shaft, head, true
}

func lineString(cs ...core.Coordinates) (geom.LineString, error) {
	flat := make([]float64, 0, len(cs)*2)
	for _, c := range cs {
		flat = append(flat, c.Lng, c.Lat)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY))
}

// LegsGeoJSON encodes legs as a FeatureCollection with a shaft and a head
// feature per leg.
func LegsGeoJSON(legs []Leg) ([]byte, error) {
	fc := make(geom.GeoJSONFeatureCollection, 0, len(legs)*2)
	for i, l := range legs {
		props := map[string]any{
			"leg":       i,
			"fromYear":  l.FromYear,
			"toYear":    l.ToYear,
			"fromPlace": l.FromPlace,
			"toPlace":   l.ToPlace,
		}
		fc = append(fc,
			geom.GeoJSONFeature{Geometry: l.Shaft.AsGeometry(), Properties: withPart(props, "shaft")},
			geom.GeoJSONFeature{Geometry: l.Head.AsGeometry(), Properties: withPart(props, "head")},
		)
	}
	return json.Marshal(fc)
}

func withPart(props map[string]any, part string) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["part"] = part
	return out
}
