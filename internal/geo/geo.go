package geo

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/movatlas/movements/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Coordinates are always WGS84 (EPSG:4326) longitude/latitude. Web Mercator
// (EPSG:3857) is used only for metric geometry such as trajectory arrows.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var (
	toMercator   = wgs84.EPSG().Transform(4326, 3857)
	fromMercator = wgs84.EPSG().Transform(3857, 4326)
)

// Valid reports whether c is a finite WGS84 position.
func Valid(c core.Coordinates) bool {
	if math.IsNaN(c.Lng) || math.IsNaN(c.Lat) || math.IsInf(c.Lng, 0) || math.IsInf(c.Lat, 0) {
		return false
	}
	return c.Lng >= -180 && c.Lng <= 180 && c.Lat >= -90 && c.Lat <= 90
}

// ParseCoordinates parses a "lng,lat" string.
func ParseCoordinates(s string) (core.Coordinates, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	c := core.Coordinates{Lng: lng, Lat: lat}
	if !Valid(c) {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	return c, nil
}

// CoordinatesFromGeoJSON extracts a position from a GeoJSON Point geometry,
// given either as a decoded object or as raw JSON.
func CoordinatesFromGeoJSON(v any) (core.Coordinates, error) {
	var raw []byte
	switch g := v.(type) {
	case nil:
		return core.Coordinates{}, ErrInvalidCoordinates
	case []byte:
		raw = g
	case string:
		raw = []byte(g)
	case json.RawMessage:
		raw = g
	default:
		var err error
		if raw, err = json.Marshal(g); err != nil {
			return core.Coordinates{}, ErrInvalidCoordinates
		}
	}

	var pt geom.Point
	if err := json.Unmarshal(raw, &pt); err != nil {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	xy, ok := pt.Coordinates()
	if !ok {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	c := core.Coordinates{Lng: xy.X, Lat: xy.Y}
	if !Valid(c) {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	return c, nil
}

// CoordinatesFromPair reads a [lng, lat] array.
func CoordinatesFromPair(v []any) (core.Coordinates, error) {
	if len(v) < 2 {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	lng, ok1 := toFloat(v[0])
	lat, ok2 := toFloat(v[1])
	if !ok1 || !ok2 {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	c := core.Coordinates{Lng: lng, Lat: lat}
	if !Valid(c) {
		return core.Coordinates{}, ErrInvalidCoordinates
	}
	return c, nil
}

// Point converts c into a simplefeatures point. Non-finite coordinates
// are rejected.
func Point(c core.Coordinates) (geom.Point, error) {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: c.Lng, Y: c.Lat},
		Type: geom.DimXY,
	})
}

// ToWebMercator projects c to EPSG:3857 metres.
func ToWebMercator(c core.Coordinates) geom.XY {
	x, y, _ := toMercator(c.Lng, c.Lat, 0)
	return geom.XY{X: x, Y: y}
}

// FromWebMercator projects EPSG:3857 metres back to WGS84.
func FromWebMercator(xy geom.XY) core.Coordinates {
	lng, lat, _ := fromMercator(xy.X, xy.Y, 0)
	return core.Coordinates{Lng: lng, Lat: lat}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
