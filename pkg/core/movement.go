// pkg/core/movement.go
package core

import (
	"encoding/json"
	"fmt"
	"math"
)

// Coordinates is a WGS84 longitude/latitude pair.
// JSON form is [lng, lat], matching GeoJSON position order.
type Coordinates struct {
	Lng float64
	Lat float64
}

// CoordKey identifies a coordinate pair by its exact bit pattern.
type CoordKey [2]uint64

// Key returns a comparable key. Two coordinates share a key only when
// both components are bit-identical.
func (c Coordinates) Key() CoordKey {
	return CoordKey{math.Float64bits(c.Lng), math.Float64bits(c.Lat)}
}

// String formats the pair as "lng,lat".
func (c Coordinates) String() string {
	return fmt.Sprintf("%g,%g", c.Lng, c.Lat)
}

// MarshalJSON encodes the pair as [lng, lat].
func (c Coordinates) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lng, c.Lat})
}

// UnmarshalJSON decodes a [lng, lat] pair.
func (c *Coordinates) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) < 2 {
		return fmt.Errorf("coordinates need 2 values, got %d", len(pair))
	}
	c.Lng, c.Lat = pair[0], pair[1]
	return nil
}

// MovementRecord is one attested presence of a person at a place.
type MovementRecord struct {
	ID             string       `json:"id"`
	PersonID       string       `json:"personId,omitempty"`
	PersonName     *string      `json:"personName"`
	PlaceName      *string      `json:"placeName"`
	Coordinates    *Coordinates `json:"coordinates"`
	YearStart      *int         `json:"yearStart"`
	YearEnd        *int         `json:"yearEnd"`
	IsHypothetical bool         `json:"isHypothetical"`
	Role           string       `json:"role"`
	Notes          *string      `json:"notes"`
	Resident       *bool        `json:"resident"`
	Source         *string      `json:"source"`

	// Raw is the API object the record was normalized from. Export uses it
	// for geometry and for extra columns addressed by path.
	Raw map[string]any `json:"-"`
}

// HasCoordinates reports whether the record can be placed on a map.
func (r MovementRecord) HasCoordinates() bool {
	return r.Coordinates != nil
}

// StartYear returns YearStart and whether it is set.
func (r MovementRecord) StartYear() (int, bool) {
	if r.YearStart == nil {
		return 0, false
	}
	return *r.YearStart, true
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
