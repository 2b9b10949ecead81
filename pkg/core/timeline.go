// pkg/core/timeline.go
package core

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidRange is returned when a year range has Min > Max.
var ErrInvalidRange = errors.New("invalid year range")

// YearRange is a closed, inclusive interval of years.
type YearRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether year lies in [Min, Max].
func (r YearRange) Contains(year int) bool {
	return year >= r.Min && year <= r.Max
}

// Validate checks Min <= Max.
func (r YearRange) Validate() error {
	if r.Min > r.Max {
		return fmt.Errorf("%w: %d > %d", ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

// Clamp restricts r to the domain. A range entirely outside the domain
// collapses onto the nearest domain edge.
func (r YearRange) Clamp(domain YearRange) YearRange {
	out := r
	if out.Min < domain.Min {
		out.Min = domain.Min
	}
	if out.Max > domain.Max {
		out.Max = domain.Max
	}
	if out.Min > domain.Max {
		out.Min = domain.Max
	}
	if out.Max < domain.Min {
		out.Max = domain.Min
	}
	return out
}

// Union returns the smallest range covering both r and o.
func (r YearRange) Union(o YearRange) YearRange {
	out := r
	if o.Min < out.Min {
		out.Min = o.Min
	}
	if o.Max > out.Max {
		out.Max = o.Max
	}
	return out
}

// Len is the number of years in the range. It saturates at math.MaxInt
// for ranges wider than an int can count.
func (r YearRange) Len() int {
	if r.Min > r.Max {
		return 0
	}
	n := r.Max - r.Min
	if n < 0 || n == math.MaxInt {
		return math.MaxInt
	}
	return n + 1
}

func (r YearRange) String() string {
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// ViewportBounds is a map viewport in degrees.
type ViewportBounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}
