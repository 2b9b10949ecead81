package geo

import (
	"math/rand"
	"testing"

	"github.com/movatlas/movements/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var france = &core.ViewportBounds{South: 42, West: -5, North: 51, East: 8}

func TestInBounds(t *testing.T) {
	tests := []struct {
		name string
		c    core.Coordinates
		want bool
	}{
		{"inside", core.Coordinates{Lng: 2.35, Lat: 48.85}, true},
		{"west edge", core.Coordinates{Lng: -5, Lat: 45}, true},
		{"north east corner", core.Coordinates{Lng: 8, Lat: 51}, true},
		{"too far east", core.Coordinates{Lng: 8.0001, Lat: 45}, false},
		{"too far south", core.Coordinates{Lng: 0, Lat: 41.9}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InBounds(tt.c, france))
		})
	}
}

func TestInBounds_NilBoundsIsFailOpen(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		c := core.Coordinates{Lng: r.Float64()*360 - 180, Lat: r.Float64()*180 - 90}
		require.True(t, InBounds(c, nil), "point %v", c)
	}
}

func TestVisible(t *testing.T) {
	records := []core.MovementRecord{
		{ID: "paris", Coordinates: &core.Coordinates{Lng: 2.35, Lat: 48.85}},
		{ID: "rome", Coordinates: &core.Coordinates{Lng: 12.5, Lat: 41.9}},
		{ID: "nowhere"},
	}

	vis := Visible(records, france)
	require.Len(t, vis, 1)
	assert.Equal(t, "paris", vis[0].ID)

	all := Visible(records, nil)
	assert.Len(t, all, 2, "records without coordinates are never visible")
}

func TestCountVisible(t *testing.T) {
	records := []core.MovementRecord{
		{Coordinates: &core.Coordinates{Lng: 2.35, Lat: 48.85}},
		{Coordinates: &core.Coordinates{Lng: 12.5, Lat: 41.9}},
		{},
	}
	assert.Equal(t, Counts{Visible: 1, Mapped: 2, All: 3}, CountVisible(records, france))
	assert.Equal(t, Counts{Visible: 2, Mapped: 2, All: 3}, CountVisible(records, nil))
}

func TestParseBounds(t *testing.T) {
	b, err := ParseBounds("42,-5,51,8")
	require.NoError(t, err)
	assert.Equal(t, france, b)

	b, err = ParseBounds("  ")
	require.NoError(t, err)
	assert.Nil(t, b)

	for _, bad := range []string{"1,2,3", "a,b,c,d", "51,-5,42,8"} {
		_, err := ParseBounds(bad)
		assert.Error(t, err, bad)
	}
}
