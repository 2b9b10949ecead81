package marker

import (
	"encoding/json"
	"testing"

	"github.com/movatlas/movements/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(id string, year *int, place string, lng, lat float64) core.MovementRecord {
	return core.MovementRecord{
		ID:          id,
		YearStart:   year,
		PlaceName:   core.Ptr(place),
		Coordinates: &core.Coordinates{Lng: lng, Lat: lat},
	}
}

func ids(ms []core.MovementRecord) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestBuild_MergesIdenticalCoordinates(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a", core.Ptr(1550), "Lyon", 4.8, 45.7),
		rec("b", core.Ptr(1550), "Lyon", 4.8, 45.7),
		rec("c", core.Ptr(1560), "Paris", 2.35, 48.85),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, "Lyon", *groups[0].PlaceName)
	assert.Equal(t, 2, groups[0].Len())
	assert.Equal(t, "Paris", *groups[1].PlaceName)
	assert.Equal(t, 1, groups[1].Len())
	assert.False(t, groups[0].IsMostRecent)
	assert.True(t, groups[1].IsMostRecent)
}

func TestBuild_NoProximityMerging(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a", core.Ptr(1550), "A", 4.8, 45.7),
		rec("b", core.Ptr(1550), "A", 4.8000000001, 45.7),
	})
	assert.Len(t, groups, 2)
}

func TestBuild_SkipsMissingCoordinates(t *testing.T) {
	groups := Build([]core.MovementRecord{
		{ID: "x", YearStart: core.Ptr(1500)},
		rec("a", core.Ptr(1550), "Lyon", 4.8, 45.7),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a"}, ids(groups[0].Movements))
}

func TestBuild_NewestFirstWithUndatedLast(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("old", core.Ptr(1510), "Lyon", 4.8, 45.7),
		rec("undated", nil, "Lyon", 4.8, 45.7),
		rec("new", core.Ptr(1590), "Lyon", 4.8, 45.7),
		rec("mid1", core.Ptr(1550), "Lyon", 4.8, 45.7),
		rec("mid2", core.Ptr(1550), "Lyon", 4.8, 45.7),
	})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"new", "mid1", "mid2", "old", "undated"}, ids(groups[0].Movements))

	latest, ok := groups[0].Latest()
	assert.True(t, ok)
	assert.Equal(t, 1590, latest)
	earliest, ok := groups[0].Earliest()
	assert.True(t, ok)
	assert.Equal(t, 1510, earliest)
}

func TestBuild_MostRecentTieGoesToFirstGroup(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a", core.Ptr(1580), "A", 1, 1),
		rec("b", core.Ptr(1580), "B", 2, 2),
		rec("c", core.Ptr(1500), "C", 3, 3),
	})
	require.Len(t, groups, 3)
	assert.True(t, groups[0].IsMostRecent)
	assert.False(t, groups[1].IsMostRecent)
	assert.False(t, groups[2].IsMostRecent)
}

func TestBuild_NoDatedRecordsMeansNoMostRecent(t *testing.T) {
	groups := Build([]core.MovementRecord{rec("a", nil, "A", 1, 1)})
	require.Len(t, groups, 1)
	assert.False(t, groups[0].IsMostRecent)
	_, ok := groups[0].Latest()
	assert.False(t, ok)
}

func TestBuild_Empty(t *testing.T) {
	assert.Empty(t, Build(nil))
}

func TestBuild_Idempotent(t *testing.T) {
	records := []core.MovementRecord{
		rec("a", core.Ptr(1550), "Lyon", 4.8, 45.7),
		rec("b", core.Ptr(1560), "Paris", 2.35, 48.85),
		rec("c", core.Ptr(1540), "Lyon", 4.8, 45.7),
	}
	first := Build(records)
	second := Build(Flatten(first))

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Coordinates, second[i].Coordinates)
		assert.Equal(t, ids(first[i].Movements), ids(second[i].Movements))
		assert.Equal(t, first[i].IsMostRecent, second[i].IsMostRecent)
	}
}

func TestCursor_Clamps(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a", core.Ptr(1530), "A", 1, 1),
		rec("b", core.Ptr(1520), "A", 1, 1),
		rec("c", core.Ptr(1510), "A", 1, 1),
	})
	g := groups[0]

	assert.Equal(t, 0, g.Index())
	assert.False(t, g.Prev(), "prev at index 0 is a no-op")
	assert.Equal(t, 0, g.Index())

	assert.True(t, g.Next())
	assert.True(t, g.Next())
	assert.Equal(t, 2, g.Index())
	assert.Equal(t, "c", g.Current().ID)

	assert.False(t, g.Next(), "next at last index is a no-op")
	assert.Equal(t, 2, g.Index())

	assert.True(t, g.Prev())
	assert.Equal(t, "b", g.Current().ID)
}

func TestCursor_IndependentPerGroup(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a1", core.Ptr(1530), "A", 1, 1),
		rec("a2", core.Ptr(1520), "A", 1, 1),
		rec("b1", core.Ptr(1530), "B", 2, 2),
		rec("b2", core.Ptr(1520), "B", 2, 2),
	})
	groups[0].Next()
	assert.Equal(t, 1, groups[0].Index())
	assert.Equal(t, 0, groups[1].Index())
}

func TestCursor_Seek(t *testing.T) {
	g := Build([]core.MovementRecord{
		rec("a", core.Ptr(1530), "A", 1, 1),
		rec("b", core.Ptr(1520), "A", 1, 1),
	})[0]

	g.Seek(10)
	assert.Equal(t, 1, g.Index())
	g.Seek(-3)
	assert.Equal(t, 0, g.Index())
}

func TestLabels(t *testing.T) {
	g := Build([]core.MovementRecord{
		{ID: "a", YearStart: core.Ptr(1550), YearEnd: core.Ptr(1555), Coordinates: &core.Coordinates{Lng: 1, Lat: 1}},
		{ID: "b", Coordinates: &core.Coordinates{Lng: 1, Lat: 1}},
		{ID: "c", YearStart: core.Ptr(1560), Coordinates: &core.Coordinates{Lng: 1, Lat: 1}},
	})[0]
	assert.Equal(t, []string{"1560-?", "1550-1555", "?-?"}, g.Labels())
}

func TestAsOf(t *testing.T) {
	groups := Build([]core.MovementRecord{
		rec("a", core.Ptr(1510), "A", 1, 1),
		rec("b", core.Ptr(1550), "B", 2, 2),
		rec("c", core.Ptr(1570), "A", 1, 1),
		rec("d", nil, "C", 3, 3),
	})

	at := AsOf(groups, 1550)
	require.Len(t, at, 2)
	assert.Equal(t, []string{"a"}, ids(at[0].Movements))
	assert.Equal(t, []string{"b"}, ids(at[1].Movements))
	assert.True(t, at[1].IsMostRecent)
}

func TestGroup_MarshalJSON(t *testing.T) {
	g := Build([]core.MovementRecord{rec("a", core.Ptr(1550), "Lyon", 4.8, 45.7)})[0]
	data, err := json.Marshal(g)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, []any{4.8, 45.7}, out["coordinates"])
	assert.Equal(t, "Lyon", out["placeName"])
	assert.Equal(t, true, out["isMostRecent"])
	assert.Equal(t, float64(0), out["cursor"])
	assert.Equal(t, []any{"1550-?"}, out["labels"])
}

func TestGroup_CloneIsIndependent(t *testing.T) {
	g := Build([]core.MovementRecord{
		rec("a", core.Ptr(1550), "Lyon", 4.8, 45.7),
		rec("b", core.Ptr(1560), "Lyon", 4.8, 45.7),
	})[0]
	g.Next()

	cp := g.Clone()
	assert.Equal(t, 1, cp.Index())
	cp.Prev()
	cp.Movements[0].ID = "changed"

	assert.Equal(t, 1, g.Index())
	assert.Equal(t, "b", g.Movements[0].ID)
}
