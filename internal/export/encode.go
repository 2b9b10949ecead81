package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/peterstace/simplefeatures/geom"

	"github.com/movatlas/movements/internal/geo"
	"github.com/movatlas/movements/internal/util"
	"github.com/movatlas/movements/pkg/core"
)

// PlaceCountProperty is the GeoJSON property carrying how many exported
// records share the feature's place name.
const PlaceCountProperty = "count"

// Encode serializes records in the given format.
func (p *Projector) Encode(format core.Format, records []core.MovementRecord) ([]byte, error) {
	switch format {
	case core.FormatCSV:
		return p.EncodeCSV(records)
	case core.FormatJSON:
		return p.EncodeJSON(records)
	case core.FormatGeoJSON:
		return p.EncodeGeoJSON(records)
	}
	return nil, fmt.Errorf("%w: %q", core.ErrUnknownFormat, format)
}

// EncodeCSV writes a header row of field keys and one row per record.
// Coordinates become "lng,lat"; nil values are empty.
func (p *Projector) EncodeCSV(records []core.MovementRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(p.Keys()); err != nil {
		return nil, err
	}
	line := make([]string, len(p.fields))
	for _, row := range p.Project(records) {
		for i, c := range row {
			s, err := formatCell(c.Value)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", c.Key, err)
			}
			line[i] = s
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatCell(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case core.Coordinates:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case json.Number:
		return t.String(), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeJSON writes an array of projected rows. Coordinates stay a nested
// [lng, lat] pair.
func (p *Projector) EncodeJSON(records []core.MovementRecord) ([]byte, error) {
	return json.MarshalIndent(p.Project(records), "", "  ")
}

// EncodeGeoJSON writes a FeatureCollection with one Point feature per
// record that has coordinates. Records without coordinates, or whose
// coordinates are not a valid point, are dropped. When a geometry path is
// set and the raw object holds parseable geometry there, that geometry is
// used as is.
func (p *Projector) EncodeGeoJSON(records []core.MovementRecord) ([]byte, error) {
	type located struct {
		r core.MovementRecord
		g geom.Geometry
	}
	kept := make([]located, 0, len(records))
	counts := make(map[string]int)
	for _, r := range records {
		if !r.HasCoordinates() {
			continue
		}
		g, err := p.geometry(r)
		if err != nil {
			continue
		}
		kept = append(kept, located{r: r, g: g})
		if r.PlaceName != nil {
			counts[*r.PlaceName]++
		}
	}

	fc := make(geom.GeoJSONFeatureCollection, 0, len(kept))
	for _, k := range kept {
		props := make(map[string]any, len(p.fields)+1)
		for i, c := range p.ProjectOne(k.r) {
			if p.fields[i].Attr == AttrCoordinates {
				continue
			}
			props[c.Key] = c.Value
		}
		if k.r.PlaceName != nil {
			props[PlaceCountProperty] = counts[*k.r.PlaceName]
		} else {
			props[PlaceCountProperty] = 0
		}

		feature := geom.GeoJSONFeature{
			Geometry:   k.g,
			Properties: props,
		}
		if k.r.ID != "" {
			feature.ID = k.r.ID
		}
		fc = append(fc, feature)
	}
	return json.Marshal(fc)
}

func (p *Projector) geometry(r core.MovementRecord) (geom.Geometry, error) {
	if p.geometryPath != "" {
		if raw, ok := util.Lookup(r.Raw, p.geometryPath); ok {
			if g, ok := rawGeometry(raw); ok {
				return g, nil
			}
		}
	}
	pt, err := geo.Point(*r.Coordinates)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("record %s: %w", r.ID, err)
	}
	return pt.AsGeometry(), nil
}

func rawGeometry(v any) (geom.Geometry, bool) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return geom.Geometry{}, false
		}
		data = b
	}
	var g geom.Geometry
	if err := json.Unmarshal(data, &g); err != nil || g.IsEmpty() {
		return geom.Geometry{}, false
	}
	return g, true
}
