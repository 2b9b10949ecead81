package export

import (
	"bytes"
	"encoding/json"

	"github.com/movatlas/movements/internal/util"
	"github.com/movatlas/movements/pkg/core"
)

// Cell is one projected value.
type Cell struct {
	Key   string
	Value any
}

// Row is a projected record with cells in field table order.
type Row []Cell

// Get returns the value stored under key.
func (r Row) Get(key string) (any, bool) {
	for _, c := range r {
		if c.Key == key {
			return c.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as an object keeping column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(c.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Projector maps records through a field table.
type Projector struct {
	fields       []Field
	geometryPath string
}

// NewProjector creates a projector. A nil table uses DefaultFields.
func NewProjector(fields []Field) *Projector {
	if len(fields) == 0 {
		fields = DefaultFields()
	}
	return &Projector{fields: fields}
}

// WithGeometryPath sets the raw path GeoJSON export reads geometry from.
func (p *Projector) WithGeometryPath(path string) *Projector {
	p.geometryPath = path
	return p
}

// Fields returns the table in use.
func (p *Projector) Fields() []Field {
	return p.fields
}

// Keys returns the column keys in order.
func (p *Projector) Keys() []string {
	keys := make([]string, len(p.fields))
	for i, f := range p.fields {
		keys[i] = f.Key
	}
	return keys
}

// Project maps every record.
func (p *Projector) Project(records []core.MovementRecord) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = p.ProjectOne(r)
	}
	return rows
}

// ProjectOne maps one record. Unset values are nil.
func (p *Projector) ProjectOne(r core.MovementRecord) Row {
	row := make(Row, len(p.fields))
	for i, f := range p.fields {
		row[i] = Cell{Key: f.Key, Value: value(r, f)}
	}
	return row
}

func value(r core.MovementRecord, f Field) any {
	if f.Path != "" {
		v, _ := util.Lookup(r.Raw, f.Path)
		return v
	}
	switch f.Attr {
	case AttrID:
		return r.ID
	case AttrPersonID:
		return emptyAsNil(r.PersonID)
	case AttrPersonName:
		return deref(r.PersonName)
	case AttrPlaceName:
		return deref(r.PlaceName)
	case AttrCoordinates:
		if r.Coordinates == nil {
			return nil
		}
		return *r.Coordinates
	case AttrYearStart:
		return deref(r.YearStart)
	case AttrYearEnd:
		return deref(r.YearEnd)
	case AttrHypothetical:
		return r.IsHypothetical
	case AttrRole:
		return emptyAsNil(r.Role)
	case AttrNotes:
		return deref(r.Notes)
	case AttrResident:
		return deref(r.Resident)
	case AttrSource:
		return deref(r.Source)
	}
	return nil
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

func emptyAsNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
