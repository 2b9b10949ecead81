// Package export projects movement records into a stable schema and
// serializes them as CSV, JSON or GeoJSON.
package export

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Record attributes a Field can take its value from.
const (
	AttrID           = "id"
	AttrPersonID     = "personId"
	AttrPersonName   = "personName"
	AttrPlaceName    = "placeName"
	AttrCoordinates  = "coordinates"
	AttrYearStart    = "yearStart"
	AttrYearEnd      = "yearEnd"
	AttrHypothetical = "isHypothetical"
	AttrRole         = "role"
	AttrNotes        = "notes"
	AttrResident     = "resident"
	AttrSource       = "source"
)

var knownAttrs = map[string]bool{
	AttrID: true, AttrPersonID: true, AttrPersonName: true, AttrPlaceName: true,
	AttrCoordinates: true, AttrYearStart: true, AttrYearEnd: true,
	AttrHypothetical: true, AttrRole: true, AttrNotes: true,
	AttrResident: true, AttrSource: true,
}

// ErrInvalidField is returned for a field table entry that cannot be
// resolved.
var ErrInvalidField = errors.New("invalid export field")

// Field maps one export column. Exactly one of Attr (a normalized record
// attribute) or Path (a dotted path into the raw API object) is set.
type Field struct {
	Key         string `yaml:"key"`
	Attr        string `yaml:"attr,omitempty"`
	Path        string `yaml:"path,omitempty"`
	Description string `yaml:"description"`
}

// Validate checks the entry.
func (f Field) Validate() error {
	switch {
	case f.Key == "":
		return fmt.Errorf("%w: empty key", ErrInvalidField)
	case f.Attr == "" && f.Path == "":
		return fmt.Errorf("%w: %s has neither attr nor path", ErrInvalidField, f.Key)
	case f.Attr != "" && f.Path != "":
		return fmt.Errorf("%w: %s has both attr and path", ErrInvalidField, f.Key)
	case f.Attr != "" && !knownAttrs[f.Attr]:
		return fmt.Errorf("%w: %s has unknown attr %q", ErrInvalidField, f.Key, f.Attr)
	}
	return nil
}

// DefaultFields is the export schema. Keys stay fixed when upstream
// column names change.
func DefaultFields() []Field {
	return []Field{
		{Key: "id", Attr: AttrID, Description: "Movement identifier in the source database"},
		{Key: "person", Attr: AttrPersonName, Description: "Full name of the person"},
		{Key: "place", Attr: AttrPlaceName, Description: "Name of the place"},
		{Key: "coordinates", Attr: AttrCoordinates, Description: "Place position as longitude,latitude (WGS84)"},
		{Key: "year_start", Attr: AttrYearStart, Description: "First attested year at the place"},
		{Key: "year_end", Attr: AttrYearEnd, Description: "Last attested year at the place, empty if unknown"},
		{Key: "hypothetical", Attr: AttrHypothetical, Description: "true when the dating is inferred rather than documented"},
		{Key: "role", Attr: AttrRole, Description: "Capacity in which the person moved"},
		{Key: "resident", Attr: AttrResident, Description: "true when the person resided at the place"},
		{Key: "notes", Attr: AttrNotes, Description: "Notes on the movement, may contain markup"},
		{Key: "source", Attr: AttrSource, Description: "Documentary source"},
	}
}

type fieldFile struct {
	Replace bool    `yaml:"replace"`
	Fields  []Field `yaml:"fields"`
}

// LoadFields reads a YAML field table. Its fields are appended to the
// defaults unless the file sets replace: true. An empty path returns the
// defaults.
func LoadFields(path string) ([]Field, error) {
	if path == "" {
		return DefaultFields(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading field table: %w", err)
	}
	return ParseFields(data)
}

// ParseFields decodes a YAML field table; see LoadFields.
func ParseFields(data []byte) ([]Field, error) {
	var ff fieldFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parsing field table: %w", err)
	}

	var out []Field
	if !ff.Replace {
		out = DefaultFields()
	}
	out = append(out, ff.Fields...)

	seen := make(map[string]bool, len(out))
	for _, f := range out {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if seen[f.Key] {
			return nil, fmt.Errorf("%w: duplicate key %s", ErrInvalidField, f.Key)
		}
		seen[f.Key] = true
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: table is empty", ErrInvalidField)
	}
	return out, nil
}
