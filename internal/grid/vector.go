package grid

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// latticeMember is the FeatureCollection foreign member carrying the grid
// topology next to the cell features.
const latticeMember = "lattice"

// Cell feature property keys.
const (
	propRow    = "row"
	propCol    = "col"
	propWithin = "within"
)

type vectorHeader struct {
	Lattice
	CRS      string   `json:"crs,omitempty"`
	UnitToKm float64  `json:"unit_to_km"`
	Columns  []string `json:"columns"`
}

// SaveVector writes the grid as GeoJSON to path, replacing it atomically.
func (s *Store) SaveVector(path string) error {
	if err := fsutil.WriteAtomic(path, s.WriteVector); err != nil {
		return fmt.Errorf("%w: save vector %s: %w", ErrIO, path, err)
	}
	return nil
}

// WriteVector encodes the grid as a GeoJSON FeatureCollection with one
// Point feature per cell. Missing values are written as null.
func (s *Store) WriteVector(w io.Writer) error {
	header := vectorHeader{
		Lattice:  s.lattice,
		CRS:      s.crs,
		UnitToKm: s.unitToKm,
		Columns:  make([]string, len(s.columns)),
	}
	for i, col := range s.columns {
		header.Columns[i] = col.Name()
	}

	fc := geojson.NewFeatureCollection()
	fc.ExtraMembers = geojson.Properties{latticeMember: header}

	for _, c := range s.cells {
		f := geojson.NewFeature(c.Center)
		f.Properties[propRow] = c.Row
		f.Properties[propCol] = c.Col
		f.Properties[propWithin] = c.Within
		for _, col := range s.columns {
			f.Properties[col.Name()] = c.attrs[col]
		}
		fc.Append(f)
	}

	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode grid: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	return nil
}

// LoadVector reads a grid written by SaveVector.
func LoadVector(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load vector: %w", ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	s, err := ReadVector(f)
	if err != nil {
		return nil, fmt.Errorf("load vector %s: %w", path, err)
	}
	return s, nil
}

// ReadVector decodes a grid from GeoJSON. The lattice member must be
// present and the features must cover every (row, col) exactly once.
func ReadVector(r io.Reader) (*Store, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode grid: %w", ErrIO, err)
	}

	header, err := decodeHeader(fc.ExtraMembers)
	if err != nil {
		return nil, err
	}

	lat := header.Lattice
	if !positive(lat.Dx) || lat.Rows <= 0 || lat.Cols <= 0 || lat.Rows > maxCells/lat.Cols {
		return nil, fmt.Errorf("%w: invalid lattice %+v", ErrShapeMismatch, lat)
	}
	if len(fc.Features) != lat.Len() {
		return nil, fmt.Errorf("%w: %d features for a %dx%d lattice", ErrShapeMismatch, len(fc.Features), lat.Rows, lat.Cols)
	}
	if !positive(header.UnitToKm) {
		return nil, fmt.Errorf("%w: unit_to_km %v", ErrInvalidParameter, header.UnitToKm)
	}

	columns := make([]Column, len(header.Columns))
	for i, name := range header.Columns {
		col, err := ParseColumn(name)
		if err != nil {
			return nil, err
		}
		if slices.Contains(columns[:i], col) {
			return nil, fmt.Errorf("%w: column %q listed twice", ErrShapeMismatch, name)
		}
		columns[i] = col
	}

	cells := make([]Cell, lat.Len())
	seen := make([]bool, lat.Len())
	for n, f := range fc.Features {
		row := f.Properties.MustInt(propRow, -1)
		col := f.Properties.MustInt(propCol, -1)
		i := lat.Index(row, col)
		if i < 0 {
			return nil, fmt.Errorf("%w: feature %d has cell (%d, %d) outside the lattice", ErrShapeMismatch, n, row, col)
		}
		if seen[i] {
			return nil, fmt.Errorf("%w: duplicate cell (%d, %d)", ErrShapeMismatch, row, col)
		}
		seen[i] = true

		center, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("%w: feature %d geometry is %T, want Point", ErrIO, n, f.Geometry)
		}

		attrs := make(map[Column]Value, len(columns))
		for _, c := range columns {
			v, err := propertyValue(f.Properties, c.Name())
			if err != nil {
				return nil, fmt.Errorf("%w: cell (%d, %d): %w", ErrIO, row, col, err)
			}
			attrs[c] = v
		}

		cells[i] = Cell{
			Row:       row,
			Col:       col,
			Center:    center,
			Within:    f.Properties.MustBool(propWithin, false),
			Footprint: geo.Square(center, lat.Dx/2),
			attrs:     attrs,
		}
	}

	return &Store{
		lattice:  lat,
		cells:    cells,
		columns:  columns,
		unitToKm: header.UnitToKm,
		crs:      header.CRS,
	}, nil
}

func decodeHeader(members geojson.Properties) (vectorHeader, error) {
	raw, ok := members[latticeMember]
	if !ok {
		return vectorHeader{}, fmt.Errorf("%w: no %q member", ErrShapeMismatch, latticeMember)
	}

	// The member arrives as a generic map; round-trip it into the struct.
	data, err := json.Marshal(raw)
	if err != nil {
		return vectorHeader{}, fmt.Errorf("%w: lattice member: %w", ErrIO, err)
	}

	var h vectorHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return vectorHeader{}, fmt.Errorf("%w: lattice member: %w", ErrIO, err)
	}
	return h, nil
}

func propertyValue(props geojson.Properties, key string) (Value, error) {
	switch v := props[key].(type) {
	case nil:
		return Missing(), nil
	case float64:
		return Some(v), nil
	case int:
		return Some(float64(v)), nil
	case Value:
		return v, nil
	default:
		return Value{}, fmt.Errorf("property %q has type %T", key, v)
	}
}
