package grid

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Metric is the closed set of per-cell statistics the estimator produces.
type Metric int

const (
	Counts Metric = iota
	Density
)

func (m Metric) String() string {
	switch m {
	case Counts:
		return "counts"
	case Density:
		return "density"
	default:
		return fmt.Sprintf("metric(%d)", int(m))
	}
}

// Column identifies an attribute column: a metric plus an optional
// variant tag that keeps several density layers apart.
type Column struct {
	Metric  Metric
	Variant string
}

// Name is the column's wire name, e.g. "counts" or "density_20km".
func (c Column) Name() string {
	if c.Variant == "" {
		return c.Metric.String()
	}
	return c.Metric.String() + "_" + c.Variant
}

func (c Column) String() string { return c.Name() }

// ParseColumn is the inverse of Column.Name.
func ParseColumn(name string) (Column, error) {
	base, variant, _ := strings.Cut(name, "_")

	var m Metric
	switch base {
	case "counts":
		m = Counts
	case "density":
		m = Density
	default:
		return Column{}, fmt.Errorf("%w: unknown column %q", ErrInvalidParameter, name)
	}

	if strings.Contains(name, "_") && variant == "" {
		return Column{}, fmt.Errorf("%w: empty variant in column %q", ErrInvalidParameter, name)
	}
	if err := ValidateVariant(variant); err != nil {
		return Column{}, err
	}

	return Column{Metric: m, Variant: variant}, nil
}

// ValidateVariant accepts ASCII letters, digits, '.' and '-'. The empty
// variant is valid.
func ValidateVariant(v string) error {
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return fmt.Errorf("%w: variant %q contains %q", ErrInvalidParameter, v, r)
		}
	}
	return nil
}

// Value is an optional cell statistic. The zero Value is missing, which
// is distinct from a computed zero.
type Value struct {
	v  float64
	ok bool
}

// Some wraps v. NaN is never stored and yields a missing value.
func Some(v float64) Value {
	if math.IsNaN(v) {
		return Value{}
	}
	return Value{v: v, ok: true}
}

// Missing returns the "not evaluated" marker.
func Missing() Value { return Value{} }

// Get returns the value and whether it is present.
func (v Value) Get() (float64, bool) { return v.v, v.ok }

// IsMissing reports whether the value was not evaluated.
func (v Value) IsMissing() bool { return !v.ok }

// OrNaN returns the value, or NaN when missing.
func (v Value) OrNaN() float64 {
	if !v.ok {
		return math.NaN()
	}
	return v.v
}

func (v Value) String() string {
	if !v.ok {
		return "missing"
	}
	return fmt.Sprint(v.v)
}

// MarshalJSON encodes a missing value as null.
func (v Value) MarshalJSON() ([]byte, error) {
	if !v.ok {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// Cell is one lattice point with its attributes.
type Cell struct {
	Row, Col  int
	Center    orb.Point
	Within    bool
	Footprint orb.Bound

	attrs map[Column]Value
}

// Value returns the cell's value for col and whether the column is set.
func (c Cell) Value(col Column) (Value, bool) {
	v, ok := c.attrs[col]
	return v, ok
}

// Lattice is the row/column topology of a grid. Row 0 is the northernmost
// row; rows grow southward and columns grow eastward. (XMin, YMin) is the
// centre of the south-west cell.
type Lattice struct {
	Dx   float64 `json:"dx"`
	Rows int     `json:"rows"`
	Cols int     `json:"cols"`
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
}

// Len returns Rows*Cols.
func (l Lattice) Len() int { return l.Rows * l.Cols }

// Center returns the centre of cell (row, col).
func (l Lattice) Center(row, col int) orb.Point {
	return orb.Point{
		l.XMin + float64(col)*l.Dx,
		l.YMin + float64(l.Rows-1-row)*l.Dx,
	}
}

// Origin returns the north-west corner of cell (0, 0), the raster origin.
func (l Lattice) Origin() orb.Point {
	return orb.Point{
		l.XMin - l.Dx/2,
		l.YMin + float64(l.Rows-1)*l.Dx + l.Dx/2,
	}
}

// Index returns the row-major position of (row, col), or -1 when out of range.
func (l Lattice) Index(row, col int) int {
	if row < 0 || row >= l.Rows || col < 0 || col >= l.Cols {
		return -1
	}
	return row*l.Cols + col
}
