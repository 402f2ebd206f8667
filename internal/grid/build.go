// Package grid lays regular lattices over a bounding region, counts
// observations in a moving window around every cell and keeps the
// resulting columns in row-major order ready for vector or raster export.
package grid

import (
	"fmt"
	"math"

	"github.com/woozymasta/densitygrid/internal/geo"
)

// maxCells bounds the lattice size so a typo in dx fails fast instead of
// exhausting memory.
const maxCells = 1 << 26

// stepTolerance keeps exact multiples of dx from losing their last step to
// floating point rounding.
const stepTolerance = 1e-9

type options struct {
	unitToKm float64
	crs      string
}

// Option configures Build.
type Option func(*options)

// WithLinearUnit sets the kilometres per CRS linear unit (0.001 for metres).
func WithLinearUnit(unitToKm float64) Option {
	return func(o *options) { o.unitToKm = unitToKm }
}

// WithCRS records the coordinate reference identifier, e.g. "EPSG:32632".
func WithCRS(id string) Option {
	return func(o *options) { o.crs = id }
}

// Build lays a lattice of spacing dx over the region's bounding box. Cells
// are emitted row-major, north row first, and flagged Within when their
// centre lies inside the region.
func Build(region geo.Region, dx float64, opts ...Option) (*Store, error) {
	if !positive(dx) {
		return nil, fmt.Errorf("%w: dx must be a positive finite number, got %v", ErrInvalidParameter, dx)
	}

	o := options{unitToKm: geo.MetreToKm}
	for _, opt := range opts {
		opt(&o)
	}
	if !positive(o.unitToKm) {
		return nil, fmt.Errorf("%w: linear unit factor must be positive, got %v", ErrInvalidParameter, o.unitToKm)
	}

	if region.IsEmpty() {
		return nil, fmt.Errorf("%w: region %q has no area", ErrEmptyRegion, region.Name())
	}

	b := region.Bound()
	cols := steps(b.Max[0]-b.Min[0], dx)
	rows := steps(b.Max[1]-b.Min[1], dx)
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: region %q is narrower than dx=%v", ErrEmptyRegion, region.Name(), dx)
	}
	if rows > maxCells/cols {
		return nil, fmt.Errorf("%w: %dx%d lattice exceeds %d cells", ErrInvalidParameter, rows, cols, maxCells)
	}

	lat := Lattice{Dx: dx, Rows: rows, Cols: cols, XMin: b.Min[0], YMin: b.Min[1]}

	cells := make([]Cell, 0, lat.Len())
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			center := lat.Center(r, c)
			cells = append(cells, Cell{
				Row:       r,
				Col:       c,
				Center:    center,
				Within:    region.Contains(center),
				Footprint: geo.Square(center, dx/2),
				attrs:     make(map[Column]Value),
			})
		}
	}

	return &Store{
		lattice:  lat,
		cells:    cells,
		unitToKm: o.unitToKm,
		crs:      o.crs,
	}, nil
}

func steps(span, dx float64) int {
	n := math.Floor(span/dx + stepTolerance)
	if n <= 0 || math.IsNaN(n) {
		return 0
	}
	if n > maxCells {
		return maxCells
	}
	return int(n)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
