package grid

import (
	"fmt"
	"math"

	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/index"

	"github.com/paulmach/orb"
)

// indexThreshold is the point count from which windows are answered by the
// R-Tree instead of a linear scan.
const indexThreshold = 64

type windowCounter interface {
	Count(w orb.Bound) int
}

type scanCounter []orb.Point

func (s scanCounter) Count(w orb.Bound) int {
	n := 0
	for _, p := range s {
		if geo.InWindow(w, p) {
			n++
		}
	}
	return n
}

func newCounter(points []orb.Point) windowCounter {
	if len(points) < indexThreshold {
		return scanCounter(points)
	}
	return index.New(points)
}

// ComputeDensity counts points in a square window around every Within cell
// and stores the counts and density columns tagged with variant.
//
// The counting window has half-width buffer-dx/2 and is closed, so points on
// its edge are counted. Density is count per km² of the nominal (2*buffer)²
// window. Cells outside the region get missing values in both columns.
// buffer must be at least dx. On error the store is left untouched;
// recomputing an existing variant overwrites it.
func (s *Store) ComputeDensity(points []orb.Point, buffer float64, variant string) error {
	dx := s.lattice.Dx
	if math.IsNaN(buffer) || math.IsInf(buffer, 0) || buffer < dx {
		return fmt.Errorf("%w: buffer %v must be a finite value >= dx (%v)", ErrInvalidParameter, buffer, dx)
	}
	if err := ValidateVariant(variant); err != nil {
		return err
	}

	counter := newCounter(points)
	half := buffer - dx/2
	area := geo.AreaKm2(2*buffer, s.unitToKm)
	if !positive(area) {
		return fmt.Errorf("%w: window area %v km² is not positive", ErrInvalidParameter, area)
	}

	counts := make([]Value, len(s.cells))
	density := make([]Value, len(s.cells))
	for i, c := range s.cells {
		if !c.Within {
			continue
		}
		n := float64(counter.Count(geo.Square(c.Center, half)))
		counts[i] = Some(n)
		density[i] = Some(n / area)
	}

	s.commit(Column{Metric: Counts, Variant: variant}, counts)
	s.commit(Column{Metric: Density, Variant: variant}, density)

	return nil
}
