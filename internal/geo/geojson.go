// Package geo handles the planar geometry shared by the grid engine:
// bounding regions, axis-aligned windows and linear unit conversions.
// All coordinates are in one projected CRS with linear units.
package geo

import (
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// PlaceProperty is the feature property used to pick a region out of a
// multi-feature boundary file.
const PlaceProperty = "place"

// ErrNoRegion is returned when a boundary file has no usable polygon.
var ErrNoRegion = errors.New("no region polygon")

// Region is a named, immutable bounding polygon.
type Region struct {
	name    string
	polygon orb.Polygon
	bound   orb.Bound
}

// NewRegion copies the polygon and closes any open ring.
func NewRegion(name string, polygon orb.Polygon) Region {
	rings := make(orb.Polygon, 0, len(polygon))
	for _, ring := range polygon {
		if len(ring) == 0 {
			continue
		}
		r := make(orb.Ring, len(ring), len(ring)+1)
		copy(r, ring)
		if r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		rings = append(rings, r)
	}

	region := Region{name: name, polygon: rings}
	if len(rings) > 0 {
		region.bound = rings[0].Bound()
	}

	return region
}

// RegionFromBound returns the rectangular region covering b.
func RegionFromBound(name string, b orb.Bound) Region {
	return NewRegion(name, b.ToPolygon())
}

// Name returns the region name.
func (r Region) Name() string { return r.name }

// Polygon returns a copy of the region polygon.
func (r Region) Polygon() orb.Polygon { return r.polygon.Clone() }

// Bound returns the bounding box of the outer ring.
func (r Region) Bound() orb.Bound { return r.bound }

// IsEmpty reports whether the region has no area to lay a grid on.
func (r Region) IsEmpty() bool {
	if len(r.polygon) == 0 || len(r.polygon[0]) < 4 {
		return true
	}
	return r.bound.Max[0]-r.bound.Min[0] <= 0 || r.bound.Max[1]-r.bound.Min[1] <= 0
}

// Contains reports whether p lies inside the region. Points on the
// boundary are inside.
func (r Region) Contains(p orb.Point) bool {
	if len(r.polygon) == 0 {
		return false
	}
	return planar.PolygonContains(r.polygon, p)
}

// Distance returns the distance from p to the region boundary, or zero
// when p lies inside.
func (r Region) Distance(p orb.Point) float64 {
	if r.Contains(p) {
		return 0
	}
	return planar.DistanceFrom(r.polygon, p)
}

// LoadRegion reads a GeoJSON boundary file. When place is set, the first
// feature whose "place" property matches is used; otherwise the first
// polygonal feature. A MultiPolygon is accepted only with a single part.
func LoadRegion(path, place string) (Region, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Region{}, fmt.Errorf("read boundary %s: %w", path, err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return Region{}, fmt.Errorf("decode boundary %s: %w", path, err)
	}

	for _, f := range fc.Features {
		if place != "" && f.Properties.MustString(PlaceProperty, "") != place {
			continue
		}

		poly, err := polygonOf(f.Geometry)
		if err != nil {
			return Region{}, fmt.Errorf("boundary %s: %w", path, err)
		}

		name := place
		if name == "" {
			name = f.Properties.MustString(PlaceProperty, "")
		}

		return NewRegion(name, poly), nil
	}

	if place != "" {
		return Region{}, fmt.Errorf("%w: place %q not found in %s", ErrNoRegion, place, path)
	}
	return Region{}, fmt.Errorf("%w in %s", ErrNoRegion, path)
}

func polygonOf(g orb.Geometry) (orb.Polygon, error) {
	switch v := g.(type) {
	case orb.Polygon:
		return v, nil
	case orb.MultiPolygon:
		if len(v) != 1 {
			return nil, fmt.Errorf("%w: multipolygon with %d parts", ErrNoRegion, len(v))
		}
		return v[0], nil
	case orb.Bound:
		return v.ToPolygon(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported geometry %T", ErrNoRegion, g)
	}
}
