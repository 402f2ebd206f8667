package observation

import (
	"context"
	"fmt"
	"os"

	"github.com/woozymasta/densitygrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/rs/zerolog/log"
)

// GeoJSONFile reads observations from a FeatureCollection. Non-point
// geometries are reduced to their planar centroid.
type GeoJSONFile struct {
	Path string
	Tag  string // recorded as Observation.Source
	Clip bool   // drop observations outside the region
}

// Observations implements Source.
func (g GeoJSONFile) Observations(ctx context.Context, region geo.Region) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(g.Path)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode observations %s: %w", g.Path, err)
	}

	obs := make([]Observation, 0, len(fc.Features))
	skipped := 0
	for i, f := range fc.Features {
		loc, err := Locate(f.Geometry)
		if err != nil {
			skipped++
			continue
		}
		obs = append(obs, Observation{
			ID:       featureID(f, g.Tag, i),
			Source:   g.Tag,
			Location: loc,
		})
	}

	if skipped > 0 {
		log.Warn().
			Str("path", g.Path).
			Int("skipped", skipped).
			Msg("Features without usable geometry ignored")
	}

	if g.Clip {
		obs = Clip(obs, region)
	}

	log.Debug().
		Str("path", g.Path).
		Str("source", g.Tag).
		Int("count", len(obs)).
		Msg("Observations loaded")

	return obs, nil
}

// Locate returns a point geometry as is and the planar centroid of
// anything else.
func Locate(g orb.Geometry) (orb.Point, error) {
	switch v := g.(type) {
	case nil:
		return orb.Point{}, ErrNoLocation
	case orb.Point:
		return v, nil
	}

	if empty(g) {
		return orb.Point{}, ErrNoLocation
	}

	c, _ := planar.CentroidArea(g)
	if !finite(c) {
		// Zero-area shapes can yield NaN; fall back to the bound centre.
		c = g.Bound().Center()
	}
	if !finite(c) {
		return orb.Point{}, ErrNoLocation
	}
	return c, nil
}

func empty(g orb.Geometry) bool {
	switch v := g.(type) {
	case orb.MultiPoint:
		return len(v) == 0
	case orb.LineString:
		return len(v) == 0
	case orb.MultiLineString:
		return len(v) == 0
	case orb.Ring:
		return len(v) == 0
	case orb.Polygon:
		return len(v) == 0 || len(v[0]) == 0
	case orb.MultiPolygon:
		return len(v) == 0
	case orb.Collection:
		return len(v) == 0
	}
	return false
}

func featureID(f *geojson.Feature, tag string, i int) string {
	if f.ID != nil {
		return fmt.Sprint(f.ID)
	}
	if v, ok := f.Properties["id"]; ok && v != nil {
		return fmt.Sprint(v)
	}
	if tag != "" {
		return fmt.Sprintf("%s-%d", tag, i)
	}
	return fmt.Sprint(i)
}
