// Package observation loads station locations that feed the density
// estimator. Sources are collected upstream and stored as GeoJSON or CSV in
// the grid's projected CRS; no reprojection happens here.
package observation

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/woozymasta/densitygrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// ErrNoLocation is returned for records that carry no usable coordinate.
var ErrNoLocation = errors.New("observation has no location")

// Observation is a single station.
type Observation struct {
	ID       string    `json:"id" yaml:"id"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	Location orb.Point `json:"location" yaml:"location"`
}

// Point implements orb.Pointer.
func (o Observation) Point() orb.Point { return o.Location }

// Source yields the observations relevant to a region.
type Source interface {
	Observations(ctx context.Context, region geo.Region) ([]Observation, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, region geo.Region) ([]Observation, error)

// Observations calls f.
func (f SourceFunc) Observations(ctx context.Context, region geo.Region) ([]Observation, error) {
	return f(ctx, region)
}

type multi []Source

// Multi concatenates the observations of several sources in order. It
// stops at the first failing source.
func Multi(sources ...Source) Source {
	return multi(sources)
}

func (m multi) Observations(ctx context.Context, region geo.Region) ([]Observation, error) {
	var all []Observation
	for i, s := range m {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		obs, err := s.Observations(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		all = append(all, obs...)
	}
	return all, nil
}

// Clip keeps the observations located inside region.
func Clip(obs []Observation, region geo.Region) []Observation {
	out := obs[:0:0]
	for _, o := range obs {
		if region.Contains(o.Location) {
			out = append(out, o)
		}
	}
	return out
}

// Points returns the locations of obs.
func Points(obs []Observation) []orb.Point {
	pts := make([]orb.Point, len(obs))
	for i, o := range obs {
		pts[i] = o.Location
	}
	return pts
}

// FeatureCollection converts obs into point features with "id" and
// "source" properties.
func FeatureCollection(obs []Observation) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, o := range obs {
		f := geojson.NewFeature(o.Location)
		f.ID = o.ID
		f.Properties["id"] = o.ID
		if o.Source != "" {
			f.Properties["source"] = o.Source
		}
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON encodes obs as a FeatureCollection.
func WriteGeoJSON(w io.Writer, obs []Observation) error {
	data, err := FeatureCollection(obs).MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
