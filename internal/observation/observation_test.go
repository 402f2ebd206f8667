package observation

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/woozymasta/densitygrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var box = geo.RegionFromBound("box", orb.Bound{Max: orb.Point{100, 100}})

func write(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const stationsGeoJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": "SN18700", "properties": {"name": "Blindern"},
     "geometry": {"type": "Point", "coordinates": [10, 20]}},
    {"type": "Feature", "properties": {"id": 42},
     "geometry": {"type": "Polygon", "coordinates": [[[40,40],[60,40],[60,60],[40,60],[40,40]]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "LineString", "coordinates": [[150,0],[170,0]]}},
    {"type": "Feature", "properties": {}, "geometry": null}
  ]
}`

func TestGeoJSONFile(t *testing.T) {
	path := write(t, "met.geojson", stationsGeoJSON)

	obs, err := GeoJSONFile{Path: path, Tag: "met"}.Observations(context.Background(), box)
	require.NoError(t, err)
	require.Len(t, obs, 3)

	assert.Equal(t, Observation{ID: "SN18700", Source: "met", Location: orb.Point{10, 20}}, obs[0])
	assert.Equal(t, "42", obs[1].ID)
	assert.InDelta(t, 50, obs[1].Location[0], 1e-9, "polygon centroid")
	assert.InDelta(t, 50, obs[1].Location[1], 1e-9)
	assert.Equal(t, "met-2", obs[2].ID)
	assert.InDelta(t, 160, obs[2].Location[0], 1e-9, "line centroid")
}

func TestGeoJSONFile_Clip(t *testing.T) {
	path := write(t, "met.geojson", stationsGeoJSON)

	obs, err := GeoJSONFile{Path: path, Tag: "met", Clip: true}.Observations(context.Background(), box)
	require.NoError(t, err)
	assert.Len(t, obs, 2, "the line at x=160 is outside")
}

func TestGeoJSONFile_Errors(t *testing.T) {
	_, err := GeoJSONFile{Path: filepath.Join(t.TempDir(), "none.geojson")}.Observations(context.Background(), box)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = GeoJSONFile{Path: write(t, "bad.geojson", "[")}.Observations(context.Background(), box)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = GeoJSONFile{Path: write(t, "ok.geojson", stationsGeoJSON)}.Observations(ctx, box)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocate(t *testing.T) {
	_, err := Locate(nil)
	assert.ErrorIs(t, err, ErrNoLocation)

	_, err = Locate(orb.MultiPoint{})
	assert.ErrorIs(t, err, ErrNoLocation)

	p, err := Locate(orb.MultiPoint{{0, 0}, {10, 0}, {10, 10}, {0, 10}})
	require.NoError(t, err)
	assert.InDelta(t, 5, p[0], 1e-9)
	assert.InDelta(t, 5, p[1], 1e-9)
}

func TestCSVFile(t *testing.T) {
	body := strings.Join([]string{
		"StationID, X, Y, elevation",
		"a, 10.5, 20, 100",
		", 200, 300, 5",
		"c, 50, 50, 1",
	}, "\n")
	path := write(t, "cml.csv", body)

	src := CSVFile{Path: path, Tag: "cml", IDColumn: "stationid"}
	obs, err := src.Observations(context.Background(), box)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, Observation{ID: "a", Source: "cml", Location: orb.Point{10.5, 20}}, obs[0])
	assert.Equal(t, "cml-1", obs[1].ID)

	src.Clip = true
	obs, err = src.Observations(context.Background(), box)
	require.NoError(t, err)
	assert.Len(t, obs, 2)
}

func TestCSVFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"no coordinates", "id,lat,lon\n1,2,3\n"},
		{"bad number", "id,x,y\n1,abc,3\n"},
		{"nan", "id,x,y\n1,NaN,3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CSVFile{}.Read(strings.NewReader(tt.body))
			assert.Error(t, err)
		})
	}
}

func TestMulti(t *testing.T) {
	a := SourceFunc(func(context.Context, geo.Region) ([]Observation, error) {
		return []Observation{{ID: "a"}}, nil
	})
	b := SourceFunc(func(context.Context, geo.Region) ([]Observation, error) {
		return []Observation{{ID: "b1"}, {ID: "b2"}}, nil
	})
	boom := errors.New("boom")
	failing := SourceFunc(func(context.Context, geo.Region) ([]Observation, error) {
		return nil, boom
	})

	obs, err := Multi(a, b).Observations(context.Background(), box)
	require.NoError(t, err)
	assert.Equal(t, []Observation{{ID: "a"}, {ID: "b1"}, {ID: "b2"}}, obs)

	_, err = Multi(a, failing, b).Observations(context.Background(), box)
	assert.ErrorIs(t, err, boom)
}

func TestPointsAndClip(t *testing.T) {
	obs := []Observation{
		{ID: "in", Location: orb.Point{50, 50}},
		{ID: "edge", Location: orb.Point{100, 50}},
		{ID: "out", Location: orb.Point{150, 50}},
	}

	assert.Equal(t, []orb.Point{{50, 50}, {100, 50}, {150, 50}}, Points(obs))

	kept := Clip(obs, box)
	require.Len(t, kept, 2)
	assert.Equal(t, "edge", kept[1].ID)
	assert.Len(t, obs, 3, "input untouched")
	assert.Equal(t, "out", obs[2].ID)
}

func TestWriteGeoJSON(t *testing.T) {
	obs := []Observation{{ID: "x1", Source: "netatmo", Location: orb.Point{1, 2}}}

	var buf bytes.Buffer
	require.NoError(t, WriteGeoJSON(&buf, obs))

	fc, err := geojson.UnmarshalFeatureCollection(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, orb.Point{1, 2}, fc.Features[0].Geometry)
	assert.Equal(t, "netatmo", fc.Features[0].Properties.MustString("source"))

	path := write(t, "round.geojson", buf.String())
	back, err := GeoJSONFile{Path: path, Tag: "netatmo"}.Observations(context.Background(), box)
	require.NoError(t, err)
	assert.Equal(t, obs, back)
}
