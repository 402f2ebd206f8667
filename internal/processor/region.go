package processor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/woozymasta/densitygrid/internal/config"
	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/grid"
	"github.com/woozymasta/densitygrid/internal/observation"
	"github.com/woozymasta/densitygrid/internal/raster"

	"github.com/rs/zerolog/log"
)

// Output file names inside a region directory.
const (
	VectorFile       = "grid.geojson"
	MaskFile         = "mask.tif"
	ObservationsFile = "observations.geojson"
)

// ProcessRegion builds the grid of one region, computes its density layers
// and writes every output into <OutputDir>/<region>. The manifest is
// written last.
func (p *Processor) ProcessRegion(ctx context.Context, runID string, r config.Region) (*Manifest, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.opts.OutputDir, r.Name)
	manifestPath := filepath.Join(dir, ManifestFile)

	if !p.opts.Force {
		if _, err := os.Stat(manifestPath); err == nil {
			return nil, ErrManifestExists
		}
	}

	loaded, err := geo.LoadRegion(r.Boundary, r.Place)
	if err != nil {
		return nil, err
	}
	region := geo.NewRegion(r.Name, loaded.Polygon())

	store, err := grid.Build(region, r.Dx, grid.WithLinearUnit(p.opts.UnitToKm), grid.WithCRS(p.opts.CRS))
	if err != nil {
		return nil, err
	}
	lat := store.Lattice()
	p.metrics.CellsBuilt.Add(float64(store.Len()))
	p.metrics.CellsWithin.Add(float64(store.WithinCount()))

	log.Debug().
		Str("region", r.Name).
		Float64("dx", r.Dx).
		Int("rows", lat.Rows).
		Int("cols", lat.Cols).
		Int("within", store.WithinCount()).
		Msg("Lattice built")

	obs, err := p.loadLocations(ctx, r, region)
	if err != nil {
		return nil, err
	}
	points := observation.Points(obs)

	m := &Manifest{
		RunID:        runID,
		Region:       r.Name,
		Place:        r.Place,
		GeneratedAt:  p.clock.Now().UTC(),
		CRS:          store.CRS(),
		UnitToKm:     store.UnitToKm(),
		Lattice:      lat,
		Origin:       lat.Origin(),
		Cells:        store.Len(),
		CellsWithin:  store.WithinCount(),
		Observations: len(obs),
	}

	for _, l := range r.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		variant := l.Variant()
		if err := store.ComputeDensity(points, l.Buffer, variant); err != nil {
			return nil, fmt.Errorf("layer %s: %w", variant, err)
		}
		p.metrics.DensityLayers.Inc()

		layer := Layer{Variant: variant, Buffer: l.Buffer}
		if layer.Counts, err = store.Summarize(grid.Column{Metric: grid.Counts, Variant: variant}); err != nil {
			return nil, err
		}
		if layer.Density, err = store.Summarize(grid.Column{Metric: grid.Density, Variant: variant}); err != nil {
			return nil, err
		}
		m.Layers = append(m.Layers, layer)

		log.Debug().
			Str("region", r.Name).
			Str("layer", variant).
			Float64("buffer", l.Buffer).
			Float64("density_max", layer.Density.Max).
			Float64("density_mean", layer.Density.Mean).
			Msg("Density layer computed")
	}

	files, err := p.export(dir, store, region, r, obs)
	if err != nil {
		return nil, err
	}
	m.Files = files

	if err := writeManifest(manifestPath, m); err != nil {
		return nil, fmt.Errorf("%w: write manifest: %w", grid.ErrIO, err)
	}
	p.metrics.FilesWritten.WithLabelValues("manifest").Inc()

	return m, nil
}

// export writes the vector grid, the rasters and optional extras, and
// returns their names relative to dir.
func (p *Processor) export(dir string, store *grid.Store, region geo.Region, r config.Region, obs []observation.Observation) ([]string, error) {
	var files []string
	add := func(kind, path string) {
		p.metrics.FilesWritten.WithLabelValues(kind).Inc()
		files = append(files, filepath.Base(path))
	}

	vectorPath := filepath.Join(dir, VectorFile)
	if err := store.SaveVector(vectorPath); err != nil {
		return nil, err
	}
	add("vector", vectorPath)

	obsPath := filepath.Join(dir, ObservationsFile)
	if err := saveLocations(obsPath, obs); err != nil {
		return nil, fmt.Errorf("%w: save observations: %w", grid.ErrIO, err)
	}
	add("observations", obsPath)

	rasters, err := raster.SaveAll(store, dir+string(filepath.Separator))
	for _, path := range rasters {
		add("raster", path)
	}
	if err != nil {
		return nil, err
	}

	maskPath := filepath.Join(dir, MaskFile)
	if err := raster.SaveMask(maskPath, store); err != nil {
		return nil, err
	}
	add("mask", maskPath)
	add("world", raster.WorldFilePath(maskPath))

	if r.ASCIIGrid {
		gc := raster.GeocodingOf(store.Lattice(), store.CRS())
		for _, col := range store.Columns() {
			arr, err := store.ToArray(col)
			if err != nil {
				return nil, err
			}
			path := filepath.Join(dir, col.Name()+".asc")
			if err := raster.SaveASCII(path, arr, gc); err != nil {
				return nil, err
			}
			add("ascii", path)
		}
	}

	if r.ClipBuffer != nil {
		for _, path := range rasters {
			out, err := raster.ClipFile(path, region, *r.ClipBuffer)
			if err != nil {
				return nil, err
			}
			add("clipped", out)
		}
	}

	return files, nil
}
