package processor

import (
	"context"
	"fmt"
	"io"

	"github.com/woozymasta/densitygrid/internal/config"
	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/observation"

	"github.com/rs/zerolog/log"
)

// sourceFor assembles the observation sources of a region.
func sourceFor(r config.Region) observation.Source {
	sources := make([]observation.Source, 0, len(r.Sources))
	for _, s := range r.Sources {
		switch s.ResolvedFormat() {
		case config.FormatCSV:
			sources = append(sources, observation.CSVFile{
				Path:     s.Path,
				Tag:      s.Tag,
				Clip:     s.Clip,
				IDColumn: s.IDColumn,
				XColumn:  s.XColumn,
				YColumn:  s.YColumn,
			})
		default:
			sources = append(sources, observation.GeoJSONFile{
				Path: s.Path,
				Tag:  s.Tag,
				Clip: s.Clip,
			})
		}
	}

	return observation.Multi(sources...)
}

// loadLocations fetches the station locations of a region and counts them
// per source tag.
func (p *Processor) loadLocations(ctx context.Context, r config.Region, region geo.Region) ([]observation.Observation, error) {
	obs, err := sourceFor(r).Observations(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("load observations: %w", err)
	}

	perSource := make(map[string]int)
	for _, o := range obs {
		perSource[o.Source]++
	}
	for tag, n := range perSource {
		p.metrics.ObservationsLoaded.WithLabelValues(tag).Add(float64(n))
	}

	log.Info().
		Str("region", r.Name).
		Int("observations", len(obs)).
		Int("sources", len(r.Sources)).
		Msg("Observations loaded")

	return obs, nil
}

// saveLocations writes the observations used for a grid next to it.
func saveLocations(path string, obs []observation.Observation) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		return observation.WriteGeoJSON(w, obs)
	})
}
