// Package processor runs the density-grid pipeline over configured regions:
// build the lattice, load observations, compute density layers and export
// vector, raster and manifest files per region.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/woozymasta/densitygrid/internal/config"
	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/observability"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrManifestExists is returned for regions already processed when Force
// is off.
var ErrManifestExists = errors.New("manifest exists")

// Options control a run.
type Options struct {
	OutputDir   string
	CRS         string
	UnitToKm    float64
	Concurrency int
	Force       bool
}

// OptionsFromConfig derives run options from a loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	unit, err := cfg.UnitToKm()
	if err != nil {
		return Options{}, err
	}
	return Options{
		OutputDir:   cfg.OutputDir,
		CRS:         cfg.CRS,
		UnitToKm:    unit,
		Concurrency: 1,
	}, nil
}

// Processor processes regions. Each region owns its own grid store, so
// regions run in parallel without shared state.
type Processor struct {
	opts    Options
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// New returns a Processor. A nil clock means the real clock; nil metrics
// get a private registry.
func New(opts Options, metrics *observability.Metrics, clock clockwork.Clock) *Processor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.UnitToKm <= 0 {
		opts.UnitToKm = geo.MetreToKm
	}

	return &Processor{opts: opts, clock: clock, metrics: metrics}
}

// Run processes every region with at most Concurrency regions in flight.
// A failing region does not stop the others; the returned error joins all
// region failures.
func (p *Processor) Run(ctx context.Context, regions []config.Region) error {
	runID := uuid.NewString()

	log.Info().
		Str("run_id", runID).
		Int("regions", len(regions)).
		Int("concurrency", p.opts.Concurrency).
		Bool("force", p.opts.Force).
		Msg("Starting density grid run")

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	sem := make(chan struct{}, p.opts.Concurrency)

	for _, r := range regions {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			mu.Lock()
			errs = append(errs, ctx.Err())
			mu.Unlock()
			wg.Wait()
			return errors.Join(errs...)
		}

		wg.Add(1)
		go func(r config.Region) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := p.runRegion(ctx, runID, r); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("region %s: %w", r.Name, err))
				mu.Unlock()
			}
		}(r)
	}
	wg.Wait()

	p.metrics.LastRunTimestamp.Set(float64(p.clock.Now().Unix()))

	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Int("failed", len(errs)).Msg("Density grid run finished with errors")
		return err
	}

	log.Info().Str("run_id", runID).Msg("Density grid run finished successfully")
	return nil
}

func (p *Processor) runRegion(ctx context.Context, runID string, r config.Region) error {
	start := p.clock.Now()
	m, err := p.ProcessRegion(ctx, runID, r)
	p.metrics.RegionDuration.Observe(p.clock.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrManifestExists):
		p.metrics.RegionsProcessed.WithLabelValues(observability.OutcomeSkipped).Inc()
		log.Info().Str("region", r.Name).Msg("Manifest exists, skipping region")
		return nil
	case err != nil:
		p.metrics.RegionsProcessed.WithLabelValues(observability.OutcomeFailure).Inc()
		log.Error().Err(err).Str("region", r.Name).Msg("Failed to process region")
		return err
	}

	p.metrics.RegionsProcessed.WithLabelValues(observability.OutcomeSuccess).Inc()
	log.Info().
		Str("region", r.Name).
		Int("rows", m.Lattice.Rows).
		Int("cols", m.Lattice.Cols).
		Int("files", len(m.Files)).
		Msg("Region processed")
	return nil
}
