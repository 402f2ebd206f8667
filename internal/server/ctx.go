package server

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/woozymasta/densitygrid/internal/observability"
	"github.com/woozymasta/densitygrid/internal/processor"

	"github.com/rs/zerolog/log"
)

// ServerContext holds dependencies for request handlers.
type ServerContext struct {
	Root    string // processor output directory
	Metrics *observability.ServerMetrics
}

// NewServerContext serves the grids below root. Nil metrics get a private
// registry.
func NewServerContext(root string, metrics *observability.ServerMetrics) *ServerContext {
	if metrics == nil {
		metrics = observability.NewServerMetrics()
	}

	s := &ServerContext{Root: root, Metrics: metrics}

	grids, err := s.Manifests()
	if err != nil {
		log.Warn().Err(err).Str("root", root).Msg("Failed to scan output directory")
	}
	log.Info().
		Str("root", root).
		Int("grids_count", len(grids)).
		Msg("Server context initialized successfully")

	return s
}

// Manifests returns the manifests of every completed region, sorted by
// region name. Unreadable manifests are logged and skipped.
func (s *ServerContext) Manifests() ([]processor.Manifest, error) {
	paths, err := filepath.Glob(filepath.Join(s.Root, "*", processor.ManifestFile))
	if err != nil {
		return nil, err
	}

	grids := make([]processor.Manifest, 0, len(paths))
	for _, path := range paths {
		m, err := processor.ReadManifest(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable manifest")
			continue
		}
		grids = append(grids, *m)
	}

	sort.Slice(grids, func(i, j int) bool { return grids[i].Region < grids[j].Region })
	s.Metrics.GridsAvailable.Set(float64(len(grids)))

	return grids, nil
}

// Manifest returns the manifest of one region, or os.ErrNotExist.
func (s *ServerContext) Manifest(region string) (*processor.Manifest, error) {
	if !safeName(region) {
		return nil, os.ErrNotExist
	}

	m, err := processor.ReadManifest(filepath.Join(s.Root, region, processor.ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, os.ErrNotExist
	}
	return m, err
}
