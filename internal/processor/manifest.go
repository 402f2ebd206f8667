package processor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/grid"

	"github.com/paulmach/orb"
)

// ManifestFile is written last in every region directory; its presence
// marks the region as complete.
const ManifestFile = "manifest.json"

// Manifest describes the outputs of one region.
type Manifest struct {
	RunID        string       `json:"run_id"`
	Region       string       `json:"region"`
	Place        string       `json:"place,omitempty"`
	GeneratedAt  time.Time    `json:"generated_at"`
	CRS          string       `json:"crs,omitempty"`
	UnitToKm     float64      `json:"unit_to_km"`
	Lattice      grid.Lattice `json:"lattice"`
	Origin       orb.Point    `json:"origin"`
	Cells        int          `json:"cells"`
	CellsWithin  int          `json:"cells_within"`
	Observations int          `json:"observations"`
	Layers       []Layer      `json:"layers"`
	Files        []string     `json:"files"`
}

// Layer summarises one density layer.
type Layer struct {
	Variant string       `json:"variant"`
	Buffer  float64      `json:"buffer"`
	Counts  grid.Summary `json:"counts"`
	Density grid.Summary `json:"density"`
}

// ReadManifest loads a manifest written by the processor.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", path, err)
	}
	return &m, nil
}

func writeManifest(path string, m *Manifest) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	})
}
