// Package config handles configuration loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/grid"

	"gopkg.in/yaml.v3"
)

// DefaultOutputDir is used when the configuration does not name one.
const DefaultOutputDir = "grids"

// Source formats.
const (
	FormatGeoJSON = "geojson"
	FormatCSV     = "csv"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config validation failed")

// Config represents the root configuration file structure.
type Config struct {
	OutputDir  string   `yaml:"output_dir,omitempty" json:"output_dir,omitempty"`
	CRS        string   `yaml:"crs,omitempty" json:"crs,omitempty"`                 // e.g. EPSG:32632
	LinearUnit string   `yaml:"linear_unit,omitempty" json:"linear_unit,omitempty"` // CRS unit, metres if empty
	Regions    []Region `yaml:"regions" json:"regions"`
}

// Region describes one grid to build.
type Region struct {
	Name       string   `yaml:"name" json:"name"`
	Boundary   string   `yaml:"boundary" json:"boundary"` // GeoJSON file
	Place      string   `yaml:"place,omitempty" json:"place,omitempty"`
	Dx         float64  `yaml:"dx" json:"dx"`
	Layers     []Layer  `yaml:"layers" json:"layers"`
	Sources    []Source `yaml:"sources" json:"sources"`
	ClipBuffer *float64 `yaml:"clip_buffer,omitempty" json:"clip_buffer,omitempty"` // clipped rasters when set
	ASCIIGrid  bool     `yaml:"ascii_grid,omitempty" json:"ascii_grid,omitempty"`
}

// Layer is one density computation on a region's grid.
type Layer struct {
	Name   string  `yaml:"name,omitempty" json:"name,omitempty"`
	Buffer float64 `yaml:"buffer" json:"buffer"`
}

// Variant returns the column variant: the layer name, or the buffer
// formatted as a number.
func (l Layer) Variant() string {
	if l.Name != "" {
		return l.Name
	}
	return strconv.FormatFloat(l.Buffer, 'f', -1, 64)
}

// Source is an observation file.
type Source struct {
	Path     string `yaml:"path" json:"path"`
	Tag      string `yaml:"tag,omitempty" json:"tag,omitempty"`
	Format   string `yaml:"format,omitempty" json:"format,omitempty"` // inferred from the extension if empty
	Clip     bool   `yaml:"clip,omitempty" json:"clip,omitempty"`
	IDColumn string `yaml:"id_column,omitempty" json:"id_column,omitempty"`
	XColumn  string `yaml:"x_column,omitempty" json:"x_column,omitempty"`
	YColumn  string `yaml:"y_column,omitempty" json:"y_column,omitempty"`
}

// ResolvedFormat returns Format or the one implied by the file extension.
func (s Source) ResolvedFormat() string {
	if s.Format != "" {
		return strings.ToLower(s.Format)
	}
	switch strings.ToLower(filepath.Ext(s.Path)) {
	case ".csv", ".txt":
		return FormatCSV
	default:
		return FormatGeoJSON
	}
}

// Load reads, parses and validates the YAML configuration at path.
// Relative file paths inside it are resolved against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML, rejecting unknown keys.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}

	return &cfg, nil
}

func (c *Config) resolve(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}

	c.OutputDir = abs(c.OutputDir)
	for i := range c.Regions {
		r := &c.Regions[i]
		r.Boundary = abs(r.Boundary)
		for j := range r.Sources {
			r.Sources[j].Path = abs(r.Sources[j].Path)
		}
	}
}

// UnitToKm returns the kilometre factor of the configured linear unit.
func (c *Config) UnitToKm() (float64, error) {
	return geo.UnitToKm(c.LinearUnit)
}

// Region returns the region named name.
func (c *Config) Region(name string) (Region, bool) {
	for _, r := range c.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return Region{}, false
}

// Validate checks every region and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := c.UnitToKm(); err != nil {
		errs = append(errs, fmt.Sprintf("linear_unit: %v", err))
	}
	if len(c.Regions) == 0 {
		errs = append(errs, "regions: at least one region is required")
	}

	names := make(map[string]bool, len(c.Regions))
	for i, r := range c.Regions {
		prefix := fmt.Sprintf("regions[%d]", i)
		if r.Name != "" {
			prefix = fmt.Sprintf("regions[%s]", r.Name)
		}

		switch {
		case r.Name == "":
			errs = append(errs, prefix+".name is required")
		case strings.ContainsAny(r.Name, `/\`) || r.Name == "." || r.Name == "..":
			errs = append(errs, fmt.Sprintf("%s.name %q must be usable as a directory name", prefix, r.Name))
		case names[r.Name]:
			errs = append(errs, fmt.Sprintf("%s.name is duplicated", prefix))
		}
		names[r.Name] = true

		errs = append(errs, r.validate(prefix)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r Region) validate(prefix string) []string {
	var errs []string

	if r.Boundary == "" {
		errs = append(errs, prefix+".boundary is required")
	}
	if !(r.Dx > 0) || math.IsInf(r.Dx, 0) {
		errs = append(errs, fmt.Sprintf("%s.dx must be positive, got %v", prefix, r.Dx))
	}

	if len(r.Layers) == 0 {
		errs = append(errs, prefix+".layers: at least one layer is required")
	}
	variants := make(map[string]bool, len(r.Layers))
	for j, l := range r.Layers {
		lp := fmt.Sprintf("%s.layers[%d]", prefix, j)
		if math.IsNaN(l.Buffer) || l.Buffer < r.Dx {
			errs = append(errs, fmt.Sprintf("%s.buffer %v must be >= dx %v", lp, l.Buffer, r.Dx))
		}
		v := l.Variant()
		if err := grid.ValidateVariant(v); err != nil {
			errs = append(errs, fmt.Sprintf("%s.name: %v", lp, err))
		}
		if variants[v] {
			errs = append(errs, fmt.Sprintf("%s: duplicate layer %q", lp, v))
		}
		variants[v] = true
	}

	if len(r.Sources) == 0 {
		errs = append(errs, prefix+".sources: at least one source is required")
	}
	for j, s := range r.Sources {
		sp := fmt.Sprintf("%s.sources[%d]", prefix, j)
		if s.Path == "" {
			errs = append(errs, sp+".path is required")
		}
		if f := s.ResolvedFormat(); f != FormatGeoJSON && f != FormatCSV {
			errs = append(errs, fmt.Sprintf("%s.format %q is not one of geojson, csv", sp, s.Format))
		}
	}

	if r.ClipBuffer != nil && (math.IsNaN(*r.ClipBuffer) || *r.ClipBuffer < 0) {
		errs = append(errs, fmt.Sprintf("%s.clip_buffer must be >= 0, got %v", prefix, *r.ClipBuffer))
	}

	return errs
}
