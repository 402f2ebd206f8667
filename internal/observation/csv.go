package observation

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/woozymasta/densitygrid/internal/geo"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
)

// Default CSV column names.
const (
	DefaultIDColumn = "id"
	DefaultXColumn  = "x"
	DefaultYColumn  = "y"
)

// CSVFile reads observations from a headed CSV file with projected
// coordinates. Column names are matched case-insensitively.
type CSVFile struct {
	Path     string
	Tag      string
	Clip     bool
	IDColumn string
	XColumn  string
	YColumn  string
}

// Observations implements Source.
func (c CSVFile) Observations(ctx context.Context, region geo.Region) ([]Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("read observations: %w", err)
	}
	defer func() { _ = f.Close() }()

	obs, err := c.Read(f)
	if err != nil {
		return nil, fmt.Errorf("decode observations %s: %w", c.Path, err)
	}

	if c.Clip {
		obs = Clip(obs, region)
	}

	log.Debug().
		Str("path", c.Path).
		Str("source", c.Tag).
		Int("count", len(obs)).
		Msg("Observations loaded")

	return obs, nil
}

// Read parses CSV records from r.
func (c CSVFile) Read(r io.Reader) ([]Observation, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header")
		}
		return nil, err
	}

	idIdx := column(header, or(c.IDColumn, DefaultIDColumn))
	xIdx := column(header, or(c.XColumn, DefaultXColumn))
	yIdx := column(header, or(c.YColumn, DefaultYColumn))
	if xIdx < 0 || yIdx < 0 {
		return nil, fmt.Errorf("header %v lacks coordinate columns %q and %q",
			header, or(c.XColumn, DefaultXColumn), or(c.YColumn, DefaultYColumn))
	}

	var obs []Observation
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		line, _ := cr.FieldPos(0)
		x, errX := strconv.ParseFloat(strings.TrimSpace(rec[xIdx]), 64)
		y, errY := strconv.ParseFloat(strings.TrimSpace(rec[yIdx]), 64)
		if err := errors.Join(errX, errY); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		p := orb.Point{x, y}
		if !finite(p) {
			return nil, fmt.Errorf("line %d: %w", line, ErrNoLocation)
		}

		id := ""
		if idIdx >= 0 {
			id = rec[idIdx]
		}
		if id == "" {
			id = fmt.Sprintf("%s-%d", or(c.Tag, "row"), len(obs))
		}

		obs = append(obs, Observation{ID: id, Source: c.Tag, Location: p})
	}

	return obs, nil
}

func column(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func or(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
