package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/observation"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input    string `short:"i" long:"in"       description:"Input CSV file path. Reads from stdin if empty"`
	Output   string `short:"o" long:"out"      description:"Output file path. Writes to stdout if empty"`
	Format   string `short:"f" long:"format"   description:"Output format" choice:"json" choice:"yaml" default:"json"`
	Tag      string `short:"t" long:"tag"      description:"Source tag stored on every station" default:"stations"`
	IDColumn string `long:"id-column"          description:"CSV column with the station id" default:"id"`
	XColumn  string `long:"x-column"           description:"CSV column with the projected x coordinate" default:"x"`
	YColumn  string `long:"y-column"           description:"CSV column with the projected y coordinate" default:"y"`
	Boundary string `short:"b" long:"boundary" description:"GeoJSON boundary; keep only stations inside it"`
	Place    string `long:"place"              description:"Feature of the boundary file to use (its place property)"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if opts.Input != "" {
		f, err := os.Open(opts.Input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading input file: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	src := observation.CSVFile{
		Tag:      opts.Tag,
		IDColumn: opts.IDColumn,
		XColumn:  opts.XColumn,
		YColumn:  opts.YColumn,
	}
	obs, err := src.Read(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing stations: %v\n", err)
		os.Exit(1)
	}

	if opts.Boundary != "" {
		region, err := geo.LoadRegion(opts.Boundary, opts.Place)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading boundary: %v\n", err)
			os.Exit(1)
		}
		obs = observation.Clip(obs, region)
	}

	outputData, err := encode(obs, opts.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling data: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		if err := os.WriteFile(opts.Output, outputData, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully converted %d stations to %s (format: %s)\n", len(obs), opts.Output, opts.Format)
	} else {
		fmt.Print(string(outputData))
	}
}

// encode renders the stations as a GeoJSON feature collection. YAML output
// carries the same document structure as the JSON one.
func encode(obs []observation.Observation, format string) ([]byte, error) {
	var buf bytes.Buffer
	if err := observation.WriteGeoJSON(&buf, obs); err != nil {
		return nil, err
	}
	if format != "yaml" {
		return buf.Bytes(), nil
	}

	var doc any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, err
	}
	return yaml.Marshal(doc)
}
