// Package server exposes processor outputs over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/woozymasta/densitygrid/internal/processor"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const etagCap = 64

var contentTypes = map[string]string{
	".geojson": "application/geo+json",
	".json":    "application/json",
	".tif":     "image/tiff",
	".tfw":     "text/plain; charset=utf-8",
	".asc":     "text/plain; charset=utf-8",
}

// Routes returns the server handler with request logging applied.
func (s *ServerContext) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/grids", s.HandleGridsList)
	mux.HandleFunc("GET /api/grids/{region}", s.HandleGrid)
	mux.HandleFunc("GET /grids/{region}/{file}", s.HandleGridFile)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))

	return s.RequestLogger(mux)
}

// HandleGridsList serves the manifests of all completed regions.
func (s *ServerContext) HandleGridsList(w http.ResponseWriter, r *http.Request) {
	grids, err := s.Manifests()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list grids")
		http.Error(w, "failed to list grids", http.StatusInternalServerError)
		return
	}

	writeJSON(w, grids)
}

// HandleGrid serves the manifest of one region.
func (s *ServerContext) HandleGrid(w http.ResponseWriter, r *http.Request) {
	m, err := s.Manifest(r.PathValue("region"))
	switch {
	case errors.Is(err, os.ErrNotExist):
		http.NotFound(w, r)
		return
	case err != nil:
		log.Error().Err(err).Str("region", r.PathValue("region")).Msg("Failed to read manifest")
		http.Error(w, "failed to read manifest", http.StatusInternalServerError)
		return
	}

	writeJSON(w, m)
}

// HandleGridFile serves one output file of a region. Only the manifest and
// the files it lists are reachable.
func (s *ServerContext) HandleGridFile(w http.ResponseWriter, r *http.Request) {
	region, file := r.PathValue("region"), r.PathValue("file")
	if !safeName(file) {
		http.NotFound(w, r)
		return
	}

	m, err := s.Manifest(region)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if file != processor.ManifestFile && !slices.Contains(m.Files, file) {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(s.Root, region, file)
	if !s.serveFile(w, r, path, contentTypes[strings.ToLower(filepath.Ext(file))]) {
		http.NotFound(w, r)
	}
}

// serveFile tries to serve a file from disk with ETag generation.
// It returns true if the file was found and served (or 304).
func (s *ServerContext) serveFile(w http.ResponseWriter, r *http.Request, path string, contentType string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	buf := make([]byte, 0, etagCap)
	buf = append(buf, '"')
	buf = strconv.AppendInt(buf, info.Size(), 16)
	buf = append(buf, '-')
	buf = strconv.AppendInt(buf, info.ModTime().UnixNano(), 16)
	buf = append(buf, '"')
	etag := string(buf)

	if match := r.Header.Get("If-None-Match"); match == etag {
		w.WriteHeader(http.StatusNotModified)
		return true
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, no-cache")
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	http.ServeFile(w, r, path)
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	// Ignoring error as we cannot handle client disconnects
	_ = json.NewEncoder(w).Encode(v)
}

// safeName accepts a single path element that cannot leave its directory.
func safeName(name string) bool {
	if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}
