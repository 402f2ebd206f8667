package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/woozymasta/densitygrid/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*ServerContext, http.Handler) {
	t.Helper()
	root := t.TempDir()

	oslo := filepath.Join(root, "oslo")
	require.NoError(t, os.MkdirAll(oslo, 0755))

	data, err := json.Marshal(processor.Manifest{
		RunID:  "run-1",
		Region: "oslo",
		Cells:  121,
		Files:  []string{processor.VectorFile, "density_20.tif"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(oslo, processor.ManifestFile), data, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(oslo, processor.VectorFile), []byte(`{"type":"FeatureCollection","features":[]}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(oslo, "density_20.tif"), []byte("II*\x00"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(oslo, "secret.txt"), []byte("nope"), 0644))

	broken := filepath.Join(root, "broken")
	require.NoError(t, os.MkdirAll(broken, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(broken, processor.ManifestFile), []byte("{"), 0644))

	s := NewServerContext(root, nil)
	return s, s.Routes()
}

func get(t *testing.T, h http.Handler, path string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleGridsList(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/grids")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var grids []processor.Manifest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&grids))
	require.Len(t, grids, 1, "broken manifest is skipped")
	assert.Equal(t, "oslo", grids[0].Region)
	assert.Equal(t, 121, grids[0].Cells)
}

func TestHandleGrid(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/api/grids/oslo")
	require.Equal(t, http.StatusOK, rec.Code)

	var m processor.Manifest
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&m))
	assert.Equal(t, "run-1", m.RunID)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/api/grids/bergen").Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/api/grids/broken").Code)
}

func TestHandleGridFile(t *testing.T) {
	_, h := newTestServer(t)

	rec := get(t, h, "/grids/oslo/grid.geojson")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(body))

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.Equal(t, http.StatusNotModified, get(t, h, "/grids/oslo/grid.geojson", "If-None-Match", etag).Code)

	tif := get(t, h, "/grids/oslo/density_20.tif")
	assert.Equal(t, http.StatusOK, tif.Code)
	assert.Equal(t, "image/tiff", tif.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusOK, get(t, h, "/grids/oslo/manifest.json").Code)
}

func TestHandleGridFile_NotListed(t *testing.T) {
	_, h := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/grids/oslo/secret.txt").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/grids/oslo/counts_20.tif").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/grids/bergen/grid.geojson").Code)
	assert.NotEqual(t, http.StatusOK, get(t, h, "/grids/oslo/..%2Fsecret.txt").Code)
	assert.NotEqual(t, http.StatusOK, get(t, h, "/grids/..%2Foslo/secret.txt").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)

	require.Equal(t, http.StatusOK, get(t, h, "/api/grids").Code)

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `densitygrid_http_requests_total{code="200",route="GET /api/grids"} 1`)
	assert.Contains(t, body, "densitygrid_grids_available 1")
}

func TestSafeName(t *testing.T) {
	cases := map[string]bool{
		"grid.geojson":   true,
		"density_20.tif": true,
		"":               false,
		".":              false,
		"..":             false,
		".hidden":        false,
		"../etc":         false,
		`a\b`:            false,
		"a/b":            false,
	}
	for name, want := range cases {
		assert.Equal(t, want, safeName(name), name)
	}
}
