package observability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Independent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.CellsBuilt.Add(100)
	a.RegionsProcessed.WithLabelValues(OutcomeSuccess).Inc()

	assert.Equal(t, 100.0, testutil.ToFloat64(a.CellsBuilt))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CellsBuilt))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RegionsProcessed.WithLabelValues(OutcomeSuccess)))
}

func TestWriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.FilesWritten.WithLabelValues("raster").Add(4)
	m.ObservationsLoaded.WithLabelValues("met").Add(17)

	path := filepath.Join(t.TempDir(), "densitygrid.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `densitygrid_files_written_total{kind="raster"} 4`)
	assert.Contains(t, string(data), `densitygrid_observations_loaded_total{source="met"} 17`)
}

func TestNewServerMetrics(t *testing.T) {
	m := NewServerMetrics()
	m.Requests.WithLabelValues("grids", "200").Inc()
	m.GridsAvailable.Set(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("grids", "200")))

	families, err := m.Registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["densitygrid_grids_available"])
	assert.True(t, names["go_goroutines"])
}
