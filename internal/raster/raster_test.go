package raster

import (
	"bytes"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/grid"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/mat"
)

func squareStore(t *testing.T, crs string) *grid.Store {
	t.Helper()
	s, err := grid.Build(geo.RegionFromBound("sq", orb.Bound{Max: orb.Point{100, 100}}), 10, grid.WithCRS(crs))
	require.NoError(t, err)
	return s
}

func sequence(rows, cols int) *mat.Dense {
	m := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.Set(r, c, float64(r*10+c))
		}
	}
	return m
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		crs  string
	}{
		{"epsg", "EPSG:32632"},
		{"citation", "ETRS89 / UTM zone 33N"},
		{"none", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arr := sequence(3, 4)
			arr.Set(1, 2, math.NaN())
			gc := Geocoding{Origin: orb.Point{500000, 6650000}, Dx: 250, Rows: 3, Cols: 4, CRS: tt.crs}

			path := filepath.Join(t.TempDir(), "a", "b.tif")
			require.NoError(t, Save(path, arr, gc))

			r, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, gc, r.Geocoding)
			diff := cmp.Diff(arr.RawMatrix().Data, r.Data.RawMatrix().Data, cmpopts.EquateNaNs())
			assert.Empty(t, diff)
		})
	}
}

func TestSaveAll_TopLeftIsNorthWest(t *testing.T) {
	s := squareStore(t, "EPSG:25833")
	// Only the north-west cell (centre 0,90) sees this point.
	require.NoError(t, s.ComputeDensity([]orb.Point{{0, 90}}, 10, "nw"))

	prefix := filepath.Join(t.TempDir(), "oslo_")
	paths, err := SaveAll(s, prefix)
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + "counts_nw.tif", prefix + "density_nw.tif"}, paths)

	r, err := Load(paths[0])
	require.NoError(t, err)

	assert.Equal(t, 1.0, r.Data.At(0, 0))
	assert.Equal(t, orb.Point{-5, 95}, r.Origin)
	assert.Equal(t, orb.Point{0, 90}, r.PixelCenter(0, 0))

	nw, _ := s.Cell(0, 0)
	assert.Equal(t, nw.Center, r.PixelCenter(0, 0))

	total := 0.0
	for _, v := range r.Data.RawMatrix().Data {
		total += v
	}
	assert.Equal(t, 1.0, total)
}

func TestSaveAll_NoColumns(t *testing.T) {
	paths, err := SaveAll(squareStore(t, ""), filepath.Join(t.TempDir(), "x_"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestSave_ShapeMismatchCreatesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "never")
	path := filepath.Join(dir, "bad.tif")
	gc := Geocoding{Dx: 10, Rows: 2, Cols: 2}

	err := Save(path, sequence(3, 3), gc)
	require.ErrorIs(t, err, grid.ErrShapeMismatch)

	_, statErr := os.Stat(dir)
	assert.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSave_InvalidPixelSize(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "x.tif"), sequence(2, 2), Geocoding{Dx: 0, Rows: 2, Cols: 2})
	assert.ErrorIs(t, err, grid.ErrInvalidParameter)
}

func TestSave_Unwritable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	err := Save(filepath.Join(blocker, "x.tif"), sequence(2, 2), Geocoding{Dx: 1, Rows: 2, Cols: 2})
	assert.ErrorIs(t, err, grid.ErrIO)
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode([]byte("MM\x00\x2a"))
	assert.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, sequence(2, 2), Geocoding{Dx: 1, Rows: 2, Cols: 2}))
	_, err = Decode(buf.Bytes()[:buf.Len()-8])
	assert.Error(t, err, "truncated strip")

	_, err = Load(filepath.Join(t.TempDir(), "missing.tif"))
	assert.ErrorIs(t, err, grid.ErrIO)
}

func TestSaveMask(t *testing.T) {
	region := geo.NewRegion("tri", orb.Polygon{{{0, 0}, {100, 0}, {0, 100}}})
	s, err := grid.Build(region, 10)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "mask.tif")
	require.NoError(t, SaveMask(path, s))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	img, err := tiff.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 10, 10), img.Bounds())

	for _, c := range s.Cells() {
		got := color.GrayModel.Convert(img.At(c.Col, c.Row)).(color.Gray).Y
		want := uint8(MaskOutside)
		if c.Within {
			want = MaskInside
		}
		assert.Equal(t, want, got, "cell %d,%d", c.Row, c.Col)
	}

	world, err := os.ReadFile(WorldFilePath(path))
	require.NoError(t, err)
	assert.Equal(t, "10\n0\n0\n-10\n0\n90\n", string(world))
}

func TestEncodeASCII(t *testing.T) {
	arr := mat.NewDense(2, 3, []float64{1, 2.5, math.NaN(), 0, 10, 1e-3})
	gc := Geocoding{Origin: orb.Point{-5, 15}, Dx: 10, Rows: 2, Cols: 3}

	var buf bytes.Buffer
	require.NoError(t, EncodeASCII(&buf, arr, gc))

	want := strings.Join([]string{
		"ncols 3",
		"nrows 2",
		"xllcorner -5",
		"yllcorner -5",
		"cellsize 10",
		"NODATA_value -9999",
		"1 2.5 -9999",
		"0 10 0.001",
		"",
	}, "\n")
	assert.Equal(t, want, buf.String())

	err := SaveASCII(filepath.Join(t.TempDir(), "x.asc"), arr, Geocoding{Dx: 10, Rows: 3, Cols: 3})
	assert.ErrorIs(t, err, grid.ErrShapeMismatch)
}

func TestClip(t *testing.T) {
	// 10x10 raster covering 0..100 with pixel centres on multiples of 10.
	r := Raster{
		Data:      sequence(10, 10),
		Geocoding: Geocoding{Origin: orb.Point{-5, 95}, Dx: 10, Rows: 10, Cols: 10, CRS: "EPSG:32632"},
	}
	region := geo.NewRegion("tri", orb.Polygon{{{20, 20}, {40, 20}, {20, 40}}})

	clipped, err := Clip(r, region, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, clipped.Rows)
	assert.Equal(t, 3, clipped.Cols)
	assert.Equal(t, orb.Point{15, 45}, clipped.Origin)
	assert.Equal(t, orb.Point{20, 40}, clipped.PixelCenter(0, 0))

	nan := math.NaN()
	want := []float64{
		52, nan, nan,
		62, 63, nan,
		72, 73, 74,
	}
	diff := cmp.Diff(want, clipped.Data.RawMatrix().Data, cmpopts.EquateNaNs())
	assert.Empty(t, diff)

	wide, err := Clip(r, region, 10)
	require.NoError(t, err)
	assert.Equal(t, 5, wide.Rows)
	assert.Equal(t, 5, wide.Cols)
	assert.Equal(t, 64.0, wide.Data.At(2, 3), "within the buffer of the hypotenuse")
	assert.True(t, math.IsNaN(wide.Data.At(1, 3)), "beyond the buffer")
}

func TestClip_Errors(t *testing.T) {
	r := Raster{Data: sequence(2, 2), Geocoding: Geocoding{Origin: orb.Point{0, 20}, Dx: 10, Rows: 2, Cols: 2}}

	_, err := Clip(r, geo.RegionFromBound("far", orb.Bound{Min: orb.Point{500, 500}, Max: orb.Point{600, 600}}), 0)
	assert.ErrorIs(t, err, grid.ErrEmptyRegion)

	_, err = Clip(r, geo.RegionFromBound("sq", orb.Bound{Max: orb.Point{20, 20}}), -1)
	assert.ErrorIs(t, err, grid.ErrInvalidParameter)
}

func TestClipFile(t *testing.T) {
	s := squareStore(t, "EPSG:32632")
	require.NoError(t, s.ComputeDensity([]orb.Point{{50, 50}}, 10, ""))

	paths, err := SaveAll(s, filepath.Join(t.TempDir(), "g_"))
	require.NoError(t, err)

	region := geo.RegionFromBound("inner", orb.Bound{Min: orb.Point{30, 30}, Max: orb.Point{70, 70}})
	out, err := ClipFile(paths[0], region, 0)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "g_counts_clipped.tif"))

	r, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 5, r.Rows)
	assert.Equal(t, 5, r.Cols)
	assert.Equal(t, 1.0, r.Data.At(2, 2))
	assert.Equal(t, "EPSG:32632", r.CRS)
}
