package raster

import (
	"fmt"
	"math"
	"strings"

	"github.com/woozymasta/densitygrid/internal/geo"
	"github.com/woozymasta/densitygrid/internal/grid"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// ClippedSuffix is appended to the base name of clipped rasters.
const ClippedSuffix = "_clipped"

// ClippedPath returns "<base>_clipped.tif" for "<base>.tif".
func ClippedPath(path string) string {
	return strings.TrimSuffix(path, ".tif") + ClippedSuffix + ".tif"
}

// Clip crops r to the region's bounding box grown by buffer and sets every
// pixel whose centre is farther than buffer from the region to NaN.
func Clip(r Raster, region geo.Region, buffer float64) (Raster, error) {
	if math.IsNaN(buffer) || math.IsInf(buffer, 0) || buffer < 0 {
		return Raster{}, fmt.Errorf("%w: clip buffer %v", grid.ErrInvalidParameter, buffer)
	}
	if region.IsEmpty() {
		return Raster{}, fmt.Errorf("%w: region %q", grid.ErrEmptyRegion, region.Name())
	}
	if r.Data == nil {
		return Raster{}, fmt.Errorf("%w: raster has no data", grid.ErrShapeMismatch)
	}
	if err := checkShape(r.Data, r.Geocoding); err != nil {
		return Raster{}, err
	}

	gc := r.Geocoding
	b := region.Bound().Pad(buffer)

	c0 := clamp(int(math.Floor((b.Min[0]-gc.Origin[0])/gc.Dx)), 0, gc.Cols)
	c1 := clamp(int(math.Ceil((b.Max[0]-gc.Origin[0])/gc.Dx)), 0, gc.Cols)
	r0 := clamp(int(math.Floor((gc.Origin[1]-b.Max[1])/gc.Dx)), 0, gc.Rows)
	r1 := clamp(int(math.Ceil((gc.Origin[1]-b.Min[1])/gc.Dx)), 0, gc.Rows)
	if c1 <= c0 || r1 <= r0 {
		return Raster{}, fmt.Errorf("%w: region %q does not overlap the raster", grid.ErrEmptyRegion, region.Name())
	}

	out := Geocoding{
		Origin: orb.Point{gc.Origin[0] + float64(c0)*gc.Dx, gc.Origin[1] - float64(r0)*gc.Dx},
		Dx:     gc.Dx,
		Rows:   r1 - r0,
		Cols:   c1 - c0,
		CRS:    gc.CRS,
	}

	data := mat.NewDense(out.Rows, out.Cols, nil)
	for i := 0; i < out.Rows; i++ {
		for j := 0; j < out.Cols; j++ {
			v := r.Data.At(r0+i, c0+j)
			if region.Distance(out.PixelCenter(i, j)) > buffer {
				v = math.NaN()
			}
			data.Set(i, j, v)
		}
	}

	return Raster{Data: data, Geocoding: out}, nil
}

// ClipFile loads the raster at path, clips it and saves the result next to
// it with the "_clipped" suffix. It returns the written path.
func ClipFile(path string, region geo.Region, buffer float64) (string, error) {
	r, err := Load(path)
	if err != nil {
		return "", err
	}

	clipped, err := Clip(r, region, buffer)
	if err != nil {
		return "", fmt.Errorf("clip %s: %w", path, err)
	}

	out := ClippedPath(path)
	if err := Save(out, clipped.Data, clipped.Geocoding); err != nil {
		return "", err
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
