package raster

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/grid"

	"golang.org/x/image/tiff"
)

// Mask pixel values.
const (
	MaskInside  = 255
	MaskOutside = 0
)

// SaveMask writes the store's Within flags as an 8-bit grayscale TIFF with
// an ESRI world file next to it (".tfw").
func SaveMask(path string, s *grid.Store) error {
	lat := s.Lattice()
	img := image.NewGray(image.Rect(0, 0, lat.Cols, lat.Rows))
	for _, c := range s.Cells() {
		v := uint8(MaskOutside)
		if c.Within {
			v = MaskInside
		}
		img.SetGray(c.Col, c.Row, color.Gray{Y: v})
	}

	if err := fsutil.WriteAtomic(path, func(w io.Writer) error {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Uncompressed})
	}); err != nil {
		return fmt.Errorf("%w: save mask %s: %w", grid.ErrIO, path, err)
	}

	gc := GeocodingOf(lat, s.CRS())
	if err := SaveWorldFile(WorldFilePath(path), gc); err != nil {
		return err
	}

	return nil
}

// WorldFilePath returns the ".tfw" companion of a ".tif" path.
func WorldFilePath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".tfw"
}

// SaveWorldFile writes the six-line ESRI world file for gc. World files
// reference the centre of the upper-left pixel.
func SaveWorldFile(path string, gc Geocoding) error {
	ul := gc.PixelCenter(0, 0)
	lines := []float64{gc.Dx, 0, 0, -gc.Dx, ul[0], ul[1]}

	if err := fsutil.WriteAtomic(path, func(w io.Writer) error {
		for _, v := range lines {
			if _, err := io.WriteString(w, strconv.FormatFloat(v, 'f', -1, 64)+"\n"); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("%w: save world file %s: %w", grid.ErrIO, path, err)
	}

	return nil
}
