package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/grid"

	"gonum.org/v1/gonum/mat"
)

// ASCIINoData marks missing cells in ESRI ASCII grids.
const ASCIINoData = -9999

// SaveASCII writes array as an ESRI ASCII grid (".asc").
func SaveASCII(path string, array mat.Matrix, gc Geocoding) error {
	if err := checkShape(array, gc); err != nil {
		return err
	}

	if err := fsutil.WriteAtomic(path, func(w io.Writer) error {
		return EncodeASCII(w, array, gc)
	}); err != nil {
		return fmt.Errorf("%w: save ascii grid %s: %w", grid.ErrIO, path, err)
	}

	return nil
}

// EncodeASCII writes the grid header followed by one line per row, north first.
func EncodeASCII(w io.Writer, array mat.Matrix, gc Geocoding) error {
	if err := checkShape(array, gc); err != nil {
		return err
	}

	ll := gc.Bound().Min
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ncols %d\n", gc.Cols)
	fmt.Fprintf(bw, "nrows %d\n", gc.Rows)
	fmt.Fprintf(bw, "xllcorner %s\n", formatFloat(ll[0]))
	fmt.Fprintf(bw, "yllcorner %s\n", formatFloat(ll[1]))
	fmt.Fprintf(bw, "cellsize %s\n", formatFloat(gc.Dx))
	fmt.Fprintf(bw, "NODATA_value %d\n", ASCIINoData)

	for r := 0; r < gc.Rows; r++ {
		for c := 0; c < gc.Cols; c++ {
			if c > 0 {
				_ = bw.WriteByte(' ')
			}
			v := array.At(r, c)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				_, _ = bw.WriteString(strconv.Itoa(ASCIINoData))
				continue
			}
			_, _ = bw.WriteString(formatFloat(v))
		}
		_ = bw.WriteByte('\n')
	}

	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
