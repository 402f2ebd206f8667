// Package raster writes and reads single-band georeferenced grids.
//
// Arrays are top-down: index (0, 0) is the north-west pixel whose upper-left
// corner is Geocoding.Origin, x grows by Dx per column and y shrinks by Dx
// per row. No reordering happens on write.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/woozymasta/densitygrid/internal/fsutil"
	"github.com/woozymasta/densitygrid/internal/grid"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// Geocoding places an array on the ground.
type Geocoding struct {
	Origin     orb.Point // upper-left corner of pixel (0, 0)
	Dx         float64
	Rows, Cols int
	CRS        string // "EPSG:<code>" or free text
}

// GeocodingOf derives the geocoding of a grid lattice.
func GeocodingOf(l grid.Lattice, crs string) Geocoding {
	return Geocoding{Origin: l.Origin(), Dx: l.Dx, Rows: l.Rows, Cols: l.Cols, CRS: crs}
}

// PixelCenter returns the ground coordinate of the centre of (row, col).
func (g Geocoding) PixelCenter(row, col int) orb.Point {
	return orb.Point{
		g.Origin[0] + (float64(col)+0.5)*g.Dx,
		g.Origin[1] - (float64(row)+0.5)*g.Dx,
	}
}

// Bound returns the ground extent of the raster.
func (g Geocoding) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.Origin[0], g.Origin[1] - float64(g.Rows)*g.Dx},
		Max: orb.Point{g.Origin[0] + float64(g.Cols)*g.Dx, g.Origin[1]},
	}
}

// EPSG returns the numeric code of an "EPSG:<code>" CRS.
func (g Geocoding) EPSG() (int, bool) {
	code, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(g.CRS)), "EPSG:")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(code)
	if err != nil || n <= 0 || n > math.MaxUint16 {
		return 0, false
	}
	return n, true
}

func (g Geocoding) validate() error {
	if !(g.Dx > 0) || math.IsInf(g.Dx, 0) {
		return fmt.Errorf("%w: pixel size %v", grid.ErrInvalidParameter, g.Dx)
	}
	if g.Rows <= 0 || g.Cols <= 0 {
		return fmt.Errorf("%w: %dx%d raster", grid.ErrShapeMismatch, g.Rows, g.Cols)
	}
	if uint64(g.Rows)*uint64(g.Cols)*8 > math.MaxUint32 {
		return fmt.Errorf("%w: %dx%d raster exceeds classic TIFF size", grid.ErrInvalidParameter, g.Rows, g.Cols)
	}
	return nil
}

// Raster is an array with its geocoding.
type Raster struct {
	Data *mat.Dense
	Geocoding
}

// Save writes array as a float64 GeoTIFF at path. The shape is checked
// against gc before anything touches the filesystem; the file is replaced
// atomically.
func Save(path string, array mat.Matrix, gc Geocoding) error {
	if err := checkShape(array, gc); err != nil {
		return err
	}

	if err := fsutil.WriteAtomic(path, func(w io.Writer) error {
		return Encode(w, array, gc)
	}); err != nil {
		return fmt.Errorf("%w: save raster %s: %w", grid.ErrIO, path, err)
	}

	return nil
}

// SaveAll exports every computed column of the store to
// <prefix><column>.tif and returns the written paths.
func SaveAll(s *grid.Store, prefix string) ([]string, error) {
	gc := GeocodingOf(s.Lattice(), s.CRS())

	paths := make([]string, 0, len(s.Columns()))
	for _, col := range s.Columns() {
		arr, err := s.ToArray(col)
		if err != nil {
			return paths, err
		}

		path := prefix + col.Name() + ".tif"
		if err := Save(path, arr, gc); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}

	return paths, nil
}

func checkShape(array mat.Matrix, gc Geocoding) error {
	if err := gc.validate(); err != nil {
		return err
	}
	if r, c := array.Dims(); r != gc.Rows || c != gc.Cols {
		return fmt.Errorf("%w: array is %dx%d, geocoding declares %dx%d",
			grid.ErrShapeMismatch, r, c, gc.Rows, gc.Cols)
	}
	return nil
}

// TIFF tags and GeoTIFF keys used by the encoder.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagPlanarConfig    = 284
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGeoASCIIParams  = 34737
	tagGDALNoData      = 42113

	keyModelType       = 1024
	keyRasterType      = 1025
	keyCitation        = 1026
	keyProjectedCSType = 3072
	keyPCSCitation     = 3073

	modelTypeProjected = 1
	rasterPixelIsArea  = 1
	sampleFormatFloat  = 3
)

// TIFF field types.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
)

var typeSize = map[uint16]int{typeASCII: 1, typeShort: 2, typeLong: 4, typeDouble: 8}

const citation = "densitygrid"

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shortEntry(tag uint16, v ...uint16) ifdEntry {
	buf := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(buf[2*i:], x)
	}
	return ifdEntry{tag: tag, typ: typeShort, count: uint32(len(v)), data: buf}
}

func longEntry(tag uint16, v uint32) ifdEntry {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return ifdEntry{tag: tag, typ: typeLong, count: 1, data: buf}
}

func doubleEntry(tag uint16, v ...float64) ifdEntry {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return ifdEntry{tag: tag, typ: typeDouble, count: uint32(len(v)), data: buf}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	data := append([]byte(s), 0)
	return ifdEntry{tag: tag, typ: typeASCII, count: uint32(len(data)), data: data}
}

// Encode writes array as a little-endian, single-strip, float64 GeoTIFF.
func Encode(w io.Writer, array mat.Matrix, gc Geocoding) error {
	if err := checkShape(array, gc); err != nil {
		return err
	}

	keys, ascii := geoKeys(gc)
	stripBytes := uint32(gc.Rows * gc.Cols * 8)

	entries := []ifdEntry{
		longEntry(tagImageWidth, uint32(gc.Cols)),
		longEntry(tagImageLength, uint32(gc.Rows)),
		shortEntry(tagBitsPerSample, 64),
		shortEntry(tagCompression, 1),
		shortEntry(tagPhotometric, 1),
		longEntry(tagStripOffsets, 0), // patched below
		shortEntry(tagSamplesPerPixel, 1),
		longEntry(tagRowsPerStrip, uint32(gc.Rows)),
		longEntry(tagStripByteCounts, stripBytes),
		shortEntry(tagPlanarConfig, 1),
		shortEntry(tagSampleFormat, sampleFormatFloat),
		doubleEntry(tagModelPixelScale, gc.Dx, gc.Dx, 0),
		doubleEntry(tagModelTiepoint, 0, 0, 0, gc.Origin[0], gc.Origin[1], 0),
		shortEntry(tagGeoKeyDirectory, keys...),
		asciiEntry(tagGeoASCIIParams, ascii),
		asciiEntry(tagGDALNoData, "nan"),
	}

	const headerSize = 8
	ifdSize := 2 + 12*len(entries) + 4
	extSize := 0
	for _, e := range entries {
		if len(e.data) > 4 {
			extSize += len(e.data) + len(e.data)%2
		}
	}
	dataOffset := headerSize + ifdSize + extSize
	pad := (8 - dataOffset%8) % 8
	dataOffset += pad
	binary.LittleEndian.PutUint32(entries[5].data, uint32(dataOffset))

	var head bytes.Buffer
	head.WriteString("II")
	_ = binary.Write(&head, binary.LittleEndian, uint16(42))
	_ = binary.Write(&head, binary.LittleEndian, uint32(headerSize))
	_ = binary.Write(&head, binary.LittleEndian, uint16(len(entries)))

	var ext bytes.Buffer
	extOffset := uint32(headerSize + ifdSize)
	for _, e := range entries {
		_ = binary.Write(&head, binary.LittleEndian, e.tag)
		_ = binary.Write(&head, binary.LittleEndian, e.typ)
		_ = binary.Write(&head, binary.LittleEndian, e.count)

		if len(e.data) <= 4 {
			var inline [4]byte
			copy(inline[:], e.data)
			head.Write(inline[:])
			continue
		}
		_ = binary.Write(&head, binary.LittleEndian, extOffset+uint32(ext.Len()))
		ext.Write(e.data)
		if len(e.data)%2 == 1 {
			ext.WriteByte(0)
		}
	}
	_ = binary.Write(&head, binary.LittleEndian, uint32(0)) // no next IFD

	head.Write(ext.Bytes())
	head.Write(make([]byte, pad))
	if _, err := w.Write(head.Bytes()); err != nil {
		return err
	}

	row := make([]byte, 8*gc.Cols)
	for r := 0; r < gc.Rows; r++ {
		for c := 0; c < gc.Cols; c++ {
			binary.LittleEndian.PutUint64(row[8*c:], math.Float64bits(array.At(r, c)))
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}

// geoKeys builds the GeoKey directory and the GeoAsciiParams it points into.
func geoKeys(gc Geocoding) ([]uint16, string) {
	ascii := citation + "|"
	keys := [][4]uint16{
		{keyModelType, 0, 1, modelTypeProjected},
		{keyRasterType, 0, 1, rasterPixelIsArea},
		{keyCitation, tagGeoASCIIParams, uint16(len(ascii)), 0},
	}

	if code, ok := gc.EPSG(); ok {
		keys = append(keys, [4]uint16{keyProjectedCSType, 0, 1, uint16(code)})
	} else if gc.CRS != "" {
		crs := strings.ReplaceAll(gc.CRS, "|", "/") + "|"
		keys = append(keys, [4]uint16{keyPCSCitation, tagGeoASCIIParams, uint16(len(crs)), uint16(len(ascii))})
		ascii += crs
	}

	dir := []uint16{1, 1, 0, uint16(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	return dir, ascii
}

// Load reads a single-band float GeoTIFF written by Save or by GDAL with
// uncompressed float32 or float64 strips.
func Load(path string) (Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Raster{}, fmt.Errorf("%w: load raster: %w", grid.ErrIO, err)
	}

	r, err := Decode(data)
	if err != nil {
		return Raster{}, fmt.Errorf("%w: load raster %s: %w", grid.ErrIO, path, err)
	}
	return r, nil
}

// Decode parses an in-memory GeoTIFF.
func Decode(data []byte) (Raster, error) {
	if len(data) < 8 || string(data[:2]) != "II" || binary.LittleEndian.Uint16(data[2:]) != 42 {
		return Raster{}, fmt.Errorf("not a little-endian TIFF")
	}

	tags, err := readIFD(data, binary.LittleEndian.Uint32(data[4:]))
	if err != nil {
		return Raster{}, err
	}

	width, err1 := tags.scalar(tagImageWidth)
	height, err2 := tags.scalar(tagImageLength)
	bps, err3 := tags.scalar(tagBitsPerSample)
	if err := firstErr(err1, err2, err3); err != nil {
		return Raster{}, err
	}
	if c, err := tags.scalar(tagCompression); err == nil && c != 1 {
		return Raster{}, fmt.Errorf("compression %d is not supported", c)
	}
	if sf, err := tags.scalar(tagSampleFormat); err != nil || sf != sampleFormatFloat {
		return Raster{}, fmt.Errorf("sample format is not IEEE float")
	}
	if spp, err := tags.scalar(tagSamplesPerPixel); err == nil && spp != 1 {
		return Raster{}, fmt.Errorf("%d samples per pixel, want 1", spp)
	}
	if bps != 32 && bps != 64 {
		return Raster{}, fmt.Errorf("%d bits per sample is not supported", bps)
	}
	if width == 0 || height == 0 || uint64(width)*uint64(height) > 1<<28 {
		return Raster{}, fmt.Errorf("invalid raster size %dx%d", width, height)
	}

	offsets, err := tags.uints(tagStripOffsets)
	if err != nil {
		return Raster{}, err
	}
	counts, err := tags.uints(tagStripByteCounts)
	if err != nil {
		return Raster{}, err
	}
	if len(offsets) != len(counts) {
		return Raster{}, fmt.Errorf("%d strip offsets for %d byte counts", len(offsets), len(counts))
	}

	var pixels []byte
	for i, off := range offsets {
		end := uint64(off) + uint64(counts[i])
		if end > uint64(len(data)) {
			return Raster{}, fmt.Errorf("strip %d runs past end of file", i)
		}
		pixels = append(pixels, data[off:end]...)
	}

	size := int(bps / 8)
	n := int(width) * int(height)
	if len(pixels) < n*size {
		return Raster{}, fmt.Errorf("%d bytes of pixel data for %d samples", len(pixels), n)
	}

	values := make([]float64, n)
	for i := range values {
		if size == 8 {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(pixels[8*i:]))
		} else {
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(pixels[4*i:])))
		}
	}

	scale, err := tags.doubles(tagModelPixelScale)
	if err != nil || len(scale) < 2 {
		return Raster{}, fmt.Errorf("missing pixel scale")
	}
	if scale[0] != scale[1] {
		return Raster{}, fmt.Errorf("non-square pixels %vx%v", scale[0], scale[1])
	}
	tie, err := tags.doubles(tagModelTiepoint)
	if err != nil || len(tie) < 6 {
		return Raster{}, fmt.Errorf("missing tiepoint")
	}

	gc := Geocoding{
		Origin: orb.Point{tie[3] - tie[0]*scale[0], tie[4] + tie[1]*scale[1]},
		Dx:     scale[0],
		Rows:   int(height),
		Cols:   int(width),
		CRS:    tags.crs(),
	}

	return Raster{Data: mat.NewDense(gc.Rows, gc.Cols, values), Geocoding: gc}, nil
}

type tiffTags map[uint16]ifdEntry

func readIFD(data []byte, offset uint32) (tiffTags, error) {
	if uint64(offset)+2 > uint64(len(data)) {
		return nil, fmt.Errorf("IFD offset %d out of range", offset)
	}
	n := int(binary.LittleEndian.Uint16(data[offset:]))
	if uint64(offset)+2+uint64(n)*12 > uint64(len(data)) {
		return nil, fmt.Errorf("IFD with %d entries is truncated", n)
	}

	tags := make(tiffTags, n)
	for i := 0; i < n; i++ {
		p := data[int(offset)+2+12*i:]
		e := ifdEntry{
			tag:   binary.LittleEndian.Uint16(p),
			typ:   binary.LittleEndian.Uint16(p[2:]),
			count: binary.LittleEndian.Uint32(p[4:]),
		}

		size, ok := typeSize[e.typ]
		if !ok {
			continue
		}
		total := uint64(size) * uint64(e.count)
		if total <= 4 {
			e.data = p[8 : 8+total]
		} else {
			off := uint64(binary.LittleEndian.Uint32(p[8:]))
			if off+total > uint64(len(data)) {
				return nil, fmt.Errorf("tag %d data out of range", e.tag)
			}
			e.data = data[off : off+total]
		}
		tags[e.tag] = e
	}

	return tags, nil
}

func (t tiffTags) uints(tag uint16) ([]uint32, error) {
	e, ok := t[tag]
	if !ok {
		return nil, fmt.Errorf("missing tag %d", tag)
	}

	out := make([]uint32, e.count)
	for i := range out {
		switch e.typ {
		case typeShort:
			out[i] = uint32(binary.LittleEndian.Uint16(e.data[2*i:]))
		case typeLong:
			out[i] = binary.LittleEndian.Uint32(e.data[4*i:])
		default:
			return nil, fmt.Errorf("tag %d has type %d, want integer", tag, e.typ)
		}
	}
	return out, nil
}

func (t tiffTags) scalar(tag uint16) (uint32, error) {
	v, err := t.uints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("tag %d is empty", tag)
	}
	return v[0], nil
}

func (t tiffTags) doubles(tag uint16) ([]float64, error) {
	e, ok := t[tag]
	if !ok || e.typ != typeDouble {
		return nil, fmt.Errorf("missing double tag %d", tag)
	}

	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(e.data[8*i:]))
	}
	return out, nil
}

// crs recovers "EPSG:<code>" or the PCS citation from the GeoKey directory.
func (t tiffTags) crs() string {
	dir, err := t.uints(tagGeoKeyDirectory)
	if err != nil || len(dir) < 4 {
		return ""
	}
	ascii := ""
	if e, ok := t[tagGeoASCIIParams]; ok && e.typ == typeASCII {
		ascii = string(e.data)
	}

	for i := 0; i < int(dir[3]) && 4+4*i+3 < len(dir); i++ {
		k := dir[4+4*i : 8+4*i]
		switch k[0] {
		case keyProjectedCSType:
			if k[1] == 0 {
				return fmt.Sprintf("EPSG:%d", k[3])
			}
		case keyPCSCitation:
			start, end := int(k[3]), int(k[3])+int(k[2])
			if k[1] == tagGeoASCIIParams && end <= len(ascii) {
				return strings.TrimRight(ascii[start:end], "|\x00")
			}
		}
	}
	return ""
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
