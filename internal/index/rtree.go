// Package index provides an R-Tree backed point index for window counts.
package index

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50

	// relPad keeps zero-width points and touching window edges
	// intersecting; rtreego treats shared edges as disjoint. It is scaled by
	// coordinate magnitude so it stays above float spacing.
	relPad = 1e-9
)

// spatialItem wraps a point for R-Tree indexing.
type spatialItem struct {
	point orb.Point
	rect  rtreego.Rect
}

func (si *spatialItem) Bounds() rtreego.Rect {
	return si.rect
}

// PointIndex answers closed-window counts over a fixed point set.
// It is read-only after construction and safe for concurrent queries.
type PointIndex struct {
	tree *rtreego.Rtree
	size int
}

// New inserts the points into an R-Tree one by one. Points with non-finite
// coordinates are skipped.
func New(points []orb.Point) *PointIndex {
	ix := &PointIndex{tree: rtreego.NewTree(dimensions, minChildren, maxChildren)}
	for _, p := range points {
		if !finite(p) {
			continue
		}
		ix.tree.Insert(&spatialItem{
			point: p,
			rect:  rtreego.Point{p[0], p[1]}.ToRect(padFor(p[0], p[1])),
		})
		ix.size++
	}

	return ix
}

// Size returns the number of indexed points.
func (ix *PointIndex) Size() int {
	return ix.size
}

// Count returns how many points fall inside the closed window w.
func (ix *PointIndex) Count(w orb.Bound) int {
	if ix.size == 0 {
		return 0
	}

	pad := padFor(w.Min[0], w.Min[1], w.Max[0], w.Max[1])
	bounds, err := rtreego.NewRect(
		rtreego.Point{w.Min[0] - pad, w.Min[1] - pad},
		[]float64{w.Max[0] - w.Min[0] + 2*pad, w.Max[1] - w.Min[1] + 2*pad},
	)
	if err != nil {
		return 0
	}

	// Filter candidates with the exact closed test.
	n := 0
	for _, result := range ix.tree.SearchIntersect(bounds) {
		item, ok := result.(*spatialItem)
		if !ok {
			continue
		}
		p := item.point
		if p[0] >= w.Min[0] && p[0] <= w.Max[0] && p[1] >= w.Min[1] && p[1] <= w.Max[1] {
			n++
		}
	}

	return n
}

// padFor returns the rectangle padding for coordinates of the given size.
// Over-padding only adds candidates, which Count filters exactly.
func padFor(coords ...float64) float64 {
	m := 1.0
	for _, c := range coords {
		m = max(m, math.Abs(c))
	}
	return relPad * m
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsNaN(p[1]) && !math.IsInf(p[0], 0) && !math.IsInf(p[1], 0)
}
