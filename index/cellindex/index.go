// Package cellindex maps s2 cells to bitmaps of feature ids.
//
// A feature inserted at a point is added to the bitmap of every ancestor cell
// of that point between the min and max levels, a radius query unions the
// bitmaps of a cap covering.
package cellindex

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/akhenakh/geoworld"
)

// DefaultMaxCells is used when a query passes maxCells <= 0
const DefaultMaxCells = 8

// Index using s2 cells hierarchy
type Index struct {
	cells    map[s2.CellID]*roaring.Bitmap
	minLevel int
	maxLevel int
}

// New returns an empty Index, levels must be valid, see geoworld.ValidLevels
func New(minLevel, maxLevel int) *Index {
	return &Index{
		cells:    make(map[s2.CellID]*roaring.Bitmap),
		minLevel: minLevel,
		maxLevel: maxLevel,
	}
}

// Insert adds id to the bitmaps of all the cells containing c in [minLevel, maxLevel]
func (idx *Index) Insert(c geoworld.Coords, id uint32) {
	leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lng))

	for l := idx.minLevel; l <= idx.maxLevel; l++ {
		cid := leaf.Parent(l)
		bm, ok := idx.cells[cid]
		if !ok {
			bm = roaring.New()
			idx.cells[cid] = bm
		}
		bm.Add(id)
	}
}

// WithinRadius returns the ids indexed in the cells covering a cap of radiusKm around c.
// radiusKm is converted to degrees with geoworld.KmPerDegree, the covering may contain
// ids slightly outside the radius since cells are coarser than the cap.
// The returned bitmap is owned by the caller.
func (idx *Index) WithinRadius(c geoworld.Coords, radiusKm float64, maxCells int) *roaring.Bitmap {
	if maxCells <= 0 {
		maxCells = DefaultMaxCells
	}

	p := s2.PointFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lng))
	cp := s2.CapFromCenterAngle(p, s1.Angle(geoworld.KmToDegrees(radiusKm))*s1.Degree)

	coverer := &s2.RegionCoverer{
		MinLevel: idx.minLevel,
		MaxLevel: idx.maxLevel,
		MaxCells: maxCells,
	}

	cu := coverer.Covering(cp)

	bms := make([]*roaring.Bitmap, 0, len(cu))
	for _, cid := range cu {
		// absent cells contribute nothing
		if bm, ok := idx.cells[cid]; ok {
			bms = append(bms, bm)
		}
	}

	// FastOr clones when given a single bitmap, never hand out an indexed one
	return roaring.FastOr(bms...)
}

// Bitmap returns a copy of the bitmap stored for cid, nil if absent
func (idx *Index) Bitmap(cid s2.CellID) *roaring.Bitmap {
	bm, ok := idx.cells[cid]
	if !ok {
		return nil
	}

	return bm.Clone()
}

// Len returns the number of indexed cells
func (idx *Index) Len() int {
	return len(idx.cells)
}

// Levels returns the indexed level range
func (idx *Index) Levels() (minLevel, maxLevel int) {
	return idx.minLevel, idx.maxLevel
}
