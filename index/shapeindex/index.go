package shapeindex

import (
	"github.com/tidwall/rtree"

	"github.com/akhenakh/geoworld"
)

// Index of polylines decomposed into segments, it grows by incremental insertion.
// Distances are planar, in raw coordinates units.
// Index is not safe for concurrent mutation.
type Index struct {
	tree rtree.RTreeG[Segment]
}

// Segment a line between two consecutive points of a polyline
type Segment struct {
	A, B geoworld.Coords
	ID   uint32
}

func New() *Index {
	return &Index{}
}

// Insert decomposes polyline into segments owned by id, it returns the number of inserted segments.
// A polyline with fewer than 2 points is ignored.
func (idx *Index) Insert(polyline []geoworld.Coords, id uint32) int {
	if len(polyline) < 2 {
		return 0
	}

	for i := 1; i < len(polyline); i++ {
		s := Segment{A: polyline[i-1], B: polyline[i], ID: id}
		min, max := s.bounds()
		idx.tree.Insert(min, max, s)
	}

	return len(polyline) - 1
}

// InsertMany inserts all polylines under the same id.
// Invalid polylines are skipped, the rest of the batch is still inserted.
func (idx *Index) InsertMany(polylines [][]geoworld.Coords, id uint32) int {
	var count int
	for _, polyline := range polylines {
		count += idx.Insert(polyline, id)
	}

	return count
}

// Nearest returns the id owning the closest segment to c
func (idx *Index) Nearest(c geoworld.Coords) (uint32, bool) {
	var (
		id    uint32
		found bool
	)

	idx.tree.Nearby(distTo(c), func(min, max [2]float64, s Segment, dist float64) bool {
		id = s.ID
		found = true

		return false
	})

	return id, found
}

// NearestTies returns the distinct ids owning a segment at the minimum distance to c
func (idx *Index) NearestTies(c geoworld.Coords) ([]uint32, bool) {
	var (
		ids  []uint32
		best float64
	)

	seen := make(map[uint32]struct{})

	idx.tree.Nearby(distTo(c), func(min, max [2]float64, s Segment, dist float64) bool {
		if len(seen) > 0 && dist > best {
			return false
		}
		best = dist
		if _, ok := seen[s.ID]; !ok {
			seen[s.ID] = struct{}{}
			ids = append(ids, s.ID)
		}

		return true
	})

	if len(ids) == 0 {
		return nil, false
	}

	return ids, true
}

// WithinDistance returns the distinct ids owning a segment at a squared distance <= squaredRadius,
// ordered by their closest segment.
func (idx *Index) WithinDistance(c geoworld.Coords, squaredRadius float64) []uint32 {
	ids := []uint32{}
	seen := make(map[uint32]struct{})

	idx.tree.Nearby(distTo(c), func(min, max [2]float64, s Segment, dist float64) bool {
		if dist > squaredRadius {
			return false
		}
		if _, ok := seen[s.ID]; !ok {
			seen[s.ID] = struct{}{}
			ids = append(ids, s.ID)
		}

		return true
	})

	return ids
}

// Len returns the number of indexed segments
func (idx *Index) Len() int {
	return idx.tree.Len()
}

func (s Segment) bounds() (min, max [2]float64) {
	min = [2]float64{s.A.Lat, s.A.Lng}
	max = min
	if s.B.Lat < min[0] {
		min[0] = s.B.Lat
	} else {
		max[0] = s.B.Lat
	}
	if s.B.Lng < min[1] {
		min[1] = s.B.Lng
	} else {
		max[1] = s.B.Lng
	}

	return min, max
}

// SquaredDistance from p to the closest point of s
func (s Segment) SquaredDistance(p geoworld.Coords) float64 {
	dlat := s.B.Lat - s.A.Lat
	dlng := s.B.Lng - s.A.Lng

	l2 := dlat*dlat + dlng*dlng
	if l2 == 0 {
		return geoworld.SquaredEuclideanDistance(p, s.A)
	}

	t := ((p.Lat-s.A.Lat)*dlat + (p.Lng-s.A.Lng)*dlng) / l2
	switch {
	case t <= 0:
		return geoworld.SquaredEuclideanDistance(p, s.A)
	case t >= 1:
		return geoworld.SquaredEuclideanDistance(p, s.B)
	}

	return geoworld.SquaredEuclideanDistance(p, geoworld.Coords{
		Lat: s.A.Lat + t*dlat,
		Lng: s.A.Lng + t*dlng,
	})
}

// distTo orders nodes by box distance and segments by their exact distance to c
func distTo(c geoworld.Coords) func(min, max [2]float64, s Segment, item bool) float64 {
	target := [2]float64{c.Lat, c.Lng}

	return rtree.BoxDist[float64, Segment](target, target, func(min, max [2]float64, s Segment) float64 {
		return s.SquaredDistance(c)
	})
}
