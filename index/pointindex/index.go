// Package pointindex is a nearest neighbor index over points.
//
// The tree is bulk loaded once from a complete snapshot and never mutated,
// rebuilding means creating a new Index.
// Distances are planar squared distances on raw lat lng values, an
// approximation only valid for localized queries.
package pointindex

import (
	"github.com/dhconnelly/rtreego"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"github.com/akhenakh/geoworld"
)

const (
	dimensions  = 2
	minChildren = 25
	maxChildren = 50
)

// Index using a bulk loaded rtree
type Index struct {
	tree *rtreego.Rtree
}

// Options for the point Index
type Options struct {
	// Logger receives build diagnostics, defaults to a nop logger
	Logger log.Logger
}

type entry struct {
	geoworld.PointRecord
	rect rtreego.Rect
}

func (e *entry) Bounds() rtreego.Rect {
	return e.rect
}

// New bulk loads points into a new Index, the slice is owned by the Index afterward
func New(points []geoworld.PointRecord, opts Options) *Index {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	level.Info(logger).Log("msg", "building point index", "points_count", len(points))

	objs := make([]rtreego.Spatial, len(points))
	for i := range points {
		objs[i] = &entry{
			PointRecord: points[i],
			rect:        point(points[i].Coords).ToRect(0),
		}
	}

	return &Index{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren, objs...),
	}
}

// Nearest returns the id of the closest point, geoworld.ErrNoResult on an empty index
func (idx *Index) Nearest(c geoworld.Coords) (uint32, error) {
	obj := idx.tree.NearestNeighbor(point(c))
	if obj == nil {
		return 0, geoworld.ErrNoResult
	}

	return obj.(*entry).ID, nil
}

// NearestN returns up to limit ids ordered by increasing distance to c
func (idx *Index) NearestN(c geoworld.Coords, limit int) []uint32 {
	if limit <= 0 {
		return []uint32{}
	}

	objs := idx.tree.NearestNeighbors(limit, point(c))

	ids := make([]uint32, 0, len(objs))
	for _, obj := range objs {
		if obj == nil {
			continue
		}
		ids = append(ids, obj.(*entry).ID)
	}

	return ids
}

// Len returns the number of indexed points
func (idx *Index) Len() int {
	return idx.tree.Size()
}

func point(c geoworld.Coords) rtreego.Point {
	return rtreego.Point{c.Lat, c.Lng}
}
