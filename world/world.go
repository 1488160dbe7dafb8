// Package world coordinates the cell, point and shape indexes over a shared
// lat lng coordinate space.
//
// A World is not synchronized: concurrent queries are safe only while nothing
// mutates it, inserts and BuildPointIndex need external locking.
package world

import (
	"github.com/RoaringBitmap/roaring"
	log "github.com/go-kit/kit/log"

	"github.com/akhenakh/geoworld"
	"github.com/akhenakh/geoworld/index/cellindex"
	"github.com/akhenakh/geoworld/index/pointindex"
	"github.com/akhenakh/geoworld/index/shapeindex"
)

// World owns the three indexes
type World struct {
	cells  *cellindex.Index
	points *pointindex.Index
	shapes *shapeindex.Index

	logger log.Logger
}

// Option configures a World
type Option func(*World)

// WithLogger sets the logger receiving build diagnostics
func WithLogger(logger log.Logger) Option {
	return func(w *World) {
		w.logger = logger
	}
}

// Stats counts of indexed elements
type Stats struct {
	Cells    int
	Points   int
	Segments int
}

// New returns an empty World indexing cells from minLevel to maxLevel
func New(minLevel, maxLevel int, opts ...Option) (*World, error) {
	if !geoworld.ValidLevels(minLevel, maxLevel) {
		return nil, geoworld.ErrInvalidLevels
	}

	w := &World{
		cells:  cellindex.New(minLevel, maxLevel),
		shapes: shapeindex.New(),
		logger: log.NewNopLogger(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// NewDefault returns a World using the default levels
func NewDefault(opts ...Option) *World {
	w, _ := New(geoworld.DefaultMinLevel, geoworld.DefaultMaxLevel, opts...)

	return w
}

// Insert indexes id at c into the cell index
func (w *World) Insert(c geoworld.Coords, id uint32) {
	w.cells.Insert(c, id)
}

// InsertShape indexes a polyline, polylines with fewer than 2 points are ignored
func (w *World) InsertShape(polyline []geoworld.Coords, id uint32) {
	w.shapes.Insert(polyline, id)
}

// InsertShapes indexes every polyline under id, invalid polylines are skipped
func (w *World) InsertShapes(polylines [][]geoworld.Coords, id uint32) {
	w.shapes.InsertMany(polylines, id)
}

// BuildPointIndex bulk loads points, replacing any previously built point index
func (w *World) BuildPointIndex(points []geoworld.PointRecord) {
	w.points = pointindex.New(points, pointindex.Options{Logger: w.logger})
}

// HasPointIndex reports whether BuildPointIndex was called
func (w *World) HasPointIndex() bool {
	return w.points != nil
}

// WithinRadius returns the ids of points in the cells covering radiusKm around c.
// Kilometers are converted with geoworld.KmPerDegree, accurate only near the equator.
func (w *World) WithinRadius(c geoworld.Coords, radiusKm float64, maxCells int) *roaring.Bitmap {
	return w.cells.WithinRadius(c, radiusKm, maxCells)
}

// Nearest returns the id of the closest point
func (w *World) Nearest(c geoworld.Coords) (uint32, error) {
	if w.points == nil {
		return 0, geoworld.ErrNotBuilt
	}

	return w.points.Nearest(c)
}

// NearestVec returns up to limit point ids by increasing distance
func (w *World) NearestVec(c geoworld.Coords, limit int) ([]uint32, error) {
	if w.points == nil {
		return nil, geoworld.ErrNotBuilt
	}

	return w.points.NearestN(c, limit), nil
}

// NearestShape returns the id of the closest shape
func (w *World) NearestShape(c geoworld.Coords) (uint32, bool) {
	return w.shapes.Nearest(c)
}

// NearestShapes returns the ids of all shapes tied at the closest distance
func (w *World) NearestShapes(c geoworld.Coords) ([]uint32, bool) {
	return w.shapes.NearestTies(c)
}

// ShapesWithinRadius returns the ids of shapes within radius of c.
// radius is expressed in raw coordinates units (degrees), not in km, see ShapesWithinRadiusKm.
func (w *World) ShapesWithinRadius(c geoworld.Coords, radius float64) []uint32 {
	return w.shapes.WithinDistance(c, radius*radius)
}

// ShapesWithinRadiusKm returns the ids of shapes within radiusKm of c,
// converted with the same approximation as WithinRadius.
func (w *World) ShapesWithinRadiusKm(c geoworld.Coords, radiusKm float64) []uint32 {
	return w.ShapesWithinRadius(c, geoworld.KmToDegrees(radiusKm))
}

// Stats returns the counts of indexed elements
func (w *World) Stats() Stats {
	s := Stats{
		Cells:    w.cells.Len(),
		Segments: w.shapes.Len(),
	}
	if w.points != nil {
		s.Points = w.points.Len()
	}

	return s
}
