package geoworld

import (
	"github.com/pkg/errors"
)

const (
	// KmPerDegree approximates the length of one degree of latitude.
	// Radius conversions using it are only accurate near the equator.
	KmPerDegree = 111.0

	// DefaultMinLevel and DefaultMaxLevel are the s2 levels used by a default World.
	DefaultMinLevel = 9
	DefaultMaxLevel = 12

	// MaxCellLevel is the deepest s2 level.
	MaxCellLevel = 30
)

var (
	// ErrNotBuilt is returned when querying the point index before it was built.
	ErrNotBuilt = errors.New("no point index built")

	// ErrNoResult is returned when a built index yields nothing.
	ErrNoResult = errors.New("no result")

	// ErrInvalidLevels is returned for a level range outside [0, 30] or with min > max.
	ErrInvalidLevels = errors.New("invalid cell level range")

	// ErrFeatureNotFound is returned by a Store for an unknown feature id.
	ErrFeatureNotFound = errors.New("feature not found")

	// ErrUnsupportedGeometry is returned by IndexGeometry for unknown geometry types.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

// Coords a latitude, longitude pair in degrees
type Coords struct {
	Lat float64
	Lng float64
}

// PointRecord a point tagged with its feature id
type PointRecord struct {
	Coords
	ID uint32
}

// FeatureIndexer accepts points and shapes, see world.World
type FeatureIndexer interface {
	// Insert indexes a point into the cell index
	Insert(c Coords, id uint32)

	// InsertShape indexes a polyline as segments
	InsertShape(polyline []Coords, id uint32)

	// InsertShapes indexes every polyline under the same id
	InsertShapes(polylines [][]Coords, id uint32)
}

// SquaredEuclideanDistance planar squared distance on raw lat lng values
func SquaredEuclideanDistance(a, b Coords) float64 {
	dlat := a.Lat - b.Lat
	dlng := a.Lng - b.Lng

	return dlat*dlat + dlng*dlng
}

// KmToDegrees converts a distance in km to an angle in degrees using KmPerDegree.
func KmToDegrees(km float64) float64 {
	return km / KmPerDegree
}

// ValidLevels reports whether min and max form a usable s2 level range.
func ValidLevels(minLevel, maxLevel int) bool {
	return minLevel >= 0 && maxLevel <= MaxCellLevel && minLevel <= maxLevel
}
