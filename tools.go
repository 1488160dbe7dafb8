package geoworld

import (
	"github.com/pkg/errors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// Feature representation in memory
type Feature struct {
	Geometry   geom.T
	Properties map[string]interface{}
}

// IndexGeometry fans a geometry out to idx under id.
// Points go to the cell index and are returned as records for the point index,
// lines and polygon rings are inserted as shapes.
func IndexGeometry(idx FeatureIndexer, g geom.T, id uint32) ([]PointRecord, error) {
	if g == nil {
		return nil, errors.New("invalid geometry")
	}

	var points []PointRecord

	switch rg := g.(type) {
	case *geom.Point:
		if rg.Empty() {
			return nil, nil
		}
		c := coordsFromCoord(rg.Coords())
		idx.Insert(c, id)
		points = append(points, PointRecord{Coords: c, ID: id})
	case *geom.MultiPoint:
		for i := 0; i < rg.NumPoints(); i++ {
			p := rg.Point(i)
			if p.Empty() {
				continue
			}
			c := coordsFromCoord(p.Coords())
			idx.Insert(c, id)
			points = append(points, PointRecord{Coords: c, ID: id})
		}
	case *geom.LineString:
		idx.InsertShape(polylineFromCoords(rg.Coords()), id)
	case *geom.MultiLineString:
		lines := make([][]Coords, rg.NumLineStrings())
		for i := range lines {
			lines[i] = polylineFromCoords(rg.LineString(i).Coords())
		}
		idx.InsertShapes(lines, id)
	case *geom.Polygon:
		idx.InsertShapes(polygonRings(rg), id)
	case *geom.MultiPolygon:
		var rings [][]Coords
		for i := 0; i < rg.NumPolygons(); i++ {
			rings = append(rings, polygonRings(rg.Polygon(i))...)
		}
		idx.InsertShapes(rings, id)
	case *geom.GeometryCollection:
		for _, sg := range rg.Geoms() {
			sp, err := IndexGeometry(idx, sg, id)
			if err != nil {
				return nil, errors.Wrap(err, "can't index geometry collection member")
			}
			points = append(points, sp...)
		}
	default:
		return nil, errors.Wrapf(ErrUnsupportedGeometry, "%T", g)
	}

	return points, nil
}

// GeoJSONEncodeGeometry encodes the feature geometry as WKB
func GeoJSONEncodeGeometry(f *geojson.Feature) ([]byte, error) {
	if f.Geometry == nil {
		return nil, errors.New("invalid geometry")
	}

	b, err := wkb.Marshal(f.Geometry, wkb.NDR)
	if err != nil {
		return nil, errors.Wrap(err, "can't encode geometry")
	}

	return b, nil
}

// FeatureFromStorage decodes a stored feature
func FeatureFromStorage(fs *FeatureStorage) (*Feature, error) {
	g, err := wkb.Unmarshal(fs.GeometryBytes)
	if err != nil {
		return nil, errors.Wrap(err, "can't decode geometry")
	}

	return &Feature{
		Geometry:   g,
		Properties: fs.Properties,
	}, nil
}

// polygonRings returns the outer ring followed by the holes
func polygonRings(p *geom.Polygon) [][]Coords {
	rings := make([][]Coords, p.NumLinearRings())
	for i := range rings {
		rings[i] = polylineFromCoords(p.LinearRing(i).Coords())
	}

	return rings
}

func polylineFromCoords(cs []geom.Coord) []Coords {
	line := make([]Coords, len(cs))
	for i, c := range cs {
		line[i] = coordsFromCoord(c)
	}

	return line
}

// geom coords are lng lat ordered
func coordsFromCoord(c geom.Coord) Coords {
	return Coords{Lat: c.Y(), Lng: c.X()}
}
