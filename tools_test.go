package geoworld

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type recorder struct {
	points []PointRecord
	shapes map[uint32][][]Coords
}

func newRecorder() *recorder {
	return &recorder{shapes: make(map[uint32][][]Coords)}
}

func (r *recorder) Insert(c Coords, id uint32) {
	r.points = append(r.points, PointRecord{Coords: c, ID: id})
}

func (r *recorder) InsertShape(polyline []Coords, id uint32) {
	r.shapes[id] = append(r.shapes[id], polyline)
}

func (r *recorder) InsertShapes(polylines [][]Coords, id uint32) {
	r.shapes[id] = append(r.shapes[id], polylines...)
}

func TestIndexGeometry(t *testing.T) {
	square := geom.NewPolygon(geom.XY).MustSetCoords([][]geom.Coord{
		{{20, 20}, {21, 20}, {21, 21}, {20, 21}, {20, 20}},
	})

	tests := []struct {
		name       string
		g          geom.T
		wantPoints []PointRecord
		wantShapes [][]Coords
		wantErr    bool
	}{
		{
			"point is lng lat",
			geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{2.3, 48.8}),
			[]PointRecord{{Coords: Coords{Lat: 48.8, Lng: 2.3}, ID: 1}},
			nil,
			false,
		},
		{
			"multipoint",
			geom.NewMultiPoint(geom.XY).MustSetCoords([]geom.Coord{{1, 2}, {3, 4}}),
			[]PointRecord{
				{Coords: Coords{Lat: 2, Lng: 1}, ID: 1},
				{Coords: Coords{Lat: 4, Lng: 3}, ID: 1},
			},
			nil,
			false,
		},
		{
			"linestring",
			geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 0}}),
			nil,
			[][]Coords{{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}},
			false,
		},
		{
			"multilinestring",
			geom.NewMultiLineString(geom.XY).MustSetCoords([][]geom.Coord{
				{{0, 0}, {1, 0}},
				{{5, 5}, {6, 6}},
			}),
			nil,
			[][]Coords{
				{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}},
				{{Lat: 5, Lng: 5}, {Lat: 6, Lng: 6}},
			},
			false,
		},
		{
			"polygon rings",
			square,
			nil,
			[][]Coords{{
				{Lat: 20, Lng: 20}, {Lat: 20, Lng: 21}, {Lat: 21, Lng: 21}, {Lat: 21, Lng: 20}, {Lat: 20, Lng: 20},
			}},
			false,
		},
		{
			"collection",
			geom.NewGeometryCollection().MustPush(
				geom.NewPoint(geom.XY).MustSetCoords(geom.Coord{1, 2}),
				geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 0}}),
			),
			[]PointRecord{{Coords: Coords{Lat: 2, Lng: 1}, ID: 1}},
			[][]Coords{{{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}}},
			false,
		},
		{
			"nil geometry",
			nil,
			nil,
			nil,
			true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRecorder()
			got, err := IndexGeometry(r, tt.g, 1)
			if (err != nil) != tt.wantErr {
				t.Errorf("IndexGeometry() error = %v, wantErr %v", err, tt.wantErr)

				return
			}
			if !cmp.Equal(got, tt.wantPoints) {
				t.Errorf("IndexGeometry() points got = %v, want %v", got, tt.wantPoints)
			}
			if !cmp.Equal(r.points, tt.wantPoints) {
				t.Errorf("IndexGeometry() inserted got = %v, want %v", r.points, tt.wantPoints)
			}
			if !cmp.Equal(r.shapes[1], tt.wantShapes) {
				t.Errorf("IndexGeometry() shapes got = %v, want %v", r.shapes[1], tt.wantShapes)
			}
		})
	}
}

func TestIndexGeometryUnsupported(t *testing.T) {
	_, err := IndexGeometry(newRecorder(), geom.NewLinearRing(geom.XY), 1)
	require.True(t, errors.Is(err, ErrUnsupportedGeometry))
}

func TestIndexGeometryEmptyPoint(t *testing.T) {
	r := newRecorder()
	got, err := IndexGeometry(r, geom.NewPointEmpty(geom.XY), 3)
	require.NoError(t, err)
	require.Empty(t, got)
	require.Empty(t, r.points)
}

func TestGeometryRoundTrip(t *testing.T) {
	f := &geojson.Feature{
		Geometry:   geom.NewLineString(geom.XY).MustSetCoords([]geom.Coord{{0, 0}, {1, 0}, {2, 0}}),
		Properties: map[string]interface{}{"name": "equator line"},
	}

	b, err := GeoJSONEncodeGeometry(f)
	require.NoError(t, err)

	dec, err := FeatureFromStorage(&FeatureStorage{Properties: f.Properties, GeometryBytes: b})
	require.NoError(t, err)
	require.Equal(t, "equator line", dec.Properties["name"])

	ls, ok := dec.Geometry.(*geom.LineString)
	require.True(t, ok)
	require.Equal(t, 3, ls.NumCoords())

	_, err = GeoJSONEncodeGeometry(&geojson.Feature{})
	require.Error(t, err)

	_, err = FeatureFromStorage(&FeatureStorage{GeometryBytes: []byte{0x01}})
	require.Error(t, err)
}

func TestValidLevels(t *testing.T) {
	require.True(t, ValidLevels(DefaultMinLevel, DefaultMaxLevel))
	require.True(t, ValidLevels(0, MaxCellLevel))
	require.False(t, ValidLevels(12, 9))
	require.False(t, ValidLevels(-1, 5))
	require.False(t, ValidLevels(5, 31))
}

func TestSquaredEuclideanDistance(t *testing.T) {
	require.Equal(t, 25.0, SquaredEuclideanDistance(Coords{Lat: 0, Lng: 0}, Coords{Lat: 3, Lng: 4}))
	require.Equal(t, 0.0, SquaredEuclideanDistance(Coords{Lat: 1, Lng: 1}, Coords{Lat: 1, Lng: 1}))
	require.InDelta(t, 1.0, KmToDegrees(KmPerDegree), 1e-12)
}

func TestFeatureKey(t *testing.T) {
	require.Equal(t, []byte{'F', 0, 0, 1, 2}, FeatureKey(258))
	require.Equal(t, byte('F'), FeaturePrefix())
}
