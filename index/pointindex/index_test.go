package pointindex

import (
	"bytes"
	"errors"
	"testing"

	log "github.com/go-kit/kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/akhenakh/geoworld"
)

// grid returns n*n distinct points around lat, lng
func grid(lat, lng float64, n int) []geoworld.PointRecord {
	points := make([]geoworld.PointRecord, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			points = append(points, geoworld.PointRecord{
				Coords: geoworld.Coords{Lat: lat + float64(i)*0.01, Lng: lng + float64(j)*0.01},
				ID:     uint32(i*n + j),
			})
		}
	}

	return points
}

func TestIndex_NearestSelfLookup(t *testing.T) {
	tests := []struct {
		name   string
		points []geoworld.PointRecord
	}{
		{"few points", grid(10, 10, 3)},
		{"bulk loaded", grid(48.8, 2.2, 20)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			records := append([]geoworld.PointRecord(nil), tt.points...)
			idx := New(records, Options{})
			require.Equal(t, len(tt.points), idx.Len())

			for _, p := range tt.points {
				got, err := idx.Nearest(p.Coords)
				require.NoError(t, err)
				require.Equal(t, p.ID, got)
			}
		})
	}
}

func TestIndex_NearestN(t *testing.T) {
	points := grid(48.8, 2.2, 10)
	byID := make(map[uint32]geoworld.Coords, len(points))
	for _, p := range points {
		byID[p.ID] = p.Coords
	}

	idx := New(append([]geoworld.PointRecord(nil), points...), Options{})
	q := geoworld.Coords{Lat: 48.833, Lng: 2.251}

	got := idx.NearestN(q, len(points))
	require.Len(t, got, len(points))

	seen := make(map[uint32]struct{}, len(got))
	prev := -1.0
	for _, id := range got {
		seen[id] = struct{}{}
		d := geoworld.SquaredEuclideanDistance(q, byID[id])
		require.GreaterOrEqual(t, d, prev)
		prev = d
	}
	require.Len(t, seen, len(points))

	// more than available
	require.Len(t, idx.NearestN(q, len(points)+10), len(points))

	first, err := idx.Nearest(q)
	require.NoError(t, err)
	require.Equal(t, first, idx.NearestN(q, 1)[0])

	require.Empty(t, idx.NearestN(q, 0))
	require.Empty(t, idx.NearestN(q, -1))
}

func TestIndex_NearestNExample(t *testing.T) {
	idx := New([]geoworld.PointRecord{
		{Coords: geoworld.Coords{Lat: 10.001, Lng: 10.001}, ID: 2},
		{Coords: geoworld.Coords{Lat: 10.0, Lng: 10.0}, ID: 1},
	}, Options{})

	got := idx.NearestN(geoworld.Coords{Lat: 10.0, Lng: 10.0}, 2)
	if !cmp.Equal(got, []uint32{1, 2}) {
		t.Errorf("NearestN() got = %v, want [1 2]", got)
	}
}

func TestIndex_Empty(t *testing.T) {
	idx := New(nil, Options{})

	_, err := idx.Nearest(geoworld.Coords{Lat: 1, Lng: 1})
	require.True(t, errors.Is(err, geoworld.ErrNoResult))

	require.Empty(t, idx.NearestN(geoworld.Coords{Lat: 1, Lng: 1}, 5))
	require.Equal(t, 0, idx.Len())
}

func TestIndex_BuildLogs(t *testing.T) {
	var buf bytes.Buffer

	New(grid(0, 0, 2), Options{Logger: log.NewLogfmtLogger(&buf)})

	require.Contains(t, buf.String(), "building point index")
	require.Contains(t, buf.String(), "points_count=4")
}
