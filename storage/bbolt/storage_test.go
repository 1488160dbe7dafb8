package bbolt_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"testing"

	log "github.com/go-kit/kit/log"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	bolt "go.etcd.io/bbolt"

	"github.com/akhenakh/geoworld"
	"github.com/akhenakh/geoworld/storage/bbolt"
)

func TestStorage_LoadFeature(t *testing.T) {
	storage := setup(t, "fid")

	tests := []struct {
		name     string
		id       uint32
		wantName string
		wantType string
		wantErr  bool
	}{
		{"point", 1, "first point", "*geom.Point", false},
		{"line", 5, "equator line", "*geom.LineString", false},
		{"polygon", 7, "square", "*geom.Polygon", false},
		{"missing", 3, "", "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := storage.LoadFeature(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("LoadFeature() error = %v, wantErr %v", err, tt.wantErr)

				return
			}
			if tt.wantErr {
				var oerr bbolt.OperationStorageError
				require.True(t, errors.As(err, &oerr))
				require.True(t, errors.Is(err, geoworld.ErrFeatureNotFound))

				return
			}
			require.Equal(t, tt.wantName, f.Properties["name"])
			require.Equal(t, tt.wantType, fmt.Sprintf("%T", f.Geometry))
		})
	}
}

func TestStorage_LoadFeatureGeometry(t *testing.T) {
	storage := setup(t, "fid")

	f, err := storage.LoadFeature(5)
	require.NoError(t, err)

	ls, ok := f.Geometry.(*geom.LineString)
	require.True(t, ok)

	want := []geom.Coord{{0, 0}, {1, 0}, {2, 0}}
	if !cmp.Equal(ls.Coords(), want) {
		t.Errorf("LoadFeature() coords got = %v, want %v", ls.Coords(), want)
	}
}

func TestStorage_LoadAllFeatures(t *testing.T) {
	storage := setup(t, "fid")

	var ids []uint32
	err := storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		require.NotEmpty(t, fs.GeometryBytes)
		ids = append(ids, id)

		return nil
	})
	require.NoError(t, err)

	// the feature without fid is skipped
	if !cmp.Equal(ids, []uint32{1, 2, 5, 7}) {
		t.Errorf("LoadAllFeatures() got = %v", ids)
	}

	infos, err := storage.LoadIndexInfos()
	require.NoError(t, err)
	require.Equal(t, uint32(4), infos.FeatureCount)
	require.Equal(t, 9, infos.MinLevel)
	require.Equal(t, 12, infos.MaxLevel)
	require.Equal(t, "world.geojson", infos.Filename)
}

func TestStorage_LoadAllFeaturesPosition(t *testing.T) {
	storage := setup(t, "")

	var ids []uint32
	err := storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		ids = append(ids, id)

		return nil
	})
	require.NoError(t, err)

	if !cmp.Equal(ids, []uint32{0, 1, 2, 3, 4}) {
		t.Errorf("LoadAllFeatures() got = %v", ids)
	}
}

func TestStorage_LoadAllFeaturesError(t *testing.T) {
	storage := setup(t, "fid")

	wantErr := errors.New("stop")
	err := storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		return wantErr
	})
	require.True(t, errors.Is(err, wantErr))
}

func TestStorage_IndexInvalidLevels(t *testing.T) {
	tmpFile, err := ioutil.TempFile(os.TempDir(), "geoworld-test-")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	storage, sclose, err := bbolt.NewStorage(tmpFile.Name(), log.NewNopLogger())
	require.NoError(t, err)
	defer sclose()

	err = storage.Index(geojson.FeatureCollection{}, geoworld.IndexOptions{MinLevel: 12, MaxLevel: 9})
	require.True(t, errors.Is(err, geoworld.ErrInvalidLevels))
}

func TestStorage_Reindex(t *testing.T) {
	tmpFile, err := ioutil.TempFile(os.TempDir(), "geoworld-test-")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	storage, sclose, err := bbolt.NewStorage(tmpFile.Name(), log.NewNopLogger())
	require.NoError(t, err)
	defer sclose()

	require.NoError(t, storage.Index(readWorld(t), geoworld.IndexOptions{
		MinLevel:   9,
		MaxLevel:   12,
		IDProperty: "fid",
		Filename:   "world.geojson",
	}))

	fc := geojson.FeatureCollection{
		Features: []*geojson.Feature{{
			Geometry:   geom.NewPointFlat(geom.XY, []float64{2, 1}),
			Properties: map[string]interface{}{"fid": 42.0, "name": "only one"},
		}},
	}
	require.NoError(t, storage.Index(fc, geoworld.IndexOptions{
		MinLevel:   10,
		MaxLevel:   11,
		IDProperty: "fid",
		Filename:   "small.geojson",
	}))

	var ids []uint32
	err = storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		ids = append(ids, id)

		return nil
	})
	require.NoError(t, err)

	if !cmp.Equal(ids, []uint32{42}) {
		t.Errorf("LoadAllFeatures() got = %v, want [42]", ids)
	}

	_, err = storage.LoadFeature(5)
	require.True(t, errors.Is(err, geoworld.ErrFeatureNotFound))

	infos, err := storage.LoadIndexInfos()
	require.NoError(t, err)
	require.Equal(t, uint32(1), infos.FeatureCount)
	require.Equal(t, "small.geojson", infos.Filename)
	require.Equal(t, 10, infos.MinLevel)
}

func TestStorage_OpenLocked(t *testing.T) {
	storage := setup(t, "fid")
	require.NotNil(t, storage)

	// a writer can't get the lock while a reader holds the file
	_, _, err := bbolt.NewStorage(storage.Path(), log.NewNopLogger())
	require.True(t, errors.Is(err, bolt.ErrTimeout), err)

	// readers share the lock
	_, rclose, err := bbolt.NewROStorage(storage.Path(), log.NewNopLogger())
	require.NoError(t, err)
	require.NoError(t, rclose())
}

func TestStorage_EmptyDB(t *testing.T) {
	tmpFile, err := ioutil.TempFile(os.TempDir(), "geoworld-test-")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	storage, sclose, err := bbolt.NewStorage(tmpFile.Name(), log.NewNopLogger())
	require.NoError(t, err)
	defer sclose()

	_, err = storage.LoadIndexInfos()
	require.Error(t, err)

	err = storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		return nil
	})
	require.Error(t, err)
}

func setup(t *testing.T, idProperty string) *bbolt.Storage {
	t.Helper()

	logger := log.NewNopLogger()

	tmpFile, err := ioutil.TempFile(os.TempDir(), "geoworld-test-")
	require.NoError(t, err)
	wstorage, wclose, err := bbolt.NewStorage(tmpFile.Name(), logger)
	require.NoError(t, err)

	err = wstorage.Index(readWorld(t), geoworld.IndexOptions{
		MinLevel:   9,
		MaxLevel:   12,
		IDProperty: idProperty,
		Filename:   "world.geojson",
		Version:    "unittest",
	})
	require.NoError(t, err)

	err = wclose()
	require.NoError(t, err)

	// RO storage
	storage, bclose, err := bbolt.NewROStorage(tmpFile.Name(), logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		bclose()
		os.Remove(tmpFile.Name())
	})

	return storage
}

func readWorld(t *testing.T) geojson.FeatureCollection {
	t.Helper()

	file, err := os.Open("../../testdata/world.geojson")
	require.NoError(t, err)
	defer file.Close()

	var fc geojson.FeatureCollection
	require.NoError(t, json.NewDecoder(file).Decode(&fc))

	return fc
}
