package geoworld

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/fxamacker/cbor"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/twpayne/go-geom/encoding/geojson"
)

const (
	featurePrefix = 'F'
	infoKey       = 'i'
)

// Store is a source of features to populate a World
type Store interface {
	LoadFeature(id uint32) (*Feature, error)
	LoadAllFeatures(add func(*FeatureStorage, uint32) error) error
	LoadIndexInfos() (*IndexInfos, error)
}

// FeatureStorage on disk storage of the feature
type FeatureStorage struct {
	Properties map[string]interface{}

	// GeometryBytes the geometry encoded as WKB
	GeometryBytes []byte
}

// IndexOptions for writing a feature collection into a Store
type IndexOptions struct {
	// MinLevel and MaxLevel of the cell index the features are meant for
	MinLevel int
	MaxLevel int

	// IDProperty when set, the feature id is read from this numeric property
	// instead of the position in the collection
	IDProperty string

	Filename string
	Version  string
}

// IndexInfos used to store information about the index in DB
type IndexInfos struct {
	Filename       string
	IndexTime      time.Time
	IndexerVersion string
	FeatureCount   uint32
	MinLevel       int
	MaxLevel       int
}

func (infos *IndexInfos) String() string {
	return fmt.Sprintf("Filename: %s\nIndexTime: %s\nIndexerVersion: %s\nFeatureCount %d\nLevels %d-%d\n",
		infos.Filename,
		infos.IndexTime,
		infos.IndexerVersion,
		infos.FeatureCount,
		infos.MinLevel,
		infos.MaxLevel,
	)
}

func FeatureKey(id uint32) []byte {
	k := make([]byte, 1+4)
	k[0] = featurePrefix
	binary.BigEndian.PutUint32(k[1:], id)

	return k
}

func FeaturePrefix() byte {
	return featurePrefix
}

func InfoKey() []byte {
	return []byte{infoKey}
}

// EncodeFeatures encodes every feature of fc as a FeatureStorage and pass it to put with its key,
// it returns the count of distinct stored features.
// Features without a valid id or geometry are skipped, a duplicated id overwrites the previous feature.
func EncodeFeatures(
	fc geojson.FeatureCollection,
	opts IndexOptions,
	logger log.Logger,
	put func(key, value []byte) error,
) (uint32, error) {
	var count uint32

	seen := make(map[uint32]struct{}, len(fc.Features))

	for i, f := range fc.Features {
		id := uint32(i)

		if opts.IDProperty != "" {
			fid, ok := FeatureID(f.Properties[opts.IDProperty])
			if !ok {
				level.Warn(logger).Log(
					"msg", "skipping feature, invalid id",
					"id_property", opts.IDProperty,
					"feature_properties", f.Properties,
				)

				continue
			}
			id = fid
		}

		gb, err := GeoJSONEncodeGeometry(f)
		if err != nil {
			level.Warn(logger).Log("msg", "skipping feature, error encoding geometry", "error", err, "fid", id)

			continue
		}

		buf := new(bytes.Buffer)
		enc := cbor.NewEncoder(buf, cbor.CanonicalEncOptions())

		fs := &FeatureStorage{Properties: f.Properties, GeometryBytes: gb}
		if err := enc.Encode(fs); err != nil {
			return count, fmt.Errorf("can't encode FeatureStorage: %w", err)
		}

		if err := put(FeatureKey(id), buf.Bytes()); err != nil {
			return count, err
		}

		if _, ok := seen[id]; ok {
			level.Warn(logger).Log("msg", "duplicate feature id, overwriting previous feature", "fid", id)

			continue
		}
		seen[id] = struct{}{}

		level.Debug(logger).Log("msg", "stored feature", "fid", id)

		count++
	}

	return count, nil
}

// FeatureID converts a decoded GeoJSON property into a feature id,
// only integers in the uint32 range are valid ids.
func FeatureID(v interface{}) (uint32, bool) {
	fid, ok := v.(float64)
	if !ok {
		return 0, false
	}

	if fid != math.Trunc(fid) || fid < 0 || fid > math.MaxUint32 {
		return 0, false
	}

	return uint32(fid), true
}

// EncodeIndexInfos returns the encoded IndexInfos of a freshly written store
func EncodeIndexInfos(fcount uint32, opts IndexOptions) ([]byte, error) {
	infos := &IndexInfos{
		Filename:       opts.Filename,
		IndexTime:      time.Now(),
		IndexerVersion: opts.Version,
		FeatureCount:   fcount,
		MinLevel:       opts.MinLevel,
		MaxLevel:       opts.MaxLevel,
	}

	buf := new(bytes.Buffer)

	enc := cbor.NewEncoder(buf, cbor.CanonicalEncOptions())
	if err := enc.Encode(infos); err != nil {
		return nil, fmt.Errorf("failed encoding IndexInfos: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeFeatureStorage decodes a stored feature into fs
func DecodeFeatureStorage(b []byte, fs *FeatureStorage) error {
	return cbor.NewDecoder(bytes.NewReader(b)).Decode(fs)
}

// DecodeIndexInfos decodes stored index infos
func DecodeIndexInfos(b []byte) (*IndexInfos, error) {
	infos := &IndexInfos{}
	if err := cbor.NewDecoder(bytes.NewReader(b)).Decode(infos); err != nil {
		return nil, fmt.Errorf("failed decoding IndexInfos: %w", err)
	}

	return infos, nil
}
