package bbolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.etcd.io/bbolt"

	"github.com/akhenakh/geoworld"
)

// OpenTimeout is the time to wait for the file lock held by another process
const OpenTimeout = 2 * time.Second

var (
	featureStoragePool = sync.Pool{
		New: func() interface{} {
			return &geoworld.FeatureStorage{}
		},
	}
)

// OperationStorageError an error while reading or writing the DB
type OperationStorageError string

func (e OperationStorageError) Error() string {
	return string(e)
}

// Storage cold storage of the source features
type Storage struct {
	*bbolt.DB
	logger log.Logger
}

// NewStorage returns a cold storage using bboltdb
func NewStorage(path string, logger log.Logger) (*Storage, func() error, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: OpenTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("can't open database %w", err)
	}

	return &Storage{
		DB:     db,
		logger: logger,
	}, db.Close, nil
}

// NewROStorage returns a read only storage using bboltdb
func NewROStorage(path string, logger log.Logger) (*Storage, func() error, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{ReadOnly: true, Timeout: OpenTimeout})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open DB for reading at %s: %w", path, err)
	}

	return &Storage{
		DB:     db,
		logger: logger,
	}, db.Close, nil
}

// Index replaces the stored features by the features of fc and writes the index infos
func (s *Storage) Index(fc geojson.FeatureCollection, opts geoworld.IndexOptions) error {
	logger := log.With(s.logger, "component", "indexer")

	if !geoworld.ValidLevels(opts.MinLevel, opts.MaxLevel) {
		return geoworld.ErrInvalidLevels
	}

	err := s.Update(func(tx *bbolt.Tx) error {
		ib, err := tx.CreateBucketIfNotExists(geoworld.InfoKey())
		if err != nil {
			return err
		}

		// drop the previous dataset
		fkey := []byte{geoworld.FeaturePrefix()}
		if err := tx.DeleteBucket(fkey); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}

		b, err := tx.CreateBucket(fkey)
		if err != nil {
			return err
		}

		count, err := geoworld.EncodeFeatures(fc, opts, logger, b.Put)
		if err != nil {
			return err
		}

		infoBytes, err := geoworld.EncodeIndexInfos(count, opts)
		if err != nil {
			return err
		}

		return ib.Put(geoworld.InfoKey(), infoBytes)
	})
	if err != nil {
		return fmt.Errorf("failed store features into DB: %w", err)
	}

	return nil
}

// LoadFeature loads one feature from the DB
func (s *Storage) LoadFeature(id uint32) (*geoworld.Feature, error) {
	fs := &geoworld.FeatureStorage{}

	err := s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte{geoworld.FeaturePrefix()})
		if b == nil {
			return OperationStorageError("can't find features bucket, invalid DB")
		}
		v := b.Get(geoworld.FeatureKey(id))
		if v == nil {
			return fmt.Errorf("%w: %w", geoworld.ErrFeatureNotFound, OperationStorageError(fmt.Sprintf("feature id not found: %d", id)))
		}

		return geoworld.DecodeFeatureStorage(v, fs)
	})
	if err != nil {
		return nil, fmt.Errorf("error loading feature %w", err)
	}

	return geoworld.FeatureFromStorage(fs)
}

// LoadAllFeatures loads every FeatureStorage from DB and pass them to add
// the FeatureStorage is reused between calls, add must not retain it
func (s *Storage) LoadAllFeatures(add func(*geoworld.FeatureStorage, uint32) error) error {
	return s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte{geoworld.FeaturePrefix()})
		if b == nil {
			return OperationStorageError("can't find features bucket, invalid DB")
		}

		return b.ForEach(func(key, value []byte) error {
			id := binary.BigEndian.Uint32(key[1:])

			fs := featureStoragePool.Get().(*geoworld.FeatureStorage)
			defer featureStoragePool.Put(fs)

			*fs = geoworld.FeatureStorage{}

			if err := geoworld.DecodeFeatureStorage(value, fs); err != nil {
				return err
			}

			return add(fs, id)
		})
	})
}

// LoadIndexInfos loads index infos from the DB
func (s *Storage) LoadIndexInfos() (*geoworld.IndexInfos, error) {
	var infos *geoworld.IndexInfos

	err := s.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(geoworld.InfoKey())
		if b == nil {
			return OperationStorageError("can't find infos bucket, invalid DB")
		}
		value := b.Get(geoworld.InfoKey())
		if value == nil {
			return OperationStorageError("can't find infos entries, invalid DB")
		}

		var err error
		infos, err = geoworld.DecodeIndexInfos(value)

		return err
	})

	return infos, err
}
