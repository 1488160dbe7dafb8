// Package pogreb is a feature Store backed by a pogreb hash table,
// it trades bbolt ordered iteration for faster random feature lookups.
package pogreb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/akrylysov/pogreb"
	log "github.com/go-kit/kit/log"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/akhenakh/geoworld"
)

var (
	featureStoragePool = sync.Pool{
		New: func() interface{} {
			return &geoworld.FeatureStorage{}
		},
	}
)

// Storage cold storage
type Storage struct {
	*pogreb.DB
	logger log.Logger
}

// NewStorage returns a cold storage using pogreb
func NewStorage(path string, logger log.Logger) (*Storage, func() error, error) {
	// Creating DB
	db, err := pogreb.Open(path, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to created DB at %s: %w", path, err)
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

	if err := s.deleteFeatures(); err != nil {
		return fmt.Errorf("failed removing previous features: %w", err)
	}

	count, err := geoworld.EncodeFeatures(fc, opts, logger, s.Put)
	if err != nil {
		return fmt.Errorf("failed store features into DB: %w", err)
	}

	infoBytes, err := geoworld.EncodeIndexInfos(count, opts)
	if err != nil {
		return err
	}

	if err := s.Put(geoworld.InfoKey(), infoBytes); err != nil {
		return fmt.Errorf("failed writing IndexInfos: %w", err)
	}

	return s.Sync()
}

func (s *Storage) deleteFeatures() error {
	var keys [][]byte

	it := s.Items()

	for {
		key, _, err := it.Next()
		if err != nil {
			if errors.Is(err, pogreb.ErrIterationDone) {
				break
			}

			return err
		}

		if isFeatureKey(key) {
			keys = append(keys, key)
		}
	}

	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			return err
		}
	}

	return nil
}

func isFeatureKey(key []byte) bool {
	return len(key) == 5 && key[0] == geoworld.FeaturePrefix()
}

// LoadFeature loads one feature from the DB
func (s *Storage) LoadFeature(id uint32) (*geoworld.Feature, error) {
	v, err := s.Get(geoworld.FeatureKey(id))
	if err != nil {
		return nil, fmt.Errorf("error loading feature %w", err)
	}

	if v == nil {
		return nil, fmt.Errorf("%w: %d", geoworld.ErrFeatureNotFound, id)
	}

	fs := &geoworld.FeatureStorage{}
	if err = geoworld.DecodeFeatureStorage(v, fs); err != nil {
		return nil, err
	}

	return geoworld.FeatureFromStorage(fs)
}

// LoadAllFeatures loads every FeatureStorage from DB and pass them to add, in no particular order
// the FeatureStorage is reused between calls, add must not retain it
func (s *Storage) LoadAllFeatures(add func(*geoworld.FeatureStorage, uint32) error) error {
	it := s.Items()

	for {
		key, val, err := it.Next()
		if err != nil {
			if errors.Is(err, pogreb.ErrIterationDone) {
				return nil
			}

			return err
		}

		// we only want keys starting with feature prefix
		if !isFeatureKey(key) {
			continue
		}

		id := binary.BigEndian.Uint32(key[1:])

		fs := featureStoragePool.Get().(*geoworld.FeatureStorage)
		*fs = geoworld.FeatureStorage{}

		if err := geoworld.DecodeFeatureStorage(val, fs); err != nil {
			featureStoragePool.Put(fs)

			return err
		}

		if err := add(fs, id); err != nil {
			featureStoragePool.Put(fs)

			return err
		}
		featureStoragePool.Put(fs)
	}
}

// LoadIndexInfos loads index infos from the DB
func (s *Storage) LoadIndexInfos() (*geoworld.IndexInfos, error) {
	v, err := s.Get(geoworld.InfoKey())
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, errors.New("can't find infos entries, invalid DB")
	}

	return geoworld.DecodeIndexInfos(v)
}
