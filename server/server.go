package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/ristretto"
	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/opentracing/opentracing-go"
	slog "github.com/opentracing/opentracing-go/log"
	"google.golang.org/grpc/health"

	"github.com/akhenakh/geoworld"
	"github.com/akhenakh/geoworld/index/cellindex"
	"github.com/akhenakh/geoworld/world"
)

const (
	// HealthServiceName the service name reported by the gRPC health server
	HealthServiceName = "grpc.health.v1.geoworldd"

	// DefaultMaxRadiusKm largest radius accepted by the radius queries when not configured
	DefaultMaxRadiusKm = 100

	// HalfCircumferenceKm no point on earth is further away
	HalfCircumferenceKm = 20037.5
)

// StoreOpener opens the feature store the World is loaded from,
// it returns the store and its close function.
type StoreOpener func() (geoworld.Store, func() error, error)

// Server exposes a World loaded from a Store
type Server struct {
	logger       log.Logger
	healthServer *health.Server
	open         StoreOpener
	maxCells     int
	maxRadiusKm  float64

	mu           sync.RWMutex
	storage      geoworld.Store
	closeStorage func() error
	cache        *ristretto.Cache
	world        *world.World
	infos        *geoworld.IndexInfos
}

type Options struct {
	// MaxCells used to cover a radius query when the request does not provide one
	MaxCells int

	// MaxRadiusKm largest radius accepted by the radius queries,
	// capped to HalfCircumferenceKm
	MaxRadiusKm float64

	// CacheCount features to keep in cache, 0 disables the cache
	CacheCount int64
}

// New opens the store and loads every feature into a new World
func New(
	ctx context.Context,
	logger log.Logger,
	open StoreOpener,
	healthServer *health.Server,
	opts Options,
) (*Server, error) {
	logger = log.With(logger, "component", "server")

	s := &Server{
		logger:       logger,
		healthServer: healthServer,
		open:         open,
		maxCells:     opts.MaxCells,
		maxRadiusKm:  opts.MaxRadiusKm,
	}

	if s.maxCells <= 0 {
		s.maxCells = cellindex.DefaultMaxCells
	}

	if s.maxRadiusKm <= 0 {
		s.maxRadiusKm = DefaultMaxRadiusKm
	}

	if s.maxRadiusKm > HalfCircumferenceKm {
		s.maxRadiusKm = HalfCircumferenceKm
	}

	if opts.CacheCount > 0 {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: opts.CacheCount * 10, // number of keys to track frequency
			MaxCost:     opts.CacheCount,
			BufferItems: 64, // number of keys per Get buffer.
		})
		if err != nil {
			return nil, fmt.Errorf("cache error: %w", err)
		}
		s.cache = cache
	}

	if err := s.Reload(ctx); err != nil {
		s.cache.Close()

		return nil, err
	}

	return s, nil
}

// Reload opens the store again, rebuilds a World from it and swaps both with the current ones.
// On error the current World and store are kept.
func (s *Server) Reload(ctx context.Context) error {
	span, _ := opentracing.StartSpanFromContext(ctx, "Reload")
	defer span.Finish()

	storage, closeStorage, err := s.open()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	w, infos, err := s.load(storage)
	if err != nil {
		if cerr := closeStorage(); cerr != nil {
			level.Warn(s.logger).Log("msg", "failed to close storage", "error", cerr)
		}

		return err
	}

	s.mu.Lock()
	previousClose := s.closeStorage
	s.storage = storage
	s.closeStorage = closeStorage
	s.world = w
	s.infos = infos

	// cached features belong to the previous store
	if s.cache != nil {
		s.cache.Clear()
	}
	s.mu.Unlock()

	if previousClose != nil {
		if err := previousClose(); err != nil {
			level.Warn(s.logger).Log("msg", "failed to close previous storage", "error", err)
		}
	}

	return nil
}

func (s *Server) load(storage geoworld.Store) (*world.World, *geoworld.IndexInfos, error) {
	infos, err := storage.LoadIndexInfos()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read index infos: %w", err)
	}

	w, err := world.New(infos.MinLevel, infos.MaxLevel, world.WithLogger(s.logger))
	if err != nil {
		return nil, nil, fmt.Errorf("can't create world with levels %d-%d: %w", infos.MinLevel, infos.MaxLevel, err)
	}

	var points []geoworld.PointRecord

	err = storage.LoadAllFeatures(func(fs *geoworld.FeatureStorage, id uint32) error {
		f, err := geoworld.FeatureFromStorage(fs)
		if err != nil {
			return fmt.Errorf("can't decode feature %d: %w", id, err)
		}

		fpoints, err := geoworld.IndexGeometry(w, f.Geometry, id)
		if err != nil {
			if errors.Is(err, geoworld.ErrUnsupportedGeometry) {
				level.Warn(s.logger).Log("msg", "skipping feature", "fid", id, "error", err)

				return nil
			}

			return fmt.Errorf("can't index feature %d: %w", id, err)
		}

		points = append(points, fpoints...)

		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load features from storage: %w", err)
	}

	w.BuildPointIndex(points)

	stats := w.Stats()
	worldGauge.WithLabelValues("cells").Set(float64(stats.Cells))
	worldGauge.WithLabelValues("points").Set(float64(stats.Points))
	worldGauge.WithLabelValues("segments").Set(float64(stats.Segments))

	level.Info(s.logger).Log("msg", "world loaded",
		"filename", infos.Filename,
		"feature_count", infos.FeatureCount,
		"cells_count", stats.Cells,
		"points_count", stats.Points,
		"segments_count", stats.Segments,
	)

	return w, infos, nil
}

// Close releases the store and the feature cache
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Close()

	if s.closeStorage == nil {
		return nil
	}

	err := s.closeStorage()
	s.closeStorage = nil

	return err
}

// MaxRadiusKm largest radius accepted by the radius queries
func (s *Server) MaxRadiusKm() float64 {
	return s.maxRadiusKm
}

// Infos returns the infos of the loaded dataset
func (s *Server) Infos() *geoworld.IndexInfos {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.infos
}

// Stats returns the counts of the loaded World
func (s *Server) Stats() world.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.world.Stats()
}

// WithinRadius returns the ids of the points in the cells covering radiusKm around c
func (s *Server) WithinRadius(ctx context.Context, c geoworld.Coords, radiusKm float64, maxCells int) []uint32 {
	span, _ := opentracing.StartSpanFromContext(ctx, "WithinRadius")
	defer span.Finish()

	span.LogFields(
		slog.Float64("lat", c.Lat),
		slog.Float64("lng", c.Lng),
		slog.Float64("radius_km", radiusKm),
	)

	if maxCells <= 0 {
		maxCells = s.maxCells
	}

	queryCounter.WithLabelValues("within").Inc()

	s.mu.RLock()
	bm := s.world.WithinRadius(c, radiusKm, maxCells)
	s.mu.RUnlock()

	level.Debug(s.logger).Log("msg", "querying within",
		"lat", c.Lat,
		"lng", c.Lng,
		"radius_km", radiusKm,
		"max_cells", maxCells,
		"count", bm.GetCardinality(),
	)

	return bm.ToArray()
}

// Nearest returns up to limit point ids by increasing distance,
// a limit of 0 queries the single closest point.
func (s *Server) Nearest(ctx context.Context, c geoworld.Coords, limit int) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Nearest")
	defer span.Finish()

	span.LogFields(
		slog.Float64("lat", c.Lat),
		slog.Float64("lng", c.Lng),
		slog.Int("limit", limit),
	)

	queryCounter.WithLabelValues("nearest").Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit == 0 {
		id, err := s.world.Nearest(c)
		if err != nil {
			return nil, err
		}

		return []uint32{id}, nil
	}

	return s.world.NearestVec(c, limit)
}

// NearestShapes returns the ids of the shapes tied at the closest distance
func (s *Server) NearestShapes(ctx context.Context, c geoworld.Coords) ([]uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "NearestShapes")
	defer span.Finish()

	queryCounter.WithLabelValues("shapes_nearest").Inc()

	s.mu.RLock()
	ids, found := s.world.NearestShapes(c)
	s.mu.RUnlock()

	if !found {
		return nil, geoworld.ErrNoResult
	}

	return ids, nil
}

// ShapesWithinRadius returns the ids of the shapes within radiusKm of c
func (s *Server) ShapesWithinRadius(ctx context.Context, c geoworld.Coords, radiusKm float64) []uint32 {
	span, _ := opentracing.StartSpanFromContext(ctx, "ShapesWithinRadius")
	defer span.Finish()

	queryCounter.WithLabelValues("shapes_within").Inc()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.world.ShapesWithinRadiusKm(c, radiusKm)
}

// Feature fetch feature from cache or from storage.
func (s *Server) Feature(ctx context.Context, id uint32) (*geoworld.Feature, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "Feature")
	defer span.Finish()

	// the store can't be closed by a Reload while in use
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cache == nil {
		return s.storage.LoadFeature(id)
	}

	fi, found := s.cache.Get(uint64(id))
	if !found {
		f, err := s.storage.LoadFeature(id)
		if err != nil {
			return nil, fmt.Errorf("error loading feature: %w", err)
		}

		s.cache.Set(uint64(id), f, 1)
		featureMissCounter.Inc()

		return f, nil
	}

	featureHitCounter.Inc()

	return fi.(*geoworld.Feature), nil
}

func (s *Server) handleError(terr error, span opentracing.Span) {
	if terr == nil {
		return
	}

	// do not log client side errors as error
	if errors.Is(terr, geoworld.ErrNoResult) ||
		errors.Is(terr, geoworld.ErrFeatureNotFound) ||
		errors.Is(terr, errInvalidParameter) {
		level.Debug(s.logger).Log("error", terr)

		return
	}

	errorCounter.Inc()
	span.LogFields(
		slog.String("error", terr.Error()),
	)
	span.SetTag("error", true)

	level.Error(s.logger).Log("error", terr)
}
