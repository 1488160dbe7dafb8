package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_opentracing "github.com/grpc-ecosystem/go-grpc-middleware/tracing/opentracing"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/namsral/flag"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	metrics "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/geoworld"
	"github.com/akhenakh/geoworld/loglevel"
	"github.com/akhenakh/geoworld/server"
	"github.com/akhenakh/geoworld/storage/bbolt"
	"github.com/akhenakh/geoworld/storage/pogreb"
)

const appName = "geoworldd"

var (
	version = "no version from LDFLAGS"

	logLevel        = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	dbPath          = flag.String("dbPath", "geoworld.db", "Database path")
	storageKind     = flag.String("storage", "bbolt", "bbolt|pogreb")
	cacheCount      = flag.Int64("cacheCount", 1000, "Features count to cache, 0 disables the cache")
	maxCells        = flag.Int("maxCells", 8, "Default max cells covering a radius query")
	maxRadiusKm     = flag.Float64("maxRadiusKm", server.DefaultMaxRadiusKm, "Largest radius accepted by the radius queries")
	httpMetricsPort = flag.Int("httpMetricsPort", 8088, "http port")
	httpAPIPort     = flag.Int("httpAPIPort", 8080, "http API port")
	healthPort      = flag.Int("healthPort", 6666, "grpc health port")

	httpServer        *http.Server
	grpcHealthServer  *grpc.Server
	httpMetricsServer *http.Server
)

func main() {
	flag.Parse()

	exitcode := 0
	defer func() { os.Exit(exitcode) }()

	logger := log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	logger = log.With(logger, "caller", log.Caller(5), "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "app", appName)
	logger = loglevel.NewLevelFilterFromString(logger, *logLevel)

	stdlog.SetOutput(log.NewStdlibAdapter(logger))

	level.Info(logger).Log("msg", "Starting app", "version", version)

	ctx := context.Background()
	ctx, cancel := context.WithCancel(ctx)

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(interrupt)

	// reload the world
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	defer signal.Stop(hup)

	g, ctx := errgroup.WithContext(ctx)

	// gRPC Health Server
	healthServer := health.NewServer()

	g.Go(func() error {
		grpc_prometheus.EnableHandlingTimeHistogram()

		grpcHealthServer = grpc.NewServer(
			grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
				grpc_opentracing.StreamServerInterceptor(),
				grpc_prometheus.StreamServerInterceptor,
			)),
			grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
				grpc_opentracing.UnaryServerInterceptor(),
				grpc_prometheus.UnaryServerInterceptor,
			)),
		)

		healthpb.RegisterHealthServer(grpcHealthServer, healthServer)
		grpc_prometheus.Register(grpcHealthServer)

		haddr := fmt.Sprintf(":%d", *healthPort)
		hln, err := net.Listen("tcp", haddr)
		if err != nil {
			level.Error(logger).Log("msg", "gRPC Health server: failed to listen", "error", err)
			os.Exit(2)
		}
		level.Info(logger).Log("msg", fmt.Sprintf("gRPC health server listening at %s", haddr))

		return grpcHealthServer.Serve(hln)
	})

	// server, the store is opened again on every reload
	open := func() (geoworld.Store, func() error, error) {
		return openStorage(*storageKind, *dbPath, logger)
	}

	srv, err := server.New(ctx, logger, open, healthServer, server.Options{
		MaxCells:    *maxCells,
		MaxRadiusKm: *maxRadiusKm,
		CacheCount:  *cacheCount,
	})
	if err != nil {
		level.Error(logger).Log("msg", "can't get a working server", "error", err, "db_path", *dbPath)

		cancel()

		exitcode = 1

		return
	}

	defer srv.Close()

	infos := srv.Infos()

	// web server metrics
	g.Go(func() error {
		httpMetricsServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpMetricsPort),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second, // keep a long timeout for pprof
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP Metrics server listening at :%d", *httpMetricsPort))

		versionGauge.WithLabelValues(version).Add(1)
		dataVersionGauge.WithLabelValues(
			fmt.Sprintf("%s %s", infos.Filename, infos.IndexTime.Format(time.RFC3339)),
		).Add(1)

		// Register Prometheus metrics handler.
		http.Handle("/metrics", promhttp.Handler())

		if err := httpMetricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	// API web server
	g.Go(func() error {
		// metrics middleware.
		metricsMwr := middleware.New(middleware.Config{
			Recorder: metrics.NewRecorder(metrics.Config{Prefix: appName}),
		})

		r := mux.NewRouter()

		srv.Routes(r, func(pattern string, h http.Handler) http.Handler {
			return metricsMwr.Handler(pattern, h)
		})

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", *httpAPIPort),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			Handler:      handlers.CompressHandler(handlers.CORS()(r)),
		}
		level.Info(logger).Log("msg", fmt.Sprintf("HTTP API server listening at :%d", *httpAPIPort))

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	level.Info(logger).Log("msg", "read index_infos",
		"feature_count", infos.FeatureCount,
		"min_level", infos.MinLevel,
		"max_level", infos.MaxLevel,
		"max_radius_km", srv.MaxRadiusKm(),
	)

	healthServer.SetServingStatus(server.HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	level.Info(logger).Log("msg", "serving status to SERVING")

loop:
	for {
		select {
		case <-hup:
			reload(ctx, logger, srv)
		case <-interrupt:
			cancel()

			break loop
		case <-ctx.Done():
			break loop
		}
	}

	level.Warn(logger).Log("msg", "received shutdown signal")

	healthServer.SetServingStatus(server.HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if httpMetricsServer != nil {
		_ = httpMetricsServer.Shutdown(shutdownCtx)
	}

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	if grpcHealthServer != nil {
		grpcHealthServer.GracefulStop()
	}

	err = g.Wait()
	if err != nil {
		level.Error(logger).Log("msg", "server returning an error", "error", err)

		exitcode = 1

		return
	}
}

func reload(ctx context.Context, logger log.Logger, srv *server.Server) {
	level.Info(logger).Log("msg", "reloading world")

	if err := srv.Reload(ctx); err != nil {
		reloadCounter.WithLabelValues("error").Inc()
		level.Error(logger).Log("msg", "failed to reload world, keeping the current one", "error", err)

		return
	}

	reloadCounter.WithLabelValues("ok").Inc()

	stats := srv.Stats()
	level.Info(logger).Log("msg", "world reloaded",
		"cells_count", stats.Cells,
		"points_count", stats.Points,
		"segments_count", stats.Segments,
	)
}

func openStorage(kind, path string, logger log.Logger) (geoworld.Store, func() error, error) {
	switch kind {
	case "bbolt":
		return bbolt.NewROStorage(path, logger)
	case "pogreb":
		return pogreb.NewStorage(path, logger)
	}

	return nil, nil, fmt.Errorf("unknown storage %q", kind)
}
