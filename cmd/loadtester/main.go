package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/namsral/flag"
	"github.com/rcrowley/go-metrics"

	"github.com/akhenakh/geoworld/loglevel"
	"github.com/akhenakh/geoworld/server"
)

const appName = "loadtester"

var (
	logLevel     = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	testDuration = flag.Duration("testDuration", 0, "performs the test for duration, 0 = infinite")
	geoworldURI  = flag.String("geoworldURI", "http://localhost:8080", "geoworldd HTTP API URI")
	query        = flag.String("query", "nearest", "nearest|within|shapes")
	radiusKm     = flag.Float64("radiusKm", 1, "radius in km for within queries")
	limit        = flag.Int("limit", 10, "results limit for nearest queries")
	workers      = flag.Int("workers", 1, "concurrent requesters")
	latMin       = flag.Float64("latMin", 46.63, "Lat min")
	lngMin       = flag.Float64("lngMin", -1.10, "Lng min")
	latMax       = flag.Float64("latMax", 49.10, "Lat max")
	lngMax       = flag.Float64("lngMax", 5.5, "Lng max")
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

	rand.Seed(time.Now().UnixNano())

	path, err := queryPath(*query)
	if err != nil {
		level.Error(logger).Log("msg", "invalid query", "error", err)

		exitcode = 2

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *testDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *testDuration)
		defer cancel()
	}

	// catch termination
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)

	defer signal.Stop(interrupt)

	client := &http.Client{Timeout: 200 * time.Millisecond}
	tm := metrics.NewTimer()
	errCount := metrics.NewCounter()

	var wg sync.WaitGroup

	for i := 0; i < *workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for ctx.Err() == nil {
				lat := *latMin + rand.Float64()*(*latMax-*latMin) // nolint: gosec
				lng := *lngMin + rand.Float64()*(*lngMax-*lngMin) // nolint: gosec

				t := time.Now()

				resp, err := request(ctx, client, *geoworldURI+path(lat, lng))
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					errCount.Inc(1)
					level.Error(logger).Log("msg", "error with request", "error", err)

					continue
				}

				tm.UpdateSince(t)

				level.Debug(logger).Log(
					"msg", "found features",
					"fids", fmt.Sprint(resp.IDs),
					"lat", lat,
					"lng", lng,
				)
			}
		}()
	}

	select {
	case <-interrupt:
		cancel()

		break
	case <-ctx.Done():
		break
	}

	wg.Wait()

	msg := fmt.Sprintf("count %d errors %d rate mean %.0f/s rate1 %.0f/s 99p %.0f",
		tm.Count(), errCount.Count(), tm.RateMean(), tm.Rate1(), tm.Percentile(99.0))
	level.Info(logger).Log("msg", msg)
}

func queryPath(q string) (func(lat, lng float64) string, error) {
	switch q {
	case "nearest":
		return func(lat, lng float64) string {
			return fmt.Sprintf("/api/nearest/%f/%f/%d", lat, lng, *limit)
		}, nil
	case "within":
		return func(lat, lng float64) string {
			return fmt.Sprintf("/api/within/%f/%f/%f", lat, lng, *radiusKm)
		}, nil
	case "shapes":
		return func(lat, lng float64) string {
			return fmt.Sprintf("/api/shapes/within/%f/%f/%f", lat, lng, *radiusKm)
		}, nil
	}

	return nil, fmt.Errorf("unknown query %q", q)
}

func request(ctx context.Context, client *http.Client, uri string) (*server.IDsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, uri)
	}

	var ids server.IDsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ids); err != nil {
		return nil, fmt.Errorf("can't decode response: %w", err)
	}

	return &ids, nil
}
