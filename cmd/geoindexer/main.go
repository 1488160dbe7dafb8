package main

import (
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"path/filepath"

	log "github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/namsral/flag"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/akhenakh/geoworld"
	"github.com/akhenakh/geoworld/loglevel"
	"github.com/akhenakh/geoworld/storage/bbolt"
	"github.com/akhenakh/geoworld/storage/pogreb"
)

const appName = "geoindexer"

var (
	version = "no version from LDFLAGS"

	logLevel    = flag.String("logLevel", "INFO", "DEBUG|INFO|WARN|ERROR")
	filePath    = flag.String("filePath", "", "FeatureCollection GeoJSON file to index")
	dbPath      = flag.String("dbPath", "geoworld.db", "Database path")
	storageKind = flag.String("storage", "bbolt", "bbolt|pogreb")
	idProperty  = flag.String("idProperty", "", "numeric property used as feature id, empty uses the position in the collection")
	minLevel    = flag.Int("minLevel", geoworld.DefaultMinLevel, "Min cell level of the daemon index")
	maxLevel    = flag.Int("maxLevel", geoworld.DefaultMaxLevel, "Max cell level of the daemon index")
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

	if *filePath == "" {
		level.Error(logger).Log("msg", "filePath is required")

		exitcode = 2

		return
	}

	if !geoworld.ValidLevels(*minLevel, *maxLevel) {
		level.Error(logger).Log("msg", "invalid levels", "min_level", *minLevel, "max_level", *maxLevel)

		exitcode = 2

		return
	}

	file, err := os.Open(*filePath)
	if err != nil {
		level.Error(logger).Log("msg", "can't open file", "error", err, "file_path", *filePath)

		exitcode = 1

		return
	}
	defer file.Close()

	var fc geojson.FeatureCollection

	if err := json.NewDecoder(file).Decode(&fc); err != nil {
		level.Error(logger).Log("msg", "can't decode FeatureCollection", "error", err, "file_path", *filePath)

		exitcode = 1

		return
	}

	level.Info(logger).Log("msg", "decoded features", "features_count", len(fc.Features))

	storage, clean, err := openStorage(*storageKind, *dbPath, logger)
	if err != nil {
		// a served db is locked, index into a new path then rename it and send SIGHUP to geoworldd
		level.Error(logger).Log("msg", "failed to open storage", "error", err, "db_path", *dbPath)

		exitcode = 1

		return
	}
	defer clean()

	err = storage.Index(fc, geoworld.IndexOptions{
		MinLevel:   *minLevel,
		MaxLevel:   *maxLevel,
		IDProperty: *idProperty,
		Filename:   filepath.Base(*filePath),
		Version:    version,
	})
	if err != nil {
		level.Error(logger).Log("msg", "failed to index features", "error", err)

		exitcode = 1

		return
	}

	infos, err := storage.LoadIndexInfos()
	if err != nil {
		level.Error(logger).Log("msg", "failed to read infos", "error", err)

		exitcode = 1

		return
	}

	level.Info(logger).Log("msg", "indexing done",
		"feature_count", infos.FeatureCount,
		"min_level", infos.MinLevel,
		"max_level", infos.MaxLevel,
		"db_path", *dbPath,
	)
}

type indexStore interface {
	geoworld.Store
	Index(fc geojson.FeatureCollection, opts geoworld.IndexOptions) error
}

func openStorage(kind, path string, logger log.Logger) (indexStore, func() error, error) {
	switch kind {
	case "bbolt":
		return bbolt.NewStorage(path, logger)
	case "pogreb":
		return pogreb.NewStorage(path, logger)
	}

	return nil, nil, fmt.Errorf("unknown storage %q", kind)
}
