package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/opentracing/opentracing-go"
	"github.com/twpayne/go-geom/encoding/geojson"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/akhenakh/geoworld"
)

var errInvalidParameter = errors.New("invalid parameter")

// IDsResponse HTTP response of the queries returning feature ids
type IDsResponse struct {
	Lat float64  `json:"lat"`
	Lng float64  `json:"lng"`
	IDs []uint32 `json:"ids"`
}

// Routes registers the API handlers on r, every handler is wrapped by mw
func (s *Server) Routes(r *mux.Router, mw func(pattern string, h http.Handler) http.Handler) {
	if mw == nil {
		mw = func(_ string, h http.Handler) http.Handler { return h }
	}

	r.Handle("/api/within/{lat}/{lng}/{radius_km}",
		mw("/api/within/lat/lng/radius_km", http.HandlerFunc(s.WithinHandler)))
	r.Handle("/api/nearest/{lat}/{lng}",
		mw("/api/nearest/lat/lng", http.HandlerFunc(s.NearestHandler)))
	r.Handle("/api/nearest/{lat}/{lng}/{limit}",
		mw("/api/nearest/lat/lng/limit", http.HandlerFunc(s.NearestHandler)))
	r.Handle("/api/shapes/nearest/{lat}/{lng}",
		mw("/api/shapes/nearest/lat/lng", http.HandlerFunc(s.NearestShapesHandler)))
	r.Handle("/api/shapes/within/{lat}/{lng}/{radius_km}",
		mw("/api/shapes/within/lat/lng/radius_km", http.HandlerFunc(s.ShapesWithinHandler)))
	r.Handle("/api/feature/{fid}",
		mw("/api/feature/fid", http.HandlerFunc(s.FeatureHandler)))

	r.HandleFunc("/healthz", s.HealthzHandler)
}

// WithinHandler HTTP 1.1 Handler to query the cell index around a point
func (s *Server) WithinHandler(w http.ResponseWriter, r *http.Request) {
	span, ctx := opentracing.StartSpanFromContext(r.Context(), "WithinHandler")
	defer span.Finish()

	vars := mux.Vars(r)

	c, err := parseCoords(vars)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	radius, err := parseRadius(vars["radius_km"], s.maxRadiusKm)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	var maxCells int
	if mc := r.URL.Query().Get("max_cells"); mc != "" {
		maxCells, err = strconv.Atoi(mc)
		if err != nil || maxCells <= 0 {
			s.writeError(w, span, fmt.Errorf("%w max_cells", errInvalidParameter))

			return
		}
	}

	ids := s.WithinRadius(ctx, c, radius, maxCells)

	s.writeIDs(w, span, c, ids)
}

// NearestHandler HTTP 1.1 Handler to query the closest points
func (s *Server) NearestHandler(w http.ResponseWriter, r *http.Request) {
	span, ctx := opentracing.StartSpanFromContext(r.Context(), "NearestHandler")
	defer span.Finish()

	vars := mux.Vars(r)

	c, err := parseCoords(vars)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	var limit int
	if l, ok := vars["limit"]; ok {
		limit, err = strconv.Atoi(l)
		if err != nil || limit <= 0 {
			s.writeError(w, span, fmt.Errorf("%w limit", errInvalidParameter))

			return
		}
	}

	ids, err := s.Nearest(ctx, c, limit)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	s.writeIDs(w, span, c, ids)
}

// NearestShapesHandler HTTP 1.1 Handler to query the closest shapes
func (s *Server) NearestShapesHandler(w http.ResponseWriter, r *http.Request) {
	span, ctx := opentracing.StartSpanFromContext(r.Context(), "NearestShapesHandler")
	defer span.Finish()

	c, err := parseCoords(mux.Vars(r))
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	ids, err := s.NearestShapes(ctx, c)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	s.writeIDs(w, span, c, ids)
}

// ShapesWithinHandler HTTP 1.1 Handler to query the shapes around a point
func (s *Server) ShapesWithinHandler(w http.ResponseWriter, r *http.Request) {
	span, ctx := opentracing.StartSpanFromContext(r.Context(), "ShapesWithinHandler")
	defer span.Finish()

	vars := mux.Vars(r)

	c, err := parseCoords(vars)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	radius, err := parseRadius(vars["radius_km"], s.maxRadiusKm)
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	s.writeIDs(w, span, c, s.ShapesWithinRadius(ctx, c, radius))
}

// FeatureHandler HTTP 1.1 Handler returning a stored feature as GeoJSON
func (s *Server) FeatureHandler(w http.ResponseWriter, r *http.Request) {
	span, ctx := opentracing.StartSpanFromContext(r.Context(), "FeatureHandler")
	defer span.Finish()

	fid, err := strconv.ParseUint(mux.Vars(r)["fid"], 10, 32)
	if err != nil {
		s.writeError(w, span, fmt.Errorf("%w fid", errInvalidParameter))

		return
	}

	f, err := s.Feature(ctx, uint32(fid))
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	gf := &geojson.Feature{
		ID:         strconv.FormatUint(fid, 10),
		Geometry:   f.Geometry,
		Properties: f.Properties,
	}

	b, err := gf.MarshalJSON()
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

// HealthzHandler reports the gRPC health status over HTTP
func (s *Server) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp, err := s.healthServer.Check(r.Context(), &healthpb.HealthCheckRequest{
		Service: HealthServiceName,
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, "{\"status\": \"%s\"}", healthpb.HealthCheckResponse_UNKNOWN.String())

		return
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		w.WriteHeader(http.StatusInternalServerError)
	}

	fmt.Fprintf(w, "{\"status\": \"%s\"}", resp.Status.String())
}

func (s *Server) writeIDs(w http.ResponseWriter, span opentracing.Span, c geoworld.Coords, ids []uint32) {
	if ids == nil {
		ids = []uint32{}
	}

	b, err := json.Marshal(&IDsResponse{Lat: c.Lat, Lng: c.Lng, IDs: ids})
	if err != nil {
		s.writeError(w, span, err)

		return
	}

	span.SetTag("count", len(ids))

	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, span opentracing.Span, err error) {
	s.handleError(err, span)

	code := http.StatusInternalServerError

	switch {
	case errors.Is(err, errInvalidParameter):
		code = http.StatusBadRequest
	case errors.Is(err, geoworld.ErrNotBuilt):
		code = http.StatusServiceUnavailable
	case errors.Is(err, geoworld.ErrNoResult), errors.Is(err, geoworld.ErrFeatureNotFound):
		code = http.StatusNotFound
	}

	b, _ := json.Marshal(map[string]string{"msg": err.Error()})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}

func parseCoords(vars map[string]string) (geoworld.Coords, error) {
	lat, err := strconv.ParseFloat(vars["lat"], 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return geoworld.Coords{}, fmt.Errorf("%w lat", errInvalidParameter)
	}

	lng, err := strconv.ParseFloat(vars["lng"], 64)
	if err != nil || math.IsNaN(lng) || lng < -180 || lng > 180 {
		return geoworld.Coords{}, fmt.Errorf("%w lng", errInvalidParameter)
	}

	return geoworld.Coords{Lat: lat, Lng: lng}, nil
}

func parseRadius(v string, maxKm float64) (float64, error) {
	radius, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(radius) || radius < 0 {
		return 0, fmt.Errorf("%w radius_km", errInvalidParameter)
	}

	// large caps are covered by too many cells at the min level
	if radius > maxKm {
		return 0, fmt.Errorf("%w radius_km above %g", errInvalidParameter, maxKm)
	}

	return radius, nil
}
