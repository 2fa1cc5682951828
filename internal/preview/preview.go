// Package preview serves the configured areas, their boundaries and their
// sample points as GeoJSON for inspection on a map before a sweep.
package preview

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/geosweep/internal/config"
	"github.com/sells-group/geosweep/internal/crawl"
	"github.com/sells-group/geosweep/internal/model"
)

// Server renders areas on demand and caches each prepared area. Concurrent
// requests for an area share one preparation; other areas are not blocked.
type Server struct {
	areas   []config.Area
	prepare func(config.Area) (*crawl.PreparedArea, error)

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*crawl.PreparedArea
}

// NewServer creates a preview server for areas.
func NewServer(areas []config.Area) *Server {
	return &Server{
		areas:   areas,
		prepare: crawl.PrepareArea,
		cache:   make(map[string]*crawl.PreparedArea),
	}
}

// Router returns the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/areas", s.listAreas)
	r.Route("/areas/{name}", func(r chi.Router) {
		r.Get("/points", s.points)
		r.Get("/boundary", s.boundary)
	})
	return r
}

type areaSummary struct {
	Name         string   `json:"name"`
	Boundaries   []string `json:"boundaries"`
	GridStepM    float64  `json:"grid_step_m"`
	QueryRadiusM float64  `json:"query_radius_m"`
	Projection   string   `json:"projection"`
}

func (s *Server) listAreas(w http.ResponseWriter, _ *http.Request) {
	out := make([]areaSummary, 0, len(s.areas))
	for _, a := range s.areas {
		proj := a.Projection
		if proj == "" {
			proj = "utm"
		}
		out = append(out, areaSummary{
			Name:         a.Name,
			Boundaries:   a.Boundaries,
			GridStepM:    a.GridStepM,
			QueryRadiusM: a.QueryRadiusM,
			Projection:   proj,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) points(w http.ResponseWriter, r *http.Request) {
	prep, ok := s.area(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	fc, err := PointsFeatureCollection(prep.Points)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeGeoJSON(w, fc)
}

func (s *Server) boundary(w http.ResponseWriter, r *http.Request) {
	prep, ok := s.area(w, chi.URLParam(r, "name"))
	if !ok {
		return
	}
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{{
		ID:       prep.Area.Name,
		Geometry: prep.Region.MultiPolygon(),
		Properties: map[string]any{
			"name":     prep.Area.Name,
			"polygons": prep.Region.NumPolygons(),
			"points":   len(prep.Points),
		},
	}}}
	writeGeoJSON(w, fc)
}

// area returns the prepared area, writing a 404 or 422 when it cannot.
func (s *Server) area(w http.ResponseWriter, name string) (*crawl.PreparedArea, bool) {
	var area *config.Area
	for i := range s.areas {
		if s.areas[i].Name == name {
			area = &s.areas[i]
			break
		}
	}
	if area == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown area " + name})
		return nil, false
	}
	if prep, ok := s.cached(name); ok {
		return prep, true
	}

	v, err, _ := s.group.Do(name, func() (any, error) {
		if prep, ok := s.cached(name); ok {
			return prep, nil
		}
		prep, err := s.prepare(*area)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.cache[name] = prep
		s.mu.Unlock()
		return prep, nil
	})
	if err != nil {
		zap.L().Warn("preview: prepare area failed", zap.String("area", name), zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err)
		return nil, false
	}
	return v.(*crawl.PreparedArea), true
}

func (s *Server) cached(name string) (*crawl.PreparedArea, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prep, ok := s.cache[name]
	return prep, ok
}

// PointsFeatureCollection renders sample points as GeoJSON point features
// carrying their geohash and sequence number.
func PointsFeatureCollection(points []model.SamplePoint) (*geojson.FeatureCollection, error) {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(points))}
	for i, p := range points {
		pt, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{p.Lon, p.Lat})
		if err != nil {
			return nil, err
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:       p.Key(),
			Geometry: pt,
			Properties: map[string]any{
				"index":   i + 1,
				"geohash": p.Geohash,
			},
		})
	}
	return fc, nil
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	data, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("preview request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}
