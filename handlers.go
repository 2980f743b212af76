package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kwv/tudoloc/scanmatch"
)

// maxScanBodyBytes caps POST /robots/{id}/match bodies
const maxScanBodyBytes = 4 << 20

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tudoloc",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tudoloc",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	registerHTTPMetricsOnce sync.Once
)

func registerHTTPMetrics() {
	registerHTTPMetricsOnce.Do(func() {
		prometheus.MustRegister(httpRequestDuration, httpRequestsTotal)
	})
}

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// robotSummary is one entry of GET /robots
type robotSummary struct {
	ID     string              `json:"id"`
	HasMap bool                `json:"hasMap"`
	Pose   *scanmatch.LivePose `json:"pose,omitempty"`
}

// matchResponse is the body of POST /robots/{id}/match
type matchResponse struct {
	RobotID    string              `json:"robotId"`
	Prior      scanmatch.RobotPose `json:"prior"`
	Pose       scanmatch.RobotPose `json:"pose"`
	Correction scanmatch.PoseDelta `json:"correction"`
	Score      float64             `json:"score"`
	Expansions int                 `json:"expansions"`
	DurationMs float64             `json:"durationMs"`
}

// newHTTPServer builds the HTTP API:
//
//	GET  /health
//	GET  /metrics
//	GET  /robots
//	GET  /robots/{id}/pose
//	POST /robots/{id}/match
//	GET  /robots/{id}/map.png
//	GET  /robots/{id}/map.svg
func newHTTPServer(loc *scanmatch.Localizer, state *scanmatch.StateTracker, logger *zap.Logger) http.Handler {
	registerHTTPMetrics()
	scanmatch.RegisterMetrics()

	h := &apiHandlers{loc: loc, state: state, logger: logger}

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(metricsMiddleware())

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/robots", func(r chi.Router) {
		r.Get("/", h.listRobots)
		r.Get("/{id}/pose", h.getPose)
		r.Post("/{id}/match", h.match)
		r.Get("/{id}/map.png", h.mapPNG)
		r.Get("/{id}/map.svg", h.mapSVG)
	})
	return r
}

type apiHandlers struct {
	loc    *scanmatch.Localizer
	state  *scanmatch.StateTracker
	logger *zap.Logger
}

func (h *apiHandlers) health(w http.ResponseWriter, _ *http.Request) {
	loaded := 0
	for _, id := range h.loc.Robots() {
		if _, _, err := h.loc.Map(id); err == nil {
			loaded++
		}
	}
	writeJSON(w, http.StatusOK, struct {
		Status     string    `json:"status"`
		Timestamp  time.Time `json:"timestamp"`
		Robots     int       `json:"robots"`
		MapsLoaded int       `json:"mapsLoaded"`
	}{
		Status:     "ok",
		Timestamp:  time.Now(),
		Robots:     len(h.loc.Robots()),
		MapsLoaded: loaded,
	})
}

func (h *apiHandlers) listRobots(w http.ResponseWriter, _ *http.Request) {
	ids := h.loc.Robots()
	out := make([]robotSummary, 0, len(ids))
	for _, id := range ids {
		s := robotSummary{ID: id}
		if _, _, err := h.loc.Map(id); err == nil {
			s.HasMap = true
		}
		if p, ok := h.state.GetPose(id); ok {
			s.Pose = &p
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *apiHandlers) getPose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := h.state.GetPose(id)
	if !ok {
		writeError(w, http.StatusNotFound, "pose_not_found", fmt.Sprintf("no pose for robot %q", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *apiHandlers) match(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req scanmatch.ScanRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxScanBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.RobotID != "" && req.RobotID != id {
		writeError(w, http.StatusBadRequest, "robot_mismatch",
			fmt.Sprintf("body robotId %q does not match path %q", req.RobotID, id))
		return
	}
	req.RobotID = id

	result, err := h.loc.Match(r.Context(), req)
	if err != nil {
		h.handleMatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, matchResponse{
		RobotID:    id,
		Prior:      req.Pose,
		Pose:       result.Pose,
		Correction: result.Correction,
		Score:      result.Score,
		Expansions: result.Stats.Expansions,
		DurationMs: float64(result.Stats.Duration.Microseconds()) / 1000,
	})
}

func (h *apiHandlers) handleMatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scanmatch.ErrUnknownRobot):
		writeError(w, http.StatusNotFound, "robot_not_found", err.Error())
	case errors.Is(err, scanmatch.ErrNoMap):
		writeError(w, http.StatusServiceUnavailable, "no_map", err.Error())
	case errors.Is(err, scanmatch.ErrInvalidScan):
		writeError(w, http.StatusBadRequest, "invalid_scan", err.Error())
	default:
		h.logger.Error("match failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "match failed")
	}
}

func (h *apiHandlers) mapPNG(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	grid, _, err := h.loc.Map(id)
	if err != nil {
		h.handleMatchError(w, err)
		return
	}

	scale := scanmatch.DefaultRenderScale
	if s := r.URL.Query().Get("scale"); s != "" {
		if v, err := strconv.Atoi(s); err == nil && v > 0 && v <= 16 {
			scale = v
		}
	}

	img := scanmatch.RenderMatch(grid, h.state.Overlay(id), scale)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	if err := scanmatch.EncodePNG(w, img); err != nil {
		h.logger.Error("encoding map PNG", zap.String("robot", id), zap.Error(err))
	}
}

func (h *apiHandlers) mapSVG(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	grid, _, err := h.loc.Map(id)
	if err != nil {
		h.handleMatchError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "no-cache")
	if err := scanmatch.RenderMatchSVG(w, grid, h.state.Overlay(id)); err != nil {
		h.logger.Error("rendering map SVG", zap.String("robot", id), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// jsonRecoverer turns panics, including matcher invariant violations, into
// a JSON 500
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					if rvr == http.ErrAbortHandler {
						panic(rvr)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.String("path", r.URL.Path),
						zap.Stack("stacktrace"),
					)
					writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger emits one log line per request
func requestLogger(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Debug("http_request",
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}

// metricsMiddleware records request duration and count by route pattern
func metricsMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := "unknown"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				path = rc.RoutePattern()
			}
			labels := []string{r.Method, path, strconv.Itoa(status)}
			httpRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(labels...).Inc()
		})
	}
}
