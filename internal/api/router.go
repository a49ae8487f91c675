// Package api serves the Prometheus metrics and a health report of the
// background sweeps.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nhle/replypacer/internal/sync"
)

// StatusSource reports the state of the sweep loops.
type StatusSource interface {
	Statuses() []sync.Status
}

// SweepCheck is the health of one sweep loop.
type SweepCheck struct {
	Status   string `json:"status"` // "pass" or "fail"
	State    string `json:"state"`
	Runs     int    `json:"runs"`
	LastRun  string `json:"last_run,omitempty"`
	Interval string `json:"interval"`
	Message  string `json:"message,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status    string                `json:"status"` // "healthy" or "degraded"
	Checks    map[string]SweepCheck `json:"checks"`
	Timestamp string                `json:"timestamp"`
}

// NewRouter creates the metrics and health router.
func NewRouter(logger zerolog.Logger, statuses StatusSource) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimw.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", health(statuses))

	return r
}

func health(statuses StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{
			Status:    "healthy",
			Checks:    map[string]SweepCheck{},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		for _, s := range statuses.Statuses() {
			check := SweepCheck{
				Status:   "pass",
				State:    s.State.String(),
				Runs:     s.Runs,
				Interval: s.Interval.String(),
			}
			if !s.LastRun.IsZero() {
				check.LastRun = s.LastRun.UTC().Format(time.RFC3339)
			}
			if s.State == sync.StateError {
				check.Status = "fail"
				if s.Error != nil {
					check.Message = s.Error.Error()
				}
				resp.Status = "degraded"
			}
			resp.Checks[string(s.Sweep)] = check
		}

		code := http.StatusOK
		if resp.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// requestLogger logs each request at debug level.
func requestLogger(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
