package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/replypacer/internal/sync"
)

type staticStatuses []sync.Status

func (s staticStatuses) Statuses() []sync.Status { return s }

func TestHealthzHealthy(t *testing.T) {
	r := NewRouter(zerolog.Nop(), staticStatuses{
		{Sweep: sync.SweepIngest, State: sync.StateIdle, Runs: 3, Interval: time.Minute,
			LastRun: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{Sweep: sync.SweepDispatch, State: sync.StateRunning, Interval: 30 * time.Second},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "pass", body.Checks["ingest"].Status)
	assert.Equal(t, 3, body.Checks["ingest"].Runs)
	assert.Equal(t, "2025-03-10T09:00:00Z", body.Checks["ingest"].LastRun)
	assert.Equal(t, "running", body.Checks["dispatch"].State)
	assert.Empty(t, body.Checks["dispatch"].LastRun)
}

func TestHealthzDegradedOnSweepError(t *testing.T) {
	r := NewRouter(zerolog.Nop(), staticStatuses{
		{Sweep: sync.SweepIngest, State: sync.StateError, Error: errors.New("imap down")},
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "fail", body.Checks["ingest"].Status)
	assert.Equal(t, "imap down", body.Checks["ingest"].Message)
}

func TestMetricsEndpoint(t *testing.T) {
	r := NewRouter(zerolog.Nop(), staticStatuses{})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
