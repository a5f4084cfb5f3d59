package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tally-pos/tally-pos/internal/observability"
	"github.com/tally-pos/tally-pos/jobs"
)

func testRouter(readiness map[string]Pinger, cfg *Config) http.Handler {
	if cfg == nil {
		cfg = &Config{AppEnv: "test", RateLimitPerMinute: 600}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(RouterParams{
		Logger:     logger,
		Config:     cfg,
		JobHandler: jobs.NewHandler(nil, logger),
		Metrics:    observability.NewMetrics(),
		Readiness:  readiness,
	})
}

func TestHealthz(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("dial tcp: refused") }

	rr := httptest.NewRecorder()
	testRouter(map[string]Pinger{"postgres": ok, "redis": ok}, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	testRouter(map[string]Pinger{"postgres": ok, "redis": down}, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, body)
}

func TestMetricsAndJobsMounted(t *testing.T) {
	router := testRouter(nil, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `tally_http_requests_total{code="200",method="GET",route="/jobs/health"} 1`)
}

func TestUnknownRouteUsesEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	testRouter(nil, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"success":false,"message":"route not found"}`, rr.Body.String())
}

func TestRateLimit(t *testing.T) {
	router := testRouter(nil, &Config{AppEnv: "test", RateLimitPerMinute: 2})
	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
