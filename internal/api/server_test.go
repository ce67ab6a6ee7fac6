package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	s := NewServer(stubStats{}, 0, zap.NewNop())

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestStatusReportsSchedulerState(t *testing.T) {
	t.Parallel()

	s := NewServer(stubStats{depth: 7, inFlight: 3, limit: 5}, 0, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, map[string]int{"queue_depth": 7, "in_flight": 3, "limit": 5}, got)
}

func TestMetricsEndpointServes(t *testing.T) {
	t.Parallel()

	s := NewServer(stubStats{}, 0, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	t.Parallel()

	s := NewServer(stubStats{}, 0, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareConvertsPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(panickingStats{}, 0, zap.NewNop())

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type stubStats struct {
	depth    int
	inFlight int
	limit    int
}

func (s stubStats) QueueDepth() int { return s.depth }
func (s stubStats) InFlight() int   { return s.inFlight }
func (s stubStats) Limit() int      { return s.limit }

type panickingStats struct{}

func (panickingStats) QueueDepth() int { panic("stats backend gone") }
func (panickingStats) InFlight() int   { return 0 }
func (panickingStats) Limit() int      { return 0 }
