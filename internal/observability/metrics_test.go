package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordToolCall(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	m.RecordToolCall("transcriber", "transcribe_audio_file", "ok", 2*time.Second)
	m.RecordToolCall("transcriber", "transcribe_audio_file", "ok", 3*time.Second)
	m.RecordToolCall("scheduler", "schedule_detected_meetings", "timeout", time.Minute)

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.toolCalls.WithLabelValues("transcriber", "transcribe_audio_file", "ok")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.toolCalls.WithLabelValues("scheduler", "schedule_detected_meetings", "timeout")))
}

func TestSetAgentsRunning(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	m.SetAgentsRunning(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.agentsRunning))

	m.SetAgentsRunning(0)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.agentsRunning))
}

func TestHTTPMiddlewareCountsByStatus(t *testing.T) {
	m := NewMetrics(zap.NewNop())

	handler := m.HTTPMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/api/health", "/api/health", "/missing"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, float64(2),
		testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/health", "200")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/missing", "404")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics(zap.NewNop())
	m.SetAgentsRunning(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "meetingd_agents_running 1")
	assert.Contains(t, body, "meetingd_uptime_seconds")
}
