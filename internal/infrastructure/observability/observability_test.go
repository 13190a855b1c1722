package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("production", "warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("production", "loud")
	assert.Error(t, err)
}

func TestRequestLogger_RecordsRouteAndStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	metrics := NewMetrics("test")

	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core), metrics))
	r.Get("/api/v1/troubleshoot/{sessionID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/troubleshoot/abc", nil))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "/api/v1/troubleshoot/{sessionID}", entry.ContextMap()["route"])
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequests.WithLabelValues(http.MethodGet, "/api/v1/troubleshoot/{sessionID}", "404")))
}

func TestInitTracing_Disabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, "svc", "dev", "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("test")
	m.SessionsAbandoned.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_sessions_abandoned_total 1")
}

func TestMetrics_Recorders(t *testing.T) {
	m := NewMetrics("test")

	m.SessionStarted("brush")
	m.SessionStarted("brush")
	m.AnswerSubmitted()
	m.SessionCompleted("brush")
	m.DocumentImported(true)
	m.DocumentImported(false)
	m.GraphMutated("node.created")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.SessionsStarted.WithLabelValues("brush")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AnswersSubmitted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SessionsCompleted.WithLabelValues("brush")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Imports.WithLabelValues("imported")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Imports.WithLabelValues("failed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GraphMutations.WithLabelValues("node.created")))
}
