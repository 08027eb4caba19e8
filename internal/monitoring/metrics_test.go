package monitoring

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordTraining(t *testing.T) {
	m := NewMetrics()

	m.RecordTraining("linear", time.Second, 0.42, 0.08, nil)
	m.RecordTraining("neural", time.Second, 0, 0, errors.New("diverged"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRuns.WithLabelValues("linear", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TrainingRuns.WithLabelValues("neural", "failure")))
	assert.InDelta(t, 0.42, testutil.ToFloat64(m.ModelR2.WithLabelValues("linear")), 1e-9)
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordDecision(true, "forced")
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RetrainDecisions.WithLabelValues("true", "forced")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RetrainDecisions.WithLabelValues("true", "forced")))
}

func TestMonitoringMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, slog.LevelInfo)

	r := gin.New()
	r.Use(MonitoringMiddleware(m, logger))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "200")))
	assert.Contains(t, buf.String(), `"path":"/ping"`)

	metricsRec := httptest.NewRecorder()
	m.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metricsRec.Body.String(), "beastml_http_requests_total")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
}
