package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/pkg/resilience"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	m := NewMetrics(DefaultConfig())
	require.NotNil(t, m.RequestsTotal)

	m.RecordRequest("search", "success", 10*time.Millisecond)
	m.RecordRequest("search", "fallback", 20*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("search", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("search", "fallback")))
}

func TestMetrics_BreakerState(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	m.RecordBreakerState("search", resilience.StateOpen)
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.BreakerState.WithLabelValues("search")))

	m.RecordBreakerState("search", resilience.StateClosed)
	assert.Equal(t, float64(resilience.StateClosed), testutil.ToFloat64(m.BreakerState.WithLabelValues("search")))
}

func TestMetrics_DegradationLevel(t *testing.T) {
	m := NewMetrics(DefaultConfig())

	m.RecordDegradationLevel("search", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DegradationLevel.WithLabelValues("search")))
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m := NewMetrics(&Config{Enabled: false})

	// All record paths must be safe with nil collectors
	m.RecordRequest("search", "success", time.Millisecond)
	m.RecordBreakerState("search", resilience.StateOpen)
	m.RecordFallback("search", "postgres", "success")
	m.RecordDegradationLevel("search", 1)
	m.RecordSearch("openai", "success", time.Millisecond)
	m.RecordCacheOperation("get", "hit")
}

func TestMetrics_ImplementsObserver(t *testing.T) {
	var _ resilience.Observer = NewMetrics(DefaultConfig())
}

func TestGinMiddleware_RecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(DefaultConfig())

	router := gin.New()
	router.Use(m.GinMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/ping", "200")))
}

func TestHandler_ServesMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics(DefaultConfig())
	m.RecordSearch("openai", "success", time.Millisecond)

	router := gin.New()
	router.GET("/metrics", m.Handler())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ragrelay_searches_total")
}
