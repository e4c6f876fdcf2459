package health

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/pkg/resilience"
)

func healthyChecker(name string) Checker {
	return NewCustomChecker(name, func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "ok", nil
	})
}

func unhealthyChecker(name string) Checker {
	return NewCustomChecker(name, func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "down", fmt.Errorf("unreachable")
	})
}

func TestService_CheckHealth_AllHealthy(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", healthyChecker("a"))
	svc.RegisterChecker("b", healthyChecker("b"))

	resp := svc.CheckHealth(context.Background())

	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestService_CheckHealth_OneUnhealthy(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", healthyChecker("a"))
	svc.RegisterChecker("b", unhealthyChecker("b"))

	resp := svc.CheckHealth(context.Background())

	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "unreachable", resp.Checks["b"].Error)
}

func TestService_CheckHealth_DegradedDoesNotMaskUnhealthy(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", NewCustomChecker("a", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "slow", nil
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusDegraded, resp.Status)

	svc.RegisterChecker("b", unhealthyChecker("b"))
	resp = svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestService_UnregisterChecker(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", unhealthyChecker("a"))
	svc.UnregisterChecker("a")

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
}

func TestCustomChecker_ErrorForcesUnhealthy(t *testing.T) {
	checker := NewCustomChecker("x", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "claims healthy", fmt.Errorf("but failed")
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "but failed", check.Error)
}

func TestHTTPChecker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, "upstream", 2*time.Second)
	check := checker.Check(context.Background())

	assert.Equal(t, StatusHealthy, check.Status)
	assert.Equal(t, "200", check.Metadata["status_code"])
}

func TestHTTPChecker_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	checker := NewHTTPChecker(server.URL, "upstream", 2*time.Second)
	check := checker.Check(context.Background())

	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestResilienceChecker_NoServices(t *testing.T) {
	checker := NewResilienceChecker(resilience.NewRegistry(), "services")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnknown, check.Status)
}

func TestResilienceChecker_NilRegistry(t *testing.T) {
	checker := NewResilienceChecker(nil, "services")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func TestDatabaseChecker_NilConnection(t *testing.T) {
	checker := NewDatabaseChecker(nil, "database")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Contains(t, check.Error, "nil")
}

func TestRedisChecker_NilConnection(t *testing.T) {
	checker := NewRedisChecker(nil, "redis")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", svc.Handler())
	router.GET("/health/live", svc.LivenessHandler())
	router.GET("/health/ready", svc.ReadinessHandler())
	return router
}

func TestHandlers(t *testing.T) {
	svc := NewService(nil, nil)
	svc.RegisterChecker("a", healthyChecker("a"))

	router := newTestRouter(svc)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.Equal(t, http.StatusOK, w.Code)

	svc.RegisterChecker("b", unhealthyChecker("b"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
