package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/health"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

type scriptedProvider struct {
	name    string
	execute func(ctx context.Context, query *search.Query) ([]search.Result, error)
}

func (p *scriptedProvider) Name() string                         { return p.name }
func (p *scriptedProvider) Priority() int                        { return 1 }
func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) Execute(ctx context.Context, args interface{}) ([]search.Result, error) {
	return p.execute(ctx, args.(*search.Query))
}

func testRouter(t *testing.T, provider *scriptedProvider) (*gin.Engine, *resilience.Registry) {
	t.Helper()

	cfg := &config.Config{
		Resilience: config.ResilienceConfig{
			MaxRetries:        0,
			BaseDelay:         1 * time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
			FailureThreshold:  3,
			RecoveryTimeout:   50 * time.Millisecond,
			MonitorWindow:     1 * time.Second,
			MinimumThroughput: 1,
			SuccessThreshold:  1,
			ProviderTimeout:   100 * time.Millisecond,
		},
		Cache:   config.CacheConfig{TTL: 1 * time.Minute},
		Logging: config.LoggingConfig{Level: "error"},
	}

	registry := resilience.NewRegistry()
	searchService, err := search.NewService(registry, cfg, nil, nil, provider)
	require.NoError(t, err)

	healthService := health.NewService(nil, nil)
	healthService.RegisterChecker("services", health.NewResilienceChecker(registry, "services"))

	return NewRouter(cfg, searchService, registry, healthService, nil), registry
}

func doRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSearchEndpoint_Success(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return []search.Result{{ID: "1", Content: "hello", Source: "primary"}}, nil
		},
	})

	w := doRequest(router, http.MethodPost, "/api/v1/search", SearchRequest{Query: "hello"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
}

func TestSearchEndpoint_MissingQuery(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return nil, nil
		},
	})

	w := doRequest(router, http.MethodPost, "/api/v1/search", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEndpoint_RateLimitMapsTo429(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return nil, errors.NewRateLimitError("rate limit exceeded (429)")
		},
	})

	w := doRequest(router, http.MethodPost, "/api/v1/search", SearchRequest{Query: "hello"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", resp.Error.Code)
}

func TestServicesEndpoint_List(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return nil, nil
		},
	})

	w := doRequest(router, http.MethodGet, "/api/v1/services", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestServicesEndpoint_ResetUnknown(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return nil, nil
		},
	})

	w := doRequest(router, http.MethodPost, "/api/v1/services/nope/reset", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServicesEndpoint_Reset(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return nil, nil
		},
	})

	w := doRequest(router, http.MethodPost, "/api/v1/services/"+search.ServiceName+"/reset", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return []search.Result{{ID: "1", Source: "primary"}}, nil
		},
	})

	w := doRequest(router, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestIDPropagation(t *testing.T) {
	router, _ := testRouter(t, &scriptedProvider{
		name: "primary",
		execute: func(ctx context.Context, query *search.Query) ([]search.Result, error) {
			return []search.Result{{ID: "1", Source: "primary"}}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", bytes.NewReader([]byte(`{"query":"hello"}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "fixed-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "fixed-id", w.Header().Get("X-Request-ID"))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "fixed-id", resp.RequestID)
}
