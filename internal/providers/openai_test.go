package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/errors"
)

func openAITestConfig(baseURL string) *config.OpenAIConfig {
	return &config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
		Timeout: 2 * time.Second,
	}
}

func TestOpenAIProvider_Execute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"d1","title":"Doc","content":"body","score":0.9}]}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider(openAITestConfig(server.URL), 1)

	results, err := provider.Execute(context.Background(), &search.Query{Text: "hello", TopK: 3})
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "d1", results[0].ID)
	assert.Equal(t, "openai", results[0].Source)
	assert.Equal(t, 0.9, results[0].Score)
}

func TestOpenAIProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantType errors.ErrorType
	}{
		{"rate limited", http.StatusTooManyRequests, errors.ErrorTypeRateLimit},
		{"unauthorized", http.StatusUnauthorized, errors.ErrorTypeAuthentication},
		{"forbidden", http.StatusForbidden, errors.ErrorTypeAuthentication},
		{"bad request", http.StatusBadRequest, errors.ErrorTypeValidation},
		{"gateway timeout", http.StatusGatewayTimeout, errors.ErrorTypeTimeout},
		{"server error", http.StatusBadGateway, errors.ErrorTypeNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			provider := NewOpenAIProvider(openAITestConfig(server.URL), 1)

			_, err := provider.Execute(context.Background(), &search.Query{Text: "hello", TopK: 3})
			require.Error(t, err)
			assert.Equal(t, tt.wantType, errors.GetType(err))
		})
	}
}

func TestOpenAIProvider_TransportErrorReadsAsNetwork(t *testing.T) {
	// Unroutable port: connection refused
	provider := NewOpenAIProvider(openAITestConfig("http://127.0.0.1:1"), 1)

	_, err := provider.Execute(context.Background(), &search.Query{Text: "hello", TopK: 3})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNetwork))
	assert.Contains(t, err.Error(), "fetch failed")
}

func TestOpenAIProvider_AvailabilityRequiresKey(t *testing.T) {
	cfg := openAITestConfig("http://localhost")
	cfg.APIKey = ""
	provider := NewOpenAIProvider(cfg, 1)

	assert.False(t, provider.IsAvailable(context.Background()))
	assert.False(t, provider.HealthCheck(context.Background()))
}

func TestOpenAIProvider_HealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewOpenAIProvider(openAITestConfig(server.URL), 1)
	assert.True(t, provider.HealthCheck(context.Background()))
}
