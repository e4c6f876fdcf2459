package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/ragrelay/ragrelay/internal/search"
	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/logging"
)

// OpenAIProvider queries the managed search API. It is the primary
// provider in the chain and the one most prone to transient failures,
// so its errors carry enough detail for the classifier to pick retry
// behavior by status code.
type OpenAIProvider struct {
	config   *config.OpenAIConfig
	client   *http.Client
	logger   *logging.Logger
	priority int
}

type openAISearchRequest struct {
	Model string `json:"model"`
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type openAISearchResponse struct {
	Data []struct {
		ID      string  `json:"id"`
		Title   string  `json:"title"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"data"`
}

// NewOpenAIProvider creates the managed search provider
func NewOpenAIProvider(cfg *config.OpenAIConfig, priority int) *OpenAIProvider {
	return &OpenAIProvider{
		config: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:   logging.GetLogger(),
		priority: priority,
	}
}

// Name implements resilience.Provider
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Priority implements resilience.Provider
func (p *OpenAIProvider) Priority() int {
	return p.priority
}

// IsAvailable implements resilience.Provider. The provider is unusable
// without an API key; beyond that, availability is decided by Execute.
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// HealthCheck probes the models endpoint with the configured key
func (p *OpenAIProvider) HealthCheck(ctx context.Context) bool {
	if p.config.APIKey == "" {
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Execute implements resilience.Provider
func (p *OpenAIProvider) Execute(ctx context.Context, args interface{}) ([]search.Result, error) {
	query, ok := args.(*search.Query)
	if !ok {
		return nil, errors.NewValidationError("openai provider expects a search query")
	}

	body, err := json.Marshal(openAISearchRequest{
		Model: p.config.Model,
		Query: query.Text,
		TopK:  query.TopK,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to encode search request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError("failed to create search request").WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// Transport failures read as network errors to the classifier.
		return nil, errors.NewNetworkError(fmt.Sprintf("fetch failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var parsed openAISearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.NewProviderError("openai", "failed to decode search response").WithCause(err)
	}

	results := make([]search.Result, 0, len(parsed.Data))
	for _, item := range parsed.Data {
		results = append(results, search.Result{
			ID:      item.ID,
			Title:   item.Title,
			Content: item.Content,
			Score:   item.Score,
			Source:  "openai",
		})
	}

	p.logger.Debug("Managed search completed",
		"query", query.Text,
		"results", len(results))

	return results, nil
}

// statusError maps HTTP status codes to typed errors so the retry
// classifier sees rate limits and auth failures for what they are.
func (p *OpenAIProvider) statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return errors.NewRateLimitError(fmt.Sprintf("search API rate limit exceeded (429): %s", snippet))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewAuthenticationError(fmt.Sprintf("search API rejected credentials (%d)", resp.StatusCode))
	case resp.StatusCode == http.StatusBadRequest:
		return errors.NewValidationError(fmt.Sprintf("search API rejected request (400): %s", snippet))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return errors.NewTimeoutError("managed search request")
	default:
		return errors.NewProviderError("openai", fmt.Sprintf("search API returned status %d: %s", resp.StatusCode, snippet))
	}
}
