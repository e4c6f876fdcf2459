package search

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ragrelay/ragrelay/pkg/config"
	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/logging"
	"github.com/ragrelay/ragrelay/pkg/metrics"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

// ServiceName is the registry name of the unified search service
const ServiceName = "search"

// searchRequiredLevel admits queries up to minimal_service; only
// emergency_mode sheds them.
const searchRequiredLevel = 2

// Service is the unified search façade. It runs the highest-priority
// provider as the primary operation under retry and circuit breaking,
// with the full provider chain behind it as fallback.
type Service struct {
	registry *resilience.Registry
	svc      *resilience.Service[[]Result]
	primary  resilience.Provider[[]Result]
	metrics  *metrics.Metrics
	logger   *logging.Logger
}

// NewService registers the unified search service with the registry and
// returns the façade. The provider with the lowest priority value
// becomes the primary; every provider participates in the fallback
// chain in priority order.
func NewService(registry *resilience.Registry, cfg *config.Config, m *metrics.Metrics, cache resilience.ResultCache, provs ...resilience.Provider[[]Result]) (*Service, error) {
	if len(provs) == 0 {
		return nil, errors.NewValidationError("at least one search provider is required")
	}

	ordered := make([]resilience.Provider[[]Result], len(provs))
	copy(ordered, provs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() < ordered[j].Priority()
	})
	primary := ordered[0]

	res := cfg.Resilience
	serviceConfig := resilience.ServiceConfig{
		Name: ServiceName,
		Retry: resilience.RetryConfig{
			MaxRetries:        res.MaxRetries,
			BaseDelay:         res.BaseDelay,
			MaxDelay:          res.MaxDelay,
			BackoffMultiplier: res.BackoffMultiplier,
			JitterFactor:      0.1,
		},
		Breaker: resilience.CircuitBreakerConfig{
			Name:              ServiceName,
			FailureThreshold:  res.FailureThreshold,
			RecoveryTimeout:   res.RecoveryTimeout,
			MonitorWindow:     res.MonitorWindow,
			MinimumThroughput: res.MinimumThroughput,
			SuccessThreshold:  res.SuccessThreshold,
		},
		Fallback: resilience.FallbackConfig{
			Mode:            resilience.ModeGraceful,
			ProviderTimeout: res.ProviderTimeout,
			CacheTTL:        cfg.Cache.TTL,
			Cache:           cache,
		},
		DegradeOnOpen:  true,
		RecoveryStreak: res.RecoveryStreak,
	}
	if m != nil {
		serviceConfig.Observer = m
	}

	svc := resilience.GetOrCreateService(registry, serviceConfig, ordered...)

	return &Service{
		registry: registry,
		svc:      svc,
		primary:  primary,
		metrics:  m,
		logger:   logging.GetLogger(),
	}, nil
}

// Search executes a query through the fault-tolerance pipeline
func (s *Service) Search(ctx context.Context, query *Query) (*Response, error) {
	if query == nil || query.Text == "" {
		return nil, errors.NewValidationError("search query text is required")
	}
	query.Normalize()

	start := time.Now()
	results, err := s.svc.Execute(ctx, func(ctx context.Context) ([]Result, error) {
		return s.primary.Execute(ctx, query)
	}, resilience.ExecuteOptions{
		RequiredLevel: resilience.Level(searchRequiredLevel),
		Args:          query,
		CacheKey:      Fingerprint(query),
	})
	took := time.Since(start)

	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordSearch(s.primary.Name(), "error", took)
		}
		s.logger.LogSearchEvent(ctx, "search_failed", query.Text, s.primary.Name(), logrus.Fields{
			"error": err.Error(),
		})
		return nil, err
	}

	provider := s.servedBy(results)
	if s.metrics != nil {
		s.metrics.RecordSearch(provider, "success", took)
	}
	s.logger.LogSearchEvent(ctx, "search_completed", query.Text, provider, logrus.Fields{
		"results": len(results),
		"took_ms": took.Milliseconds(),
	})

	return &Response{
		Results:  results,
		Provider: provider,
		Took:     took,
		Degraded: provider != s.primary.Name(),
	}, nil
}

// HealthCheck reports the unified service health
func (s *Service) HealthCheck(ctx context.Context) resilience.HealthStatus {
	return s.svc.HealthCheck(ctx)
}

// Registry exposes the underlying service registry
func (s *Service) Registry() *resilience.Registry {
	return s.registry
}

// servedBy names the provider that produced the results. Cached or
// empty results carry no source, which we attribute to the cache.
func (s *Service) servedBy(results []Result) string {
	if len(results) == 0 {
		return "cache"
	}
	return results[0].Source
}

// Fingerprint derives a stable cache key from the query's text, size,
// and filters. Filters are folded in sorted order so equivalent maps
// hash identically.
func Fingerprint(query *Query) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d", query.Text, query.TopK)

	if len(query.Filters) > 0 {
		keys := make([]string, 0, len(query.Filters))
		for k := range query.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "|%s=%s", k, query.Filters[k])
		}
	}

	return fmt.Sprintf("search:%016x", h.Sum64())
}
