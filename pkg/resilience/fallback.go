package resilience

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/logging"
)

// Provider is one interchangeable implementation of a logical capability.
// Providers are supplied by the embedding application; this package never
// constructs them. Lower priority values are tried first.
type Provider[T any] interface {
	Name() string
	Priority() int
	// IsAvailable is a cheap liveness check consulted before Execute
	IsAvailable(ctx context.Context) bool
	Execute(ctx context.Context, args interface{}) (T, error)
}

// HealthChecker is optionally implemented by providers that support a
// deeper health probe than IsAvailable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// StaticFallback is optionally implemented by providers that carry a
// static value to return when every real attempt fails and the cache is
// empty.
type StaticFallback[T any] interface {
	FallbackValue() (T, bool)
}

// FallbackMode controls what happens when every provider fails
type FallbackMode int

const (
	// ModeGraceful returns the last provider's static fallback value if present
	ModeGraceful FallbackMode = iota
	// ModeReturnEmpty returns the zero value of the result type
	ModeReturnEmpty
	// ModeStrict propagates the last provider's error
	ModeStrict
)

func (m FallbackMode) String() string {
	switch m {
	case ModeGraceful:
		return "graceful"
	case ModeReturnEmpty:
		return "return_empty"
	case ModeStrict:
		return "strict"
	default:
		return "unknown"
	}
}

// ResultCache stores serialized successful results keyed by a
// caller-supplied fingerprint. Implementations must be safe for
// concurrent use.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// MemoryCache is the default in-process ResultCache
type MemoryCache struct {
	mutex   sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-process result cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool) {
	c.mutex.RLock()
	entry, ok := c.entries[key]
	c.mutex.RUnlock()

	if !ok {
		return nil, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	c.mutex.Lock()
	c.entries[key] = entry
	c.mutex.Unlock()
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mutex.Lock()
	delete(c.entries, key)
	c.mutex.Unlock()
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mutex.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mutex.Unlock()
	return nil
}

// FallbackConfig holds configuration for the fallback manager
type FallbackConfig struct {
	// Mode controls behavior when every provider fails
	Mode FallbackMode
	// ProviderTimeout bounds each individual provider attempt
	ProviderTimeout time.Duration
	// CacheTTL is how long successful results stay cached; zero means no expiry
	CacheTTL time.Duration
	// Cache overrides the default in-memory result cache
	Cache ResultCache
}

// DefaultFallbackConfig returns a default fallback configuration
func DefaultFallbackConfig() FallbackConfig {
	return FallbackConfig{
		Mode:            ModeGraceful,
		ProviderTimeout: 5 * time.Second,
		CacheTTL:        10 * time.Minute,
	}
}

// FallbackManager holds an ordered set of interchangeable providers for
// one logical capability and executes them in priority order with
// per-provider timeout racing and optional result caching.
//
// Caching trades freshness for availability: once a key is cached, a hit
// short-circuits the entire provider chain on subsequent calls with the
// same key, even if the primary provider would have succeeded. Callers
// choosing cache keys opt into stale-but-available semantics.
type FallbackManager[T any] struct {
	providers []Provider[T]
	mode      FallbackMode
	timeout   time.Duration
	cacheTTL  time.Duration
	cache     ResultCache
	logger    *logging.Logger

	lastMutex    sync.Mutex
	lastProvider string
}

// NewFallbackManager creates a fallback manager over the given providers,
// sorted by ascending priority.
func NewFallbackManager[T any](config FallbackConfig, providers ...Provider[T]) *FallbackManager[T] {
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 5 * time.Second
	}
	if config.Cache == nil {
		config.Cache = NewMemoryCache()
	}

	sorted := make([]Provider[T], len(providers))
	copy(sorted, providers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})

	return &FallbackManager[T]{
		providers: sorted,
		mode:      config.Mode,
		timeout:   config.ProviderTimeout,
		cacheTTL:  config.CacheTTL,
		cache:     config.Cache,
		logger:    logging.GetLogger(),
	}
}

// HasProviders reports whether any providers are registered
func (fm *FallbackManager[T]) HasProviders() bool {
	return len(fm.providers) > 0
}

// LastProvider names the provider consulted last by the most recent
// Execute: the one that served it, or the last to fail. Empty when the
// answer came from cache before any provider ran.
func (fm *FallbackManager[T]) LastProvider() string {
	fm.lastMutex.Lock()
	defer fm.lastMutex.Unlock()
	return fm.lastProvider
}

func (fm *FallbackManager[T]) noteProvider(name string) {
	fm.lastMutex.Lock()
	fm.lastProvider = name
	fm.lastMutex.Unlock()
}

// Providers returns the providers in execution order
func (fm *FallbackManager[T]) Providers() []Provider[T] {
	out := make([]Provider[T], len(fm.providers))
	copy(out, fm.providers)
	return out
}

// Execute runs the provider chain for the named operation. When cacheKey
// is non-empty, a previously cached success is returned before any
// provider is consulted, and a fresh success is stored under that key.
func (fm *FallbackManager[T]) Execute(ctx context.Context, operationName string, args interface{}, cacheKey string) (T, error) {
	var zero T

	if result, ok := fm.cachedResult(ctx, cacheKey); ok {
		fm.logger.Debug("Fallback cache hit",
			"operation", operationName,
			"cache_key", cacheKey,
		)
		fm.noteProvider("")
		return result, nil
	}

	if len(fm.providers) == 0 {
		return zero, errors.NewInternalError("no providers registered for " + operationName)
	}

	var lastErr error
	attempted := false

	for _, provider := range fm.providers {
		if !provider.IsAvailable(ctx) {
			fm.logger.Debug("Skipping unavailable provider",
				"operation", operationName,
				"provider", provider.Name(),
			)
			continue
		}
		attempted = true
		fm.noteProvider(provider.Name())

		result, err := fm.executeProvider(ctx, provider, args)
		if err != nil {
			if stderrors.Is(err, context.Canceled) {
				// No point consulting further providers or fallback
				// modes once the caller has gone away.
				return zero, err
			}
			lastErr = err
			fm.logger.Warn("Provider failed, trying next",
				"operation", operationName,
				"provider", provider.Name(),
				"error", err.Error(),
			)
			continue
		}

		fm.storeResult(ctx, cacheKey, result)
		return result, nil
	}

	if !attempted && lastErr == nil {
		lastErr = errors.NewInternalError("no available providers for " + operationName)
	}

	// A cached success from a prior call is preferred over total failure,
	// even though the current chain failed.
	if result, ok := fm.cachedResult(ctx, cacheKey); ok {
		fm.logger.Info("All providers failed, returning cached result",
			"operation", operationName,
			"cache_key", cacheKey,
		)
		return result, nil
	}

	switch fm.mode {
	case ModeReturnEmpty:
		fm.logger.Warn("All providers failed, returning empty result",
			"operation", operationName,
		)
		return zero, nil
	case ModeGraceful:
		if last := fm.lastStaticFallback(); last != nil {
			if value, ok := last.FallbackValue(); ok {
				fm.logger.Warn("All providers failed, returning static fallback value",
					"operation", operationName,
				)
				return value, nil
			}
		}
		return zero, lastErr
	default:
		return zero, lastErr
	}
}

// executeProvider races one provider attempt against the per-provider
// timeout. On timeout the provider's goroutine is abandoned rather than
// forcibly cancelled; the attempt is recorded as failed for routing
// purposes and its eventual completion is discarded.
func (fm *FallbackManager[T]) executeProvider(ctx context.Context, provider Provider[T], args interface{}) (T, error) {
	var zero T

	type attempt struct {
		result T
		err    error
	}
	done := make(chan attempt, 1)

	go func() {
		result, err := provider.Execute(ctx, args)
		done <- attempt{result: result, err: err}
	}()

	timer := time.NewTimer(fm.timeout)
	defer timer.Stop()

	select {
	case a := <-done:
		return a.result, a.err
	case <-timer.C:
		return zero, errors.NewTimeoutError("provider " + provider.Name())
	case <-ctx.Done():
		// A deadline on the caller's context is a timeout like any other.
		// A cancellation is the caller giving up and must surface as such,
		// not as a retryable timeout.
		if stderrors.Is(ctx.Err(), context.Canceled) {
			return zero, ctx.Err()
		}
		return zero, newTimeoutError(ctx.Err())
	}
}

func (fm *FallbackManager[T]) cachedResult(ctx context.Context, cacheKey string) (T, bool) {
	var zero T
	if cacheKey == "" {
		return zero, false
	}

	data, ok := fm.cache.Get(ctx, cacheKey)
	if !ok {
		return zero, false
	}

	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		fm.logger.Warn("Failed to decode cached result, discarding",
			"cache_key", cacheKey,
			"error", err.Error(),
		)
		_ = fm.cache.Delete(ctx, cacheKey)
		return zero, false
	}
	return result, true
}

// storeResult caches only successful results
func (fm *FallbackManager[T]) storeResult(ctx context.Context, cacheKey string, result T) {
	if cacheKey == "" {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		fm.logger.Warn("Failed to encode result for caching",
			"cache_key", cacheKey,
			"error", err.Error(),
		)
		return
	}
	if err := fm.cache.Set(ctx, cacheKey, data, fm.cacheTTL); err != nil {
		fm.logger.Warn("Failed to cache result",
			"cache_key", cacheKey,
			"error", err.Error(),
		)
	}
}

func (fm *FallbackManager[T]) lastStaticFallback() StaticFallback[T] {
	for i := len(fm.providers) - 1; i >= 0; i-- {
		if sf, ok := fm.providers[i].(StaticFallback[T]); ok {
			return sf
		}
	}
	return nil
}

// HealthStatus probes every provider. Providers implementing
// HealthChecker are probed with it; the rest report their IsAvailable
// result.
func (fm *FallbackManager[T]) HealthStatus(ctx context.Context) map[string]bool {
	status := make(map[string]bool, len(fm.providers))
	for _, provider := range fm.providers {
		if hc, ok := provider.(HealthChecker); ok {
			status[provider.Name()] = hc.HealthCheck(ctx)
		} else {
			status[provider.Name()] = provider.IsAvailable(ctx)
		}
	}
	return status
}

// AnyAvailable reports whether at least one provider is currently available
func (fm *FallbackManager[T]) AnyAvailable(ctx context.Context) bool {
	for _, provider := range fm.providers {
		if provider.IsAvailable(ctx) {
			return true
		}
	}
	return false
}

// Reset clears all cached fallback results
func (fm *FallbackManager[T]) Reset(ctx context.Context) {
	if err := fm.cache.Clear(ctx); err != nil {
		fm.logger.Warn("Failed to clear fallback cache", "error", err.Error())
	}
}
