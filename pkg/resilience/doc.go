// Package resilience turns calls to unreliable search providers into calls
// with bounded latency, bounded retry cost, automatic provider failover,
// result caching, and system-wide degradation signaling.
//
// This package implements the following patterns:
//
// # Error Classification
//
// Classify maps a raw provider failure into a category plus a retry policy
// hint. Authentication and validation failures are terminal and never
// retried; network, rate-limit, and timeout failures are retried with
// category-specific delays.
//
//	c := resilience.Classify(err)
//	if c.Retryable {
//		// back off for at least c.BaseDelay
//	}
//
// # Retry with Exponential Backoff
//
// The retry executor runs an operation under a single overall deadline,
// with exponential backoff and jitter between attempts to avoid
// thundering herd problems.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return provider.Call(ctx, query)
//	})
//
// # Circuit Breaker
//
// The circuit breaker trips open after sustained failure within a sliding
// monitor window and self-probes for recovery after a cooldown.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:              "openai",
//		FailureThreshold:  5,
//		RecoveryTimeout:   30 * time.Second,
//		MonitorWindow:     time.Minute,
//		MinimumThroughput: 3,
//		SuccessThreshold:  2,
//	})
//
// # Provider Fallback
//
// The fallback manager holds an ordered chain of interchangeable providers
// and executes them in priority order with per-provider timeout racing and
// optional success-only result caching.
//
//	fm := resilience.NewFallbackManager(resilience.DefaultFallbackConfig(),
//		openaiProvider, postgresProvider, memoryProvider)
//	results, err := fm.Execute(ctx, "search", query, cacheKey)
//
// # Graceful Degradation
//
// The degradation ladder is a discrete severity level with explicit
// degrade/recover transitions; operations declare the maximum level at
// which they remain permitted.
//
//	ladder := resilience.NewDegradationLadder()
//	ladder.Degrade("openai rate limited")
//	if ladder.CanPerformOperation(1) {
//		// still allowed under reduced functionality
//	}
//
// # Combined Usage
//
// Service composes all of the above around a caller-supplied operation,
// and Registry memoizes one Service per name:
//
//	registry := resilience.NewRegistry()
//	svc := resilience.GetOrCreateService(registry,
//		resilience.DefaultServiceConfig("unified"),
//		openaiProvider, postgresProvider, memoryProvider)
//	results, err := svc.Execute(ctx, searchOp, resilience.ExecuteOptions{
//		CacheKey: fingerprint,
//	})
package resilience
