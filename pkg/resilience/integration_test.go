package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFailoverEndToEnd exercises the full pipeline: a primary that always
// fails with a network error is retried, then the call fails over to the
// secondary provider and succeeds as a whole.
func TestFailoverEndToEnd(t *testing.T) {
	secondary := succeeding("secondary", 2, "secondary-result")

	config := ServiceConfig{
		Name: "search",
		Retry: RetryConfig{
			MaxRetries:        2,
			BaseDelay:         time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Breaker: CircuitBreakerConfig{
			Name:              "search",
			FailureThreshold:  2,
			RecoveryTimeout:   time.Second,
			MonitorWindow:     time.Minute,
			MinimumThroughput: 1,
			SuccessThreshold:  1,
		},
		Fallback: FallbackConfig{
			Mode:            ModeStrict,
			ProviderTimeout: 100 * time.Millisecond,
		},
	}

	registry := NewRegistry()
	svc := GetOrCreateService(registry, config, secondary)

	var primaryCalls atomic.Int64
	result, err := svc.Execute(context.Background(), func(ctx context.Context) (string, error) {
		primaryCalls.Add(1)
		return "", errors.New("fetch failed")
	}, ExecuteOptions{})

	require.NoError(t, err)
	assert.Equal(t, "secondary-result", result)

	// maxRetries=2 means the primary ran three times in total.
	assert.Equal(t, int64(3), primaryCalls.Load())

	// The overall call succeeded via fallback, so no failed request is
	// recorded, but the breaker counted one failure toward its threshold.
	m := svc.GetMetrics()
	assert.Equal(t, uint64(0), m.FailedRequests)
	assert.Equal(t, uint64(1), m.SuccessfulRequests)
	assert.Equal(t, 1, svc.breaker.Counts().Failures)
	assert.Equal(t, StateClosed, svc.BreakerState())
}

// TestBreakerTripThenCachedResult drives a service into a tripped breaker
// and verifies cached fallback results keep answering.
func TestBreakerTripThenCachedResult(t *testing.T) {
	var secondaryUp atomic.Bool
	secondaryUp.Store(true)
	secondary := &mockProvider{
		name:      "secondary",
		priority:  2,
		available: true,
		execute: func(ctx context.Context, args interface{}) (string, error) {
			if !secondaryUp.Load() {
				return "", errors.New("fetch failed")
			}
			return "secondary-result", nil
		},
	}

	config := fastServiceConfig("search")
	svc := NewService[string](config, secondary)

	fail := func(ctx context.Context) (string, error) {
		return "", errors.New("fetch failed")
	}

	// Warm the cache while the secondary is healthy.
	result, err := svc.Execute(context.Background(), fail, ExecuteOptions{
		BypassRetry: true,
		CacheKey:    "query:golang",
	})
	require.NoError(t, err)
	require.Equal(t, "secondary-result", result)

	// Now everything is down; the cached success still answers.
	secondaryUp.Store(false)
	result, err = svc.Execute(context.Background(), fail, ExecuteOptions{
		BypassRetry: true,
		CacheKey:    "query:golang",
	})
	require.NoError(t, err)
	assert.Equal(t, "secondary-result", result)

	// An uncached query with everything down surfaces the failure.
	_, err = svc.Execute(context.Background(), fail, ExecuteOptions{
		BypassRetry: true,
		CacheKey:    "query:rust",
	})
	require.Error(t, err)
}

// TestDegradationGatesLowLevelOperations wires degradation to breaker
// transitions and verifies level-0 operations are blocked while the
// breaker is open.
func TestDegradationGatesLowLevelOperations(t *testing.T) {
	config := fastServiceConfig("search")
	config.DegradeOnOpen = true
	svc := NewService[string](config)

	fail := func(ctx context.Context) (string, error) {
		return "", errors.New("fetch failed")
	}
	for i := 0; i < 3; i++ {
		svc.Execute(context.Background(), fail, ExecuteOptions{BypassRetry: true})
	}
	require.Equal(t, StateOpen, svc.BreakerState())
	require.True(t, svc.Ladder().IsDegraded())

	_, err := svc.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	}, ExecuteOptions{RequiredLevel: Level(0)})

	require.Error(t, err)
	assert.True(t, IsServiceDegraded(err))

	// A degradation-tolerant operation is admitted (and then rejected by
	// the still-open breaker rather than the ladder).
	_, err = svc.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "ok", nil
	}, ExecuteOptions{RequiredLevel: Level(2)})
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
}

// TestBreakerRecoversThroughProbes walks the breaker through
// OPEN -> HALF_OPEN -> CLOSED with real calls.
func TestBreakerRecoversThroughProbes(t *testing.T) {
	config := fastServiceConfig("search")
	config.Breaker.SuccessThreshold = 2
	svc := NewService[string](config)

	fail := func(ctx context.Context) (string, error) {
		return "", errors.New("fetch failed")
	}
	for i := 0; i < 3; i++ {
		svc.Execute(context.Background(), fail, ExecuteOptions{BypassRetry: true})
	}
	require.Equal(t, StateOpen, svc.BreakerState())

	time.Sleep(60 * time.Millisecond)

	ok := func(ctx context.Context) (string, error) { return "ok", nil }

	result, err := svc.Execute(context.Background(), ok, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, StateHalfOpen, svc.BreakerState())

	_, err = svc.Execute(context.Background(), ok, ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, svc.BreakerState())
}
