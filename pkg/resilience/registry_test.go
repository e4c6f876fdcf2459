package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateServiceIdempotent(t *testing.T) {
	registry := NewRegistry()

	first := GetOrCreateService[string](registry, fastServiceConfig("openai"))
	second := GetOrCreateService[string](registry, fastServiceConfig("openai"))

	assert.Same(t, first, second)
}

func TestRegistry_FirstWriterWins(t *testing.T) {
	registry := NewRegistry()

	config := fastServiceConfig("openai")
	config.Retry.MaxRetries = 5
	GetOrCreateService[string](registry, config)

	// The second config is ignored entirely.
	other := fastServiceConfig("openai")
	other.Retry.MaxRetries = 0
	svc := GetOrCreateService[string](registry, other)

	attempts := 0
	svc.Execute(context.Background(), func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("something odd happened")
	}, ExecuteOptions{})

	// Unknown errors cap at one retry; a zero-retry config would have
	// stopped after a single attempt.
	assert.Equal(t, 2, attempts)
}

func TestRegistry_ConcurrentCreateSameName(t *testing.T) {
	registry := NewRegistry()

	services := make([]*Service[string], 20)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			services[i] = GetOrCreateService[string](registry, fastServiceConfig("shared"))
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		assert.Same(t, services[0], services[i])
	}
}

func TestRegistry_ConcurrentCreateDifferentNames(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			GetOrCreateService[string](registry, fastServiceConfig(fmt.Sprintf("svc-%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, registry.Names(), 20)
}

func TestRegistry_ConcurrentCreateAndRead(t *testing.T) {
	registry := NewRegistry()

	// Readers race the first registration; under the race detector this
	// verifies the constructed service is published with proper
	// synchronization, not just through the once.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			GetOrCreateService[string](registry, fastServiceConfig("shared"))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if svc, ok := registry.Get("shared"); ok {
				assert.Equal(t, "shared", svc.Name())
			}
			registry.Names()
		}()
	}
	wg.Wait()

	svc, ok := registry.Get("shared")
	require.True(t, ok)
	assert.Equal(t, "shared", svc.Name())
}

func TestRegistry_Get(t *testing.T) {
	registry := NewRegistry()
	GetOrCreateService[string](registry, fastServiceConfig("openai"))

	svc, ok := registry.Get("openai")
	require.True(t, ok)
	assert.Equal(t, "openai", svc.Name())

	_, ok = registry.Get("missing")
	assert.False(t, ok)
}

func TestRegistry_GetSystemHealth(t *testing.T) {
	registry := NewRegistry()
	GetOrCreateService(registry, fastServiceConfig("a"), succeeding("p1", 1, "ok"))
	GetOrCreateService(registry, fastServiceConfig("b"), succeeding("p2", 1, "ok"))

	health := registry.GetSystemHealth(context.Background())
	assert.True(t, health.Healthy)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "a", health.Services[0].ServiceName)
	assert.Equal(t, "b", health.Services[1].ServiceName)
}

func TestRegistry_SystemHealthReportsUnhealthyService(t *testing.T) {
	registry := NewRegistry()

	unavailable := failing("down", 1)
	unavailable.available = false
	GetOrCreateService(registry, fastServiceConfig("degraded"), unavailable)

	health := registry.GetSystemHealth(context.Background())
	assert.False(t, health.Healthy)
}

func TestRegistry_ResetAll(t *testing.T) {
	registry := NewRegistry()
	svc := GetOrCreateService[string](registry, fastServiceConfig("openai"))

	for i := 0; i < 3; i++ {
		svc.Execute(context.Background(), func(ctx context.Context) (string, error) {
			return "", errors.New("fetch failed")
		}, ExecuteOptions{BypassRetry: true})
	}
	require.Equal(t, StateOpen, svc.BreakerState())

	registry.ResetAll()

	assert.Equal(t, StateClosed, svc.BreakerState())
	assert.Len(t, registry.Names(), 1)
}

func TestRegistry_DestroyAll(t *testing.T) {
	registry := NewRegistry()
	GetOrCreateService[string](registry, fastServiceConfig("openai"))

	registry.DestroyAll()
	assert.Empty(t, registry.Names())

	// A new service can be registered under the old name.
	GetOrCreateService[string](registry, fastServiceConfig("openai"))
	assert.Len(t, registry.Names(), 1)
}
