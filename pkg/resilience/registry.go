package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ragrelay/ragrelay/pkg/logging"
)

// ManagedService is the type-erased view of a Service the registry holds
type ManagedService interface {
	Name() string
	HealthCheck(ctx context.Context) HealthStatus
	Reset()
}

// SystemHealth aggregates health across all registered services
type SystemHealth struct {
	Healthy   bool           `json:"healthy"`
	Timestamp time.Time      `json:"timestamp"`
	Services  []HealthStatus `json:"services"`
}

// Registry creates and memoizes one fault-tolerant service per name. It
// is an explicit object constructed once at process start and passed to
// callers, not a hidden global.
type Registry struct {
	mutex   sync.Mutex
	entries map[string]*registryEntry
	logger  *logging.Logger
}

// registryEntry guards per-name construction with a sync.Once so
// concurrent calls for the same name never race-construct two instances,
// while different names construct concurrently outside the map lock.
type registryEntry struct {
	once    sync.Once
	service ManagedService
}

// NewRegistry creates an empty service registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  logging.GetLogger(),
	}
}

// GetOrCreateService returns the service registered under config.Name,
// creating it on first use. Creation is idempotent and first-writer-wins:
// later calls with the same name return the original instance and their
// config is ignored. Requesting an existing name with a different result
// type is a programming error and panics.
func GetOrCreateService[T any](r *Registry, config ServiceConfig, providers ...Provider[T]) *Service[T] {
	r.mutex.Lock()
	entry, ok := r.entries[config.Name]
	if !ok {
		entry = &registryEntry{}
		r.entries[config.Name] = entry
	}
	r.mutex.Unlock()

	entry.once.Do(func() {
		// Construction happens outside the map lock, but publication must
		// go through r.mutex: Get and the aggregate operations read
		// entry.service under it, and the once alone gives them no
		// happens-before edge with this write.
		service := NewService(config, providers...)
		r.mutex.Lock()
		entry.service = service
		r.mutex.Unlock()
		r.logger.Info("Registered fault-tolerant service", "name", config.Name)
	})

	r.mutex.Lock()
	service := entry.service
	r.mutex.Unlock()

	svc, ok := service.(*Service[T])
	if !ok {
		panic(fmt.Sprintf("service %q already registered with a different result type", config.Name))
	}
	return svc
}

// Get returns the registered service by name
func (r *Registry) Get(name string) (ManagedService, bool) {
	r.mutex.Lock()
	entry, ok := r.entries[name]
	r.mutex.Unlock()

	if !ok || entry.service == nil {
		return nil, false
	}
	return entry.service, true
}

// Names returns the names of all registered services, sorted
func (r *Registry) Names() []string {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	names := make([]string, 0, len(r.entries))
	for name, entry := range r.entries {
		if entry.service != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// GetSystemHealth runs health checks concurrently across all registered
// services and aggregates the results.
func (r *Registry) GetSystemHealth(ctx context.Context) SystemHealth {
	r.mutex.Lock()
	services := make([]ManagedService, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.service != nil {
			services = append(services, entry.service)
		}
	}
	r.mutex.Unlock()

	statuses := make([]HealthStatus, len(services))

	var wg sync.WaitGroup
	for i, svc := range services {
		wg.Add(1)
		go func(i int, svc ManagedService) {
			defer wg.Done()
			statuses[i] = svc.HealthCheck(ctx)
		}(i, svc)
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ServiceName < statuses[j].ServiceName
	})

	healthy := true
	for _, status := range statuses {
		if !status.Healthy {
			healthy = false
			break
		}
	}

	return SystemHealth{
		Healthy:   healthy,
		Timestamp: time.Now(),
		Services:  statuses,
	}
}

// ResetAll resets every registered service without removing it: breaker
// state, metrics, and cached fallback results are cleared.
func (r *Registry) ResetAll() {
	r.mutex.Lock()
	services := make([]ManagedService, 0, len(r.entries))
	for _, entry := range r.entries {
		if entry.service != nil {
			services = append(services, entry.service)
		}
	}
	r.mutex.Unlock()

	for _, svc := range services {
		svc.Reset()
	}
	r.logger.Info("Reset all registered services", "count", len(services))
}

// DestroyAll clears the registry entirely
func (r *Registry) DestroyAll() {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries = make(map[string]*registryEntry)
}
