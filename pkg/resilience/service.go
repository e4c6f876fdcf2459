package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/ragrelay/ragrelay/pkg/logging"
)

// Observer receives resilience events for export to a metrics backend.
// All methods must be cheap and non-blocking.
type Observer interface {
	RecordRequest(service, outcome string, duration time.Duration)
	RecordBreakerState(service string, state CircuitState)
	RecordFallback(service, provider, outcome string)
	RecordDegradationLevel(service string, level int)
}

// Request outcomes reported to the Observer
const (
	OutcomeSuccess  = "success"
	OutcomeFallback = "fallback"
	OutcomeFailure  = "failure"
	OutcomeRejected = "rejected"
)

// MetricsSnapshot is a point-in-time copy of a service's counters
type MetricsSnapshot struct {
	TotalRequests      uint64        `json:"total_requests"`
	SuccessfulRequests uint64        `json:"successful_requests"`
	FailedRequests     uint64        `json:"failed_requests"`
	AverageLatency     time.Duration `json:"average_latency"`
}

// serviceMetrics tracks per-service request counters under one mutex so
// each update is a single atomic read-modify-write.
type serviceMetrics struct {
	mutex              sync.Mutex
	totalRequests      uint64
	successfulRequests uint64
	failedRequests     uint64
	averageLatency     time.Duration
}

func (m *serviceMetrics) recordSuccess(latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++
	m.successfulRequests++
	m.updateLatency(latency)
}

func (m *serviceMetrics) recordFailure(latency time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests++
	m.failedRequests++
	m.updateLatency(latency)
}

// recordRejection covers calls blocked before any attempt was made; only
// the failed-request counter moves.
func (m *serviceMetrics) recordRejection() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.failedRequests++
}

func (m *serviceMetrics) updateLatency(latency time.Duration) {
	completed := m.successfulRequests + m.failedRequests
	if completed == 0 {
		return
	}
	m.averageLatency = time.Duration(
		(int64(m.averageLatency)*int64(completed-1) + int64(latency)) / int64(completed),
	)
}

func (m *serviceMetrics) snapshot() MetricsSnapshot {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return MetricsSnapshot{
		TotalRequests:      m.totalRequests,
		SuccessfulRequests: m.successfulRequests,
		FailedRequests:     m.failedRequests,
		AverageLatency:     m.averageLatency,
	}
}

func (m *serviceMetrics) reset() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.totalRequests = 0
	m.successfulRequests = 0
	m.failedRequests = 0
	m.averageLatency = 0
}

// ServiceConfig holds configuration for a fault-tolerant service
type ServiceConfig struct {
	Name     string
	Retry    RetryConfig
	Breaker  CircuitBreakerConfig
	Fallback FallbackConfig
	// Ladder shares a degradation ladder across services; nil creates a
	// service-local one with the default levels
	Ladder *DegradationLadder
	// DegradeOnOpen degrades the ladder when the breaker trips open and
	// recovers it when the breaker closes again
	DegradeOnOpen bool
	// RecoveryStreak asks the ladder to recover one level after this many
	// consecutive successes; zero disables the policy
	RecoveryStreak int
	// Observer mirrors counters into an external metrics backend
	Observer Observer
}

// DefaultServiceConfig returns a default service configuration
func DefaultServiceConfig(name string) ServiceConfig {
	return ServiceConfig{
		Name:     name,
		Retry:    DefaultRetryConfig(),
		Breaker:  DefaultCircuitBreakerConfig(name),
		Fallback: DefaultFallbackConfig(),
	}
}

// ExecuteOptions are per-call options for Service.Execute
type ExecuteOptions struct {
	// RequiredLevel declares the maximum degradation level at which this
	// call is still permitted; nil skips the admission check. Use Level.
	RequiredLevel *int
	// BypassRetry runs exactly one attempt with no backoff
	BypassRetry bool
	// Timeout bounds this call, overriding nothing else
	Timeout time.Duration
	// Args are handed to fallback providers when the primary operation fails
	Args interface{}
	// CacheKey enables fallback result caching under this fingerprint
	CacheKey string
}

// Level is a convenience for ExecuteOptions.RequiredLevel
func Level(n int) *int {
	return &n
}

// HealthStatus is the result of a service health check
type HealthStatus struct {
	ServiceName      string          `json:"service_name"`
	Healthy          bool            `json:"healthy"`
	BreakerState     string          `json:"breaker_state"`
	DegradationLevel int             `json:"degradation_level"`
	FallbackStatus   map[string]bool `json:"fallback_status,omitempty"`
	Metrics          MetricsSnapshot `json:"metrics"`
}

// Service combines retry, circuit breaking, fallback, and degradation
// admission around caller-supplied operations for one named logical
// service.
type Service[T any] struct {
	name       string
	retrier    *Retrier
	bypassOnce *Retrier
	breaker    *CircuitBreaker
	fallback   *FallbackManager[T]
	ladder     *DegradationLadder
	ownsLadder bool
	metrics    serviceMetrics
	observer   Observer
	logger     *logging.Logger

	streakMutex    sync.Mutex
	successStreak  int
	recoveryStreak int
}

// NewService creates a fault-tolerant service with the given providers as
// its fallback chain. An empty provider list disables fallback routing.
func NewService[T any](config ServiceConfig, providers ...Provider[T]) *Service[T] {
	if config.Breaker.Name == "" {
		config.Breaker.Name = config.Name
	}

	ladder := config.Ladder
	ownsLadder := false
	if ladder == nil {
		ladder = NewDegradationLadder()
		ownsLadder = true
	}

	s := &Service[T]{
		name:           config.Name,
		retrier:        NewRetrier(config.Retry),
		ladder:         ladder,
		ownsLadder:     ownsLadder,
		observer:       config.Observer,
		recoveryStreak: config.RecoveryStreak,
		logger:         logging.GetLogger(),
	}

	// Bypass mode still honors the overall deadline but never re-attempts.
	once := config.Retry
	once.MaxRetries = 0
	s.bypassOnce = NewRetrier(once)

	breakerCfg := config.Breaker
	userTransition := breakerCfg.OnStateChange
	breakerCfg.OnStateChange = func(name string, from, to CircuitState) {
		s.onBreakerTransition(from, to, config.DegradeOnOpen)
		if userTransition != nil {
			userTransition(name, from, to)
		}
	}
	s.breaker = NewCircuitBreaker(breakerCfg)

	if len(providers) > 0 {
		s.fallback = NewFallbackManager(config.Fallback, providers...)
	}

	return s
}

// Name returns the service name
func (s *Service[T]) Name() string {
	return s.name
}

// Execute runs the operation under the full fault-tolerance pipeline:
// degradation admission, circuit breaker, retry, then fallback routing.
func (s *Service[T]) Execute(ctx context.Context, operation func(context.Context) (T, error), opts ExecuteOptions) (T, error) {
	var zero T
	start := time.Now()

	if opts.RequiredLevel != nil && !s.ladder.CanPerformOperation(*opts.RequiredLevel) {
		s.metrics.recordRejection()
		s.observe(OutcomeRejected, 0)
		return zero, &ServiceDegradedError{
			Service:   s.name,
			Level:     s.ladder.CurrentLevel(),
			LevelName: s.ladder.CurrentLevelName(),
			Required:  *opts.RequiredLevel,
		}
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	result, err := s.executePrimary(ctx, operation, opts.BypassRetry)
	if err == nil {
		s.metrics.recordSuccess(time.Since(start))
		s.observe(OutcomeSuccess, time.Since(start))
		s.onSuccess()
		return result, nil
	}

	s.resetStreak()

	if s.fallback != nil && s.fallback.HasProviders() {
		fbResult, fbErr := s.fallback.Execute(ctx, s.name, opts.Args, opts.CacheKey)
		if s.observer != nil {
			outcome := OutcomeSuccess
			if fbErr != nil {
				outcome = OutcomeFailure
			}
			s.observer.RecordFallback(s.name, s.fallback.LastProvider(), outcome)
		}
		if fbErr == nil {
			// The call as a whole succeeded; only the breaker saw the
			// primary failure.
			s.metrics.recordSuccess(time.Since(start))
			s.observe(OutcomeFallback, time.Since(start))
			return fbResult, nil
		}
		err = fbErr
	}

	s.metrics.recordFailure(time.Since(start))
	s.observe(OutcomeFailure, time.Since(start))
	return zero, err
}

// executePrimary invokes the operation through the circuit breaker and
// retry executor. A breaker-open rejection skips the operation entirely.
func (s *Service[T]) executePrimary(ctx context.Context, operation func(context.Context) (T, error), bypassRetry bool) (T, error) {
	var zero T

	generation, err := s.breaker.Allow()
	if err != nil {
		s.logger.Debug("Circuit breaker rejected call",
			"service", s.name,
			"state", s.breaker.State().String(),
		)
		return zero, err
	}

	retrier := s.retrier
	if bypassRetry {
		retrier = s.bypassOnce
	}

	var result T
	opErr := retrier.Execute(ctx, func(ctx context.Context) error {
		r, err := operation(ctx)
		if err == nil {
			result = r
		}
		return err
	})

	s.breaker.Record(generation, opErr == nil)
	if opErr != nil {
		return zero, opErr
	}
	return result, nil
}

// GetMetrics returns a snapshot of the service's counters
func (s *Service[T]) GetMetrics() MetricsSnapshot {
	return s.metrics.snapshot()
}

// BreakerState returns the current circuit breaker state
func (s *Service[T]) BreakerState() CircuitState {
	return s.breaker.State()
}

// Ladder returns the degradation ladder this service consults
func (s *Service[T]) Ladder() *DegradationLadder {
	return s.ladder
}

// HealthCheck probes the breaker, degradation ladder, and every fallback
// provider.
func (s *Service[T]) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		ServiceName:      s.name,
		BreakerState:     s.breaker.State().String(),
		DegradationLevel: s.ladder.CurrentLevel(),
		Metrics:          s.metrics.snapshot(),
	}

	healthy := s.breaker.State() != StateOpen
	if s.fallback != nil {
		status.FallbackStatus = s.fallback.HealthStatus(ctx)
		healthy = healthy && s.fallback.AnyAvailable(ctx)
	}
	status.Healthy = healthy

	return status
}

// Reset clears breaker state, metrics, cached fallback results, and (for
// a service-local ladder) the degradation level.
func (s *Service[T]) Reset() {
	s.breaker.Reset()
	s.metrics.reset()
	s.resetStreak()
	if s.fallback != nil {
		s.fallback.Reset(context.Background())
	}
	if s.ownsLadder {
		s.ladder.Reset()
	}
}

func (s *Service[T]) onSuccess() {
	if s.recoveryStreak <= 0 {
		return
	}

	s.streakMutex.Lock()
	s.successStreak++
	streak := s.successStreak
	if streak >= s.recoveryStreak {
		s.successStreak = 0
	}
	s.streakMutex.Unlock()

	if streak >= s.recoveryStreak && s.ladder.IsDegraded() {
		s.ladder.Recover()
	}
}

func (s *Service[T]) resetStreak() {
	s.streakMutex.Lock()
	s.successStreak = 0
	s.streakMutex.Unlock()
}

func (s *Service[T]) onBreakerTransition(from, to CircuitState, degradeOnOpen bool) {
	if s.observer != nil {
		s.observer.RecordBreakerState(s.name, to)
	}
	if !degradeOnOpen {
		return
	}
	if to == StateOpen && from != StateOpen {
		s.ladder.Degrade("circuit_open:" + s.name)
	}
	if to == StateClosed && from == StateHalfOpen {
		s.ladder.Recover()
	}
}

func (s *Service[T]) observe(outcome string, duration time.Duration) {
	if s.observer == nil {
		return
	}
	s.observer.RecordRequest(s.name, outcome, duration)
	s.observer.RecordDegradationLevel(s.name, s.ladder.CurrentLevel())
}
