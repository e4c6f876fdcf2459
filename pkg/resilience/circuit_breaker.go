package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/ragrelay/ragrelay/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, limited probe requests are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of failures within MonitorWindow that
	// trips the breaker
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before the next
	// call is allowed through as a probe
	RecoveryTimeout time.Duration
	// MonitorWindow is the duration over which failures are counted
	MonitorWindow time.Duration
	// MinimumThroughput is the number of calls required in the window
	// before the breaker can trip
	MinimumThroughput int
	// SuccessThreshold is the number of consecutive successes in half-open
	// state required to close the breaker
	SuccessThreshold int
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a default circuit breaker configuration
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:              name,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		MonitorWindow:     60 * time.Second,
		MinimumThroughput: 3,
		SuccessThreshold:  2,
	}
}

type outcome struct {
	at      time.Time
	success bool
}

// WindowCounts holds the call outcomes currently inside the monitor window
type WindowCounts struct {
	Calls     int
	Successes int
	Failures  int
}

// CircuitBreaker is a per-service state machine that trips open after
// sustained failure and self-probes for recovery. All state reads/writes
// and window mutation happen under a single mutex.
type CircuitBreaker struct {
	name              string
	failureThreshold  int
	recoveryTimeout   time.Duration
	monitorWindow     time.Duration
	minimumThroughput int
	successThreshold  int
	onStateChange     func(name string, from CircuitState, to CircuitState)

	mutex                sync.Mutex
	state                CircuitState
	generation           uint64
	window               []outcome
	consecutiveSuccesses int
	halfOpenProbes       int
	openedAt             time.Time

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.MonitorWindow <= 0 {
		config.MonitorWindow = 60 * time.Second
	}
	if config.MinimumThroughput <= 0 {
		config.MinimumThroughput = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		name:              config.Name,
		failureThreshold:  config.FailureThreshold,
		recoveryTimeout:   config.RecoveryTimeout,
		monitorWindow:     config.MonitorWindow,
		minimumThroughput: config.MinimumThroughput,
		successThreshold:  config.SuccessThreshold,
		onStateChange:     config.OnStateChange,
		state:             StateClosed,
		logger:            logging.GetLogger(),
	}
}

// Allow reports whether a call may proceed. It returns the current
// generation, which must be passed back to Record so outcomes observed
// after a state transition are discarded. When the breaker is open and the
// recovery timeout has elapsed, the breaker moves to half-open and the call
// is admitted as a probe.
func (cb *CircuitBreaker) Allow() (uint64, error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.recoveryTimeout {
			cb.setState(StateHalfOpen, now)
			cb.halfOpenProbes = 1
			return cb.generation, nil
		}
		return cb.generation, &CircuitOpenError{Name: cb.name, State: StateOpen}
	case StateHalfOpen:
		if cb.halfOpenProbes >= cb.successThreshold {
			return cb.generation, &CircuitOpenError{Name: cb.name, State: StateHalfOpen}
		}
		cb.halfOpenProbes++
		return cb.generation, nil
	default:
		return cb.generation, nil
	}
}

// Record feeds a call outcome back into the breaker. Outcomes from a
// generation older than the current one are ignored.
func (cb *CircuitBreaker) Record(generation uint64, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if generation != cb.generation {
		return
	}

	now := time.Now()

	switch cb.state {
	case StateClosed:
		cb.observe(now, success)
		if !success && cb.shouldTrip() {
			cb.openedAt = now
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		if success {
			cb.consecutiveSuccesses++
			if cb.consecutiveSuccesses >= cb.successThreshold {
				cb.setState(StateClosed, now)
			}
		} else {
			cb.openedAt = now
			cb.setState(StateOpen, now)
		}
	}
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) error) error {
	generation, err := cb.Allow()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.Record(generation, false)
			panic(r)
		}
	}()

	err = req(ctx)
	cb.Record(generation, err == nil)
	return err
}

// State returns the current state of the circuit breaker. An open breaker
// whose recovery timeout has elapsed still reports open until the next
// call probes it.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Counts returns the outcomes currently inside the monitor window
func (cb *CircuitBreaker) Counts() WindowCounts {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.evict(time.Now())

	var c WindowCounts
	for _, o := range cb.window {
		c.Calls++
		if o.success {
			c.Successes++
		} else {
			c.Failures++
		}
	}
	return c
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset returns the breaker to the closed state with an empty window
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed, time.Now())
}

// observe appends an outcome to the rolling window and evicts entries
// older than the monitor window. Sliding-window eviction on every
// observation is deliberately the conservative choice.
func (cb *CircuitBreaker) observe(now time.Time, success bool) {
	cb.evict(now)
	cb.window = append(cb.window, outcome{at: now, success: success})
}

func (cb *CircuitBreaker) evict(now time.Time) {
	cutoff := now.Add(-cb.monitorWindow)
	i := 0
	for i < len(cb.window) && cb.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.window = append(cb.window[:0], cb.window[i:]...)
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if len(cb.window) < cb.minimumThroughput {
		return false
	}
	failures := 0
	for _, o := range cb.window {
		if !o.success {
			failures++
		}
	}
	return failures >= cb.failureThreshold
}

// setState transitions the breaker and clears the window so stale
// failures cannot re-trip it immediately after recovery. Caller must hold
// the mutex.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	prev := cb.state
	cb.state = state
	cb.generation++
	cb.window = cb.window[:0]
	cb.consecutiveSuccesses = 0
	cb.halfOpenProbes = 0

	if prev == state {
		return
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
	)
}
