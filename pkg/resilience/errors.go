package resilience

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/ragrelay/ragrelay/pkg/errors"
)

// CircuitOpenError is returned when a circuit breaker rejects a call
// without invoking the operation.
type CircuitOpenError struct {
	Name  string
	State CircuitState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return stderrors.As(err, &cbErr)
}

// ServiceDegradedError is returned when the degradation ladder blocks a
// call before any attempt is made.
type ServiceDegradedError struct {
	Service   string
	Level     int
	LevelName string
	Required  int
}

func (e *ServiceDegradedError) Error() string {
	return fmt.Sprintf("service '%s' is degraded to level %d (%s), operation requires level <= %d",
		e.Service, e.Level, e.LevelName, e.Required)
}

// IsServiceDegraded checks if an error is a degradation rejection
func IsServiceDegraded(err error) bool {
	var sdErr *ServiceDegradedError
	return stderrors.As(err, &sdErr)
}

func newTimeoutError(cause error) error {
	return errors.NewTimeoutError("operation").WithCause(cause)
}

func isDeadlineError(err error) bool {
	return stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled)
}
