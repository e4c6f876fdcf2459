package resilience

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/ragrelay/ragrelay/pkg/errors"
)

// ErrorCategory identifies the failure class of a provider error
type ErrorCategory string

const (
	CategoryNetwork        ErrorCategory = "network"
	CategoryRateLimit      ErrorCategory = "rate_limit"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryTimeout        ErrorCategory = "timeout"
	CategoryValidation     ErrorCategory = "validation"
	CategoryUnknown        ErrorCategory = "unknown"
)

// ErrorClassification describes how a failure should be handled by the
// retry executor. It is derived purely from the error and is immutable.
type ErrorClassification struct {
	Category   ErrorCategory
	Retryable  bool
	MaxRetries int
	BaseDelay  time.Duration
}

// Classify maps a raw failure into a category plus a retry policy hint.
// Typed *errors.AppError values are classified by their type; everything
// else falls back to textual matching on the error message. The result is
// deterministic for the same input.
func Classify(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{Category: CategoryUnknown, Retryable: false}
	}

	if appErr, ok := err.(*errors.AppError); ok {
		if c, ok := classifyType(appErr.Type); ok {
			return c
		}
	}

	// Caller cancellation is not a backend failure. There is nobody left
	// to retry for.
	if stderrors.Is(err, context.Canceled) {
		return ErrorClassification{Category: CategoryUnknown, Retryable: false}
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "fetch failed"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "econnreset"):
		return ErrorClassification{
			Category:   CategoryNetwork,
			Retryable:  true,
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
		}
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		// Larger base delay than network errors so a throttled backend
		// is not hammered straight away.
		return ErrorClassification{
			Category:   CategoryRateLimit,
			Retryable:  true,
			MaxRetries: 3,
			BaseDelay:  2 * time.Second,
		}
	case strings.Contains(msg, "401"), strings.Contains(msg, "unauthorized"):
		return ErrorClassification{
			Category:   CategoryAuthentication,
			Retryable:  false,
			MaxRetries: 0,
		}
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"),
		strings.Contains(msg, "deadline exceeded"):
		return ErrorClassification{
			Category:   CategoryTimeout,
			Retryable:  true,
			MaxRetries: 3,
			BaseDelay:  1 * time.Second,
		}
	case strings.Contains(msg, "400"), strings.Contains(msg, "bad request"):
		return ErrorClassification{
			Category:   CategoryValidation,
			Retryable:  false,
			MaxRetries: 0,
		}
	default:
		// Assume transient, but don't loop forever on an unrecognized failure.
		return ErrorClassification{
			Category:   CategoryUnknown,
			Retryable:  true,
			MaxRetries: 1,
			BaseDelay:  1 * time.Second,
		}
	}
}

func classifyType(t errors.ErrorType) (ErrorClassification, bool) {
	switch t {
	case errors.ErrorTypeNetwork:
		return ErrorClassification{Category: CategoryNetwork, Retryable: true, MaxRetries: 3, BaseDelay: 1 * time.Second}, true
	case errors.ErrorTypeRateLimit:
		return ErrorClassification{Category: CategoryRateLimit, Retryable: true, MaxRetries: 3, BaseDelay: 2 * time.Second}, true
	case errors.ErrorTypeAuthentication:
		return ErrorClassification{Category: CategoryAuthentication, Retryable: false}, true
	case errors.ErrorTypeTimeout:
		return ErrorClassification{Category: CategoryTimeout, Retryable: true, MaxRetries: 3, BaseDelay: 1 * time.Second}, true
	case errors.ErrorTypeValidation:
		return ErrorClassification{Category: CategoryValidation, Retryable: false}, true
	default:
		return ErrorClassification{}, false
	}
}

// IsRetryable reports whether the given error should be retried at all.
// Circuit breaker rejections and degradation rejections are never retried
// by this layer.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsCircuitOpen(err) || IsServiceDegraded(err) {
		return false
	}
	return Classify(err).Retryable
}
