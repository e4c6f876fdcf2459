package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"github.com/ragrelay/ragrelay/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the maximum number of retries after the initial attempt.
	// Zero means the operation runs exactly once.
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// JitterFactor perturbs each delay by +/- delay*JitterFactor*rand to
	// avoid thundering-herd synchronization across concurrent callers.
	// Must be in [0, 1].
	JitterFactor float64
	// OverallTimeout bounds total wall-clock time across all attempts,
	// including backoff delays. Zero disables the deadline.
	OverallTimeout time.Duration
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFactor:      0.1,
		OverallTimeout:    60 * time.Second,
	}
}

// Retrier executes operations under a bounded-retry, bounded-timeout policy,
// consulting Classify for per-error retry hints.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}
	if config.JitterFactor > 1 {
		config.JitterFactor = 1
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs the operation until it succeeds, fails with a non-retryable
// error, or the retry budget is exhausted. The last observed error is
// returned unwrapped so callers can still classify it upstream.
//
// Each attempt races the operation against the overall deadline; when the
// deadline wins, Execute fails with a timeout error regardless of the
// operation's own eventual outcome.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	if r.config.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.OverallTimeout)
		defer cancel()
	}

	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if stderrors.Is(err, context.Canceled) {
				return err
			}
			return newTimeoutError(err)
		}

		err := r.attempt(ctx, operation)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt+1,
				)
			}
			return nil
		}
		if isDeadlineError(err) {
			return err
		}

		lastErr = err
		classification := Classify(err)

		if !classification.Retryable {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"category", string(classification.Category),
			)
			return err
		}

		budget := r.config.MaxRetries
		if classification.MaxRetries < budget {
			budget = classification.MaxRetries
		}
		if attempt >= budget {
			break
		}

		delay := r.calculateDelay(attempt, classification)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"category", string(classification.Category),
			"attempt", attempt+1,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, delay)
		}

		select {
		case <-ctx.Done():
			return newTimeoutError(ctx.Err())
		case <-time.After(delay):
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
	)

	return lastErr
}

// ExecuteWithResult executes the given function with retry logic and returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// attempt races one invocation of the operation against the context
// deadline. On a deadline win the operation's goroutine is abandoned, not
// cancelled; the buffered channel lets it complete without leaking.
func (r *Retrier) attempt(ctx context.Context, operation func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- operation(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return newTimeoutError(ctx.Err())
	}
}

func (r *Retrier) calculateDelay(attempt int, classification ErrorClassification) time.Duration {
	base := r.config.BaseDelay
	// The classifier's hint acts as a floor so throttled backends get a
	// longer pause than the configured default.
	if classification.BaseDelay > base {
		base = classification.BaseDelay
	}

	delay := float64(base) * math.Pow(r.config.BackoffMultiplier, float64(attempt))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * r.config.JitterFactor * delay
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	return time.Duration(delay)
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	retrier := NewRetrier(config)
	return retrier.Execute(ctx, operation)
}

// Retry is a convenience function to execute an operation with default retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}
