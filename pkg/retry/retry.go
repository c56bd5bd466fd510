// Package retry implements the bounded exponential backoff applied to every
// upstream call. Only rate-limited calls are retried.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_retries_total",
		Help: "Total number of retry attempts by operation",
	}, []string{"operation"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvmaze_retry_backoff_seconds",
		Help:    "Backoff duration for retries by operation",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"operation"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by operation",
	}, []string{"operation"})
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid retry config")

// Config holds the retry policy parameters.
type Config struct {
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration `mapstructure:"base_delay"`

	// MaxDelay caps every individual wait.
	MaxDelay time.Duration `mapstructure:"max_delay"`

	// MaxRetries bounds the retries; a call is attempted at most MaxRetries+1 times.
	MaxRetries int `mapstructure:"max_retries"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
		MaxRetries: 5,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	switch {
	case c.BaseDelay < 0:
		return fmt.Errorf("%w: base_delay must be >= 0 (got %s)", ErrInvalidConfig, c.BaseDelay)
	case c.MaxDelay < c.BaseDelay:
		return fmt.Errorf("%w: max_delay %s is below base_delay %s", ErrInvalidConfig, c.MaxDelay, c.BaseDelay)
	case c.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries must be >= 0 (got %d)", ErrInvalidConfig, c.MaxRetries)
	}
	return nil
}

// Delay returns the wait before retry n (0-based): BaseDelay doubled n times,
// capped at MaxDelay. No jitter is applied.
func (c Config) Delay(n int) time.Duration {
	d := c.BaseDelay
	for i := 0; i < n; i++ {
		if d >= c.MaxDelay {
			break
		}
		d *= 2
	}
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy applies Config to calls. It is safe for concurrent use.
type Policy struct {
	config Config
	logger zerolog.Logger
	sleep  SleepFunc
}

// NewPolicy creates a retry policy.
func NewPolicy(cfg Config, logger zerolog.Logger) *Policy {
	return &Policy{
		config: cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Config returns the policy configuration.
func (p *Policy) Config() Config {
	return p.config
}

// SetSleeper replaces the backoff wait (for testing).
func (p *Policy) SetSleeper(fn SleepFunc) {
	p.sleep = fn
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// retries are exhausted. The last result is returned as is, so an exhausted
// call still reports KindRateLimited.
func Do[T any](ctx context.Context, p *Policy, operation string, fn func(context.Context) fetch.Result[T]) fetch.Result[T] {
	var result fetch.Result[T]

	for attempt := 0; ; attempt++ {
		result = fn(ctx)
		if result.IsSuccess() {
			if attempt > 0 {
				p.logger.Info().
					Str("operation", operation).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return result
		}

		if !result.Err.Retryable() {
			return result
		}

		if attempt >= p.config.MaxRetries {
			break
		}

		backoff := p.config.Delay(attempt)
		retriesTotal.WithLabelValues(operation).Inc()
		retryBackoffSeconds.WithLabelValues(operation).Observe(backoff.Seconds())

		p.logger.Warn().
			Str("operation", operation).
			Str("url", result.Err.URL).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Rate limited, retrying after backoff")

		if err := p.sleep(ctx, backoff); err != nil {
			p.logger.Warn().
				Str("operation", operation).
				Int("attempt", attempt+1).
				Msg("Context cancelled during retry backoff")
			return fetch.Fail[T](&fetch.FetchError{
				Kind: fetch.KindTransport,
				URL:  result.Err.URL,
				Err:  err,
			})
		}
	}

	retryExhaustedTotal.WithLabelValues(operation).Inc()
	p.logger.Warn().
		Str("operation", operation).
		Str("url", result.Err.URL).
		Int("max_retries", p.config.MaxRetries).
		Msg("Retry attempts exhausted")

	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
