// Package ratelimit paces upstream requests so the scraper stays within the
// TVmaze allowance of roughly 20 calls per 10 seconds per IP.
//
// The throttle only spaces requests out. A 429 that still gets through is
// passed back untouched; backing off is the retry policy's job.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.uber.org/ratelimit"
)

// Prometheus metrics for request pacing.
var (
	throttleWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tvmaze_throttle_wait_seconds",
		Help:    "Time requests waited for a rate limit slot",
		Buckets: []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2},
	})

	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvmaze_rate_limited_total",
		Help: "Total number of 429 responses that passed the throttle",
	})
)

// Config holds the pacing parameters.
type Config struct {
	// Rate is the number of requests allowed per Per. Zero disables pacing.
	Rate int `mapstructure:"rate"`

	// Per is the window Rate applies to.
	Per time.Duration `mapstructure:"per"`
}

// DefaultConfig returns the TVmaze allowance.
func DefaultConfig() Config {
	return Config{
		Rate: 20,
		Per:  10 * time.Second,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.Rate < 0 {
		return fmt.Errorf("rate must be >= 0 (got %d)", c.Rate)
	}
	if c.Rate > 0 && c.Per <= 0 {
		return fmt.Errorf("per must be > 0 when rate is set (got %s)", c.Per)
	}
	return nil
}

// Throttle is a fetch.Doer that waits for a limiter slot before each request.
// It is safe for concurrent use.
type Throttle struct {
	next    fetch.Doer
	limiter ratelimit.Limiter
	logger  zerolog.Logger
}

// NewThrottle wraps next with a limiter built from cfg.
func NewThrottle(next fetch.Doer, cfg Config, logger zerolog.Logger) *Throttle {
	limiter := ratelimit.NewUnlimited()
	if cfg.Rate > 0 {
		limiter = ratelimit.New(cfg.Rate, ratelimit.Per(cfg.Per))
	}
	return &Throttle{
		next:    next,
		limiter: limiter,
		logger:  logger,
	}
}

// Execute implements fetch.Doer.
func (t *Throttle) Execute(ctx context.Context, method, rawURL string) fetch.Result[fetch.Payload] {
	if err := ctx.Err(); err != nil {
		return fetch.Fail[fetch.Payload](&fetch.FetchError{Kind: fetch.KindTransport, URL: rawURL, Err: err})
	}

	start := time.Now()
	err := t.wait(ctx)
	waited := time.Since(start)
	throttleWaitSeconds.Observe(waited.Seconds())
	if err != nil {
		return fetch.Fail[fetch.Payload](&fetch.FetchError{Kind: fetch.KindTransport, URL: rawURL, Err: err})
	}

	result := t.next.Execute(ctx, method, rawURL)
	if result.ErrorKind() == fetch.KindRateLimited {
		rateLimitedTotal.Inc()
		t.logger.Warn().
			Str("url", rawURL).
			Dur("waited", waited).
			Msg("Upstream rate limited a throttled request")
	}

	return result
}

// wait blocks until the limiter grants a slot or ctx is done. A slot granted
// after ctx is done is still consumed by the abandoned Take.
func (t *Throttle) wait(ctx context.Context) error {
	granted := make(chan struct{})
	go func() {
		t.limiter.Take()
		close(granted)
	}()

	select {
	case <-granted:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
