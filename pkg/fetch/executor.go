// Package fetch issues single upstream HTTP requests and classifies their
// outcome. It never retries; retry decisions belong to the caller.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"resty.dev/v3"
)

// Prometheus metrics for upstream requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tvmaze_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_errors_total",
		Help: "Total upstream errors by kind",
	}, []string{"kind"})
)

// Payload is the body of a successful response.
type Payload struct {
	StatusCode int
	Body       []byte

	// Structured is set when Body is a JSON document. Otherwise Body is raw
	// text and only Text is meaningful.
	Structured bool
}

// NewPayload builds a payload from a status and a raw body.
func NewPayload(status int, body []byte) Payload {
	return Payload{
		StatusCode: status,
		Body:       body,
		Structured: json.Valid(body),
	}
}

// Text returns the body as a string.
func (p Payload) Text() string {
	return string(p.Body)
}

// Decode unmarshals a structured body into v. A raw text body yields
// ErrNotStructured.
func (p Payload) Decode(v any) error {
	if !p.Structured {
		return ErrNotStructured
	}
	return json.Unmarshal(p.Body, v)
}

// Doer executes one request. Executor implements it; decorators wrap it.
type Doer interface {
	Execute(ctx context.Context, method, rawURL string) Result[Payload]
}

// Config holds executor settings.
type Config struct {
	// UserAgent is sent with every request.
	UserAgent string

	// Timeout bounds a single request including reading the body.
	Timeout time.Duration
}

// DefaultConfig returns a default executor configuration.
func DefaultConfig() Config {
	return Config{
		UserAgent: "tvmaze-scraper/0.1.0",
		Timeout:   30 * time.Second,
	}
}

// Executor issues requests through a resty client with its retries disabled.
type Executor struct {
	http *resty.Client
}

// NewExecutor creates an executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultConfig().UserAgent
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Executor{http: client}
}

// Execute performs the request and classifies the result.
func (e *Executor) Execute(ctx context.Context, method, rawURL string) Result[Payload] {
	endpoint := endpointLabel(rawURL)

	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	resp, err := e.http.R().
		SetContext(ctx).
		Execute(method, rawURL)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		errorsTotal.WithLabelValues(string(KindTransport)).Inc()
		return Fail[Payload](&FetchError{Kind: KindTransport, URL: rawURL, Err: err})
	}

	status := resp.StatusCode()
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()

	body := resp.Bytes()
	if ferr := Classify(rawURL, status); ferr != nil {
		errorsTotal.WithLabelValues(string(ferr.Kind)).Inc()
		return Fail[Payload](ferr)
	}

	return Ok(NewPayload(status, body))
}

// Classify maps a response status to a FetchError, or nil for 2xx.
// The order of the checks is significant.
func Classify(rawURL string, status int) *FetchError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return &FetchError{Kind: KindNotFound, URL: rawURL, StatusCode: status}
	case status == http.StatusTooManyRequests:
		return &FetchError{Kind: KindRateLimited, URL: rawURL, StatusCode: status}
	case status >= 500:
		return &FetchError{Kind: KindServer, URL: rawURL, StatusCode: status}
	default:
		return &FetchError{
			Kind:       KindTransport,
			URL:        rawURL,
			StatusCode: status,
			Err:        fmt.Errorf("%w %d", ErrUnexpectedStatus, status),
		}
	}
}

// endpointLabel collapses numeric path segments so metric cardinality stays
// bounded, e.g. /shows/42/cast -> /shows/{id}/cast.
func endpointLabel(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "unknown"
	}
	segments := strings.Split(u.Path, "/")
	for i, s := range segments {
		if _, err := strconv.Atoi(s); err == nil {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// IsCancellation reports whether err stems from context cancellation or a
// deadline.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
