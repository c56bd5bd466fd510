package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/rs/zerolog"
)

type stubDoer struct {
	calls  atomic.Int32
	result fetch.Result[fetch.Payload]
}

func (d *stubDoer) Execute(context.Context, string, string) fetch.Result[fetch.Payload] {
	d.calls.Add(1)
	return d.result
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"disabled", Config{}, false},
		{"negative rate", Config{Rate: -1, Per: time.Second}, true},
		{"rate without window", Config{Rate: 5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestThrottle_PacesRequests(t *testing.T) {
	next := &stubDoer{result: fetch.Ok(fetch.NewPayload(200, []byte(`[]`)))}
	// 20 per second is one slot every 50ms.
	throttle := NewThrottle(next, Config{Rate: 20, Per: time.Second}, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 5; i++ {
		if r := throttle.Execute(context.Background(), http.MethodGet, "http://example/shows?page=1"); !r.IsSuccess() {
			t.Fatalf("call %d failed: %v", i+1, r.Err)
		}
	}
	elapsed := time.Since(start)

	if next.calls.Load() != 5 {
		t.Errorf("calls = %d, want 5", next.calls.Load())
	}
	// The first slot is free; four more need at least ~200ms minus slack.
	if elapsed < 100*time.Millisecond {
		t.Errorf("5 requests took %v, expected pacing", elapsed)
	}
}

func TestThrottle_Unlimited(t *testing.T) {
	next := &stubDoer{result: fetch.Ok(fetch.NewPayload(200, []byte(`[]`)))}
	throttle := NewThrottle(next, Config{}, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 50; i++ {
		throttle.Execute(context.Background(), http.MethodGet, "http://example/shows?page=1")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("unlimited throttle took %v", elapsed)
	}
}

func TestThrottle_PassesErrorsThrough(t *testing.T) {
	next := &stubDoer{result: fetch.Fail[fetch.Payload](&fetch.FetchError{
		Kind:       fetch.KindRateLimited,
		StatusCode: http.StatusTooManyRequests,
	})}
	throttle := NewThrottle(next, Config{}, zerolog.Nop())

	r := throttle.Execute(context.Background(), http.MethodGet, "http://example/shows?page=1")
	if r.ErrorKind() != fetch.KindRateLimited {
		t.Errorf("kind = %q, want rate_limited", r.ErrorKind())
	}
}

func TestThrottle_CancelledContext(t *testing.T) {
	next := &stubDoer{result: fetch.Ok(fetch.NewPayload(200, []byte(`[]`)))}
	throttle := NewThrottle(next, DefaultConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := throttle.Execute(ctx, http.MethodGet, "http://example/shows?page=1")
	if r.ErrorKind() != fetch.KindTransport || !errors.Is(r.Err, context.Canceled) {
		t.Errorf("result = %+v, want cancelled transport error", r.Err)
	}
	if next.calls.Load() != 0 {
		t.Error("cancelled request must not reach the upstream")
	}
}

func TestThrottle_CancelWhileWaiting(t *testing.T) {
	next := &stubDoer{result: fetch.Ok(fetch.NewPayload(200, []byte(`[]`)))}
	// One slot per hour: the second call can only return through ctx.
	throttle := NewThrottle(next, Config{Rate: 1, Per: time.Hour}, zerolog.Nop())

	if r := throttle.Execute(context.Background(), http.MethodGet, "http://example/shows?page=1"); !r.IsSuccess() {
		t.Fatalf("first call failed: %v", r.Err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	r := throttle.Execute(ctx, http.MethodGet, "http://example/shows?page=2")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled wait took %v", elapsed)
	}
	if r.ErrorKind() != fetch.KindTransport || !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Errorf("result = %+v, want deadline transport error", r.Err)
	}
	if next.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", next.calls.Load())
	}
}

var _ fetch.Doer = (*Throttle)(nil)
