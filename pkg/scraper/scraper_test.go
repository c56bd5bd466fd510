package scraper

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
	"github.com/Sternrassler/tvmaze-scraper/pkg/retry"
	"github.com/rs/zerolog"
)

// fakeSource serves scripted results. When several results are scripted for
// a key they are served in order and the last one repeats. Unscripted pages
// are empty; unscripted casts are empty.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[int][]fetch.Result[[]model.Show]
	casts     map[int][]fetch.Result[[]model.CastMember]
	pageCalls map[int]int
	castCalls map[int]int
	events    []string

	// onPage runs before page n is served.
	onPage func(page int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:     make(map[int][]fetch.Result[[]model.Show]),
		casts:     make(map[int][]fetch.Result[[]model.CastMember]),
		pageCalls: make(map[int]int),
		castCalls: make(map[int]int),
	}
}

func (f *fakeSource) page(n int, results ...fetch.Result[[]model.Show]) *fakeSource {
	f.pages[n] = append(f.pages[n], results...)
	return f
}

func (f *fakeSource) cast(showID int, results ...fetch.Result[[]model.CastMember]) *fakeSource {
	f.casts[showID] = append(f.casts[showID], results...)
	return f
}

func (f *fakeSource) ShowPage(ctx context.Context, page int) fetch.Result[[]model.Show] {
	if f.onPage != nil {
		f.onPage(page)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.pageCalls[page]
	f.pageCalls[page] = n + 1
	f.events = append(f.events, fmt.Sprintf("page:%d", page))

	if ctx.Err() != nil {
		return fetch.Fail[[]model.Show](&fetch.FetchError{Kind: fetch.KindTransport, Err: ctx.Err()})
	}

	queue := f.pages[page]
	if len(queue) == 0 {
		return fetch.Ok([]model.Show{})
	}
	if n >= len(queue) {
		n = len(queue) - 1
	}
	// Copy so each call yields an independent slice.
	r := queue[n]
	if r.IsSuccess() {
		r.Value = append([]model.Show(nil), r.Value...)
	}
	return r
}

func (f *fakeSource) ShowCast(ctx context.Context, showID int) fetch.Result[[]model.CastMember] {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.castCalls[showID]
	f.castCalls[showID] = n + 1
	f.events = append(f.events, fmt.Sprintf("cast:%d", showID))

	queue := f.casts[showID]
	if len(queue) == 0 {
		return fetch.Ok([]model.CastMember{})
	}
	if n >= len(queue) {
		n = len(queue) - 1
	}
	return queue[n]
}

func (f *fakeSource) pageCallCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pageCalls[page]
}

func (f *fakeSource) castCallCount(showID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.castCalls[showID]
}

func (f *fakeSource) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func shows(items ...model.Show) fetch.Result[[]model.Show] {
	for i := range items {
		if items[i].Cast == nil {
			items[i].Cast = []model.CastMember{}
		}
	}
	return fetch.Ok(items)
}

func cast(members ...model.CastMember) fetch.Result[[]model.CastMember] {
	return fetch.Ok(members)
}

func showErr(kind fetch.ErrorKind) fetch.Result[[]model.Show] {
	return fetch.Fail[[]model.Show](&fetch.FetchError{Kind: kind, URL: "http://fake/shows"})
}

func castErr(kind fetch.ErrorKind) fetch.Result[[]model.CastMember] {
	return fetch.Fail[[]model.CastMember](&fetch.FetchError{Kind: kind, URL: "http://fake/cast"})
}

func date(s string) *string {
	return &s
}

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *delayRecorder) sleep(ctx context.Context, delay time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, delay)
	d.mu.Unlock()
	return ctx.Err()
}

var testRetryConfig = retry.Config{
	BaseDelay:  100 * time.Millisecond,
	MaxDelay:   400 * time.Millisecond,
	MaxRetries: 5,
}

func newTestScraper(src Source) (*Scraper, *delayRecorder) {
	rec := &delayRecorder{}
	policy := retry.NewPolicy(testRetryConfig, zerolog.Nop())
	policy.SetSleeper(rec.sleep)
	return New(src, policy, Config{MaxConcurrency: 3}, zerolog.Nop()), rec
}

func TestRun_SinglePageScenario(t *testing.T) {
	src := newFakeSource().
		page(1, shows(model.Show{ID: 1, Name: "Show A"})).
		page(2, shows()).
		cast(1, cast(model.CastMember{ID: 10, Name: "Actor X", Birthday: date("1980-01-01")}))

	s, _ := newTestScraper(src)
	items, terminal := s.Run(context.Background())

	if terminal != TerminalNone {
		t.Errorf("terminal = %q, want none", terminal)
	}
	expected := []model.Show{{
		ID:   1,
		Name: "Show A",
		Cast: []model.CastMember{{ID: 10, Name: "Actor X", Birthday: date("1980-01-01")}},
	}}
	if !reflect.DeepEqual(items, expected) {
		t.Errorf("items = %+v, want %+v", items, expected)
	}
}

func TestRun_MultiplePagesPreserveOrder(t *testing.T) {
	src := newFakeSource().
		page(1, shows(model.Show{ID: 5, Name: "E"}, model.Show{ID: 2, Name: "B"}, model.Show{ID: 9, Name: "I"})).
		page(2, shows(model.Show{ID: 1, Name: "A"}, model.Show{ID: 7, Name: "G"})).
		page(3, shows(model.Show{ID: 3, Name: "C"})).
		page(4, shows()).
		cast(5, cast(model.CastMember{ID: 50, Name: "p50"}, model.CastMember{ID: 51, Name: "p51", Birthday: date("1970-02-02")})).
		cast(2, cast(model.CastMember{ID: 20, Name: "p20"})).
		cast(7, cast(model.CastMember{ID: 72, Name: "p72"}, model.CastMember{ID: 70, Name: "p70"}, model.CastMember{ID: 71, Name: "p71"}))

	s, _ := newTestScraper(src)
	items, terminal := s.Run(context.Background())

	if terminal != TerminalNone {
		t.Fatalf("terminal = %q, want none", terminal)
	}

	var gotIDs []int
	for _, show := range items {
		gotIDs = append(gotIDs, show.ID)
	}
	if want := []int{5, 2, 9, 1, 7, 3}; !reflect.DeepEqual(gotIDs, want) {
		t.Errorf("show order = %v, want %v", gotIDs, want)
	}

	var castIDs []int
	for _, m := range items[4].Cast {
		castIDs = append(castIDs, m.ID)
	}
	if want := []int{72, 70, 71}; !reflect.DeepEqual(castIDs, want) {
		t.Errorf("cast order of show 7 = %v, want %v", castIDs, want)
	}
	if len(items[0].Cast) != 2 || len(items[2].Cast) != 0 {
		t.Errorf("cast attached to wrong shows: %+v", items)
	}

	for page := 1; page <= 4; page++ {
		if got := src.pageCallCount(page); got != 1 {
			t.Errorf("page %d requested %d times, want 1", page, got)
		}
	}
	if got := src.pageCallCount(5); got != 0 {
		t.Errorf("page 5 must not be requested after exhaustion, got %d calls", got)
	}
}

func TestRun_PagesAreSequential(t *testing.T) {
	src := newFakeSource().
		page(1, shows(model.Show{ID: 1}, model.Show{ID: 2}, model.Show{ID: 3}, model.Show{ID: 4})).
		page(2, shows(model.Show{ID: 5}, model.Show{ID: 6})).
		page(3, shows())

	s, _ := newTestScraper(src)
	if _, terminal := s.Run(context.Background()); terminal != TerminalNone {
		t.Fatalf("terminal = %q", terminal)
	}

	pageOf := map[string]int{"cast:1": 1, "cast:2": 1, "cast:3": 1, "cast:4": 1, "cast:5": 2, "cast:6": 2}
	current := 0
	for _, ev := range src.events {
		var n int
		if _, err := fmt.Sscanf(ev, "page:%d", &n); err == nil {
			current = n
			continue
		}
		if pageOf[ev] != current {
			t.Errorf("event %s happened while page %d was current: %v", ev, current, src.events)
		}
	}
}

func TestRun_RateLimitedPageScenario(t *testing.T) {
	src := newFakeSource().page(1, showErr(fetch.KindRateLimited))

	s, rec := newTestScraper(src)
	items, terminal := s.Run(context.Background())

	if terminal != TerminalRetry {
		t.Errorf("terminal = %q, want %q", terminal, TerminalRetry)
	}
	if len(items) != 0 {
		t.Errorf("items = %+v, want none", items)
	}
	if got, want := src.pageCallCount(1), testRetryConfig.MaxRetries+1; got != want {
		t.Errorf("page 1 requested %d times, want %d", got, want)
	}
	if src.pageCallCount(2) != 0 {
		t.Error("no further pages may be requested after a terminal error")
	}

	if len(rec.delays) != testRetryConfig.MaxRetries {
		t.Fatalf("delays = %v, want %d entries", rec.delays, testRetryConfig.MaxRetries)
	}
	for i, d := range rec.delays {
		if d > testRetryConfig.MaxDelay {
			t.Errorf("delay %d = %v exceeds cap", i, d)
		}
		if i > 0 && d < rec.delays[i-1] {
			t.Errorf("delays must be non-decreasing: %v", rec.delays)
		}
	}
}

func TestRun_RateLimitRecovers(t *testing.T) {
	src := newFakeSource().
		page(1,
			showErr(fetch.KindRateLimited),
			showErr(fetch.KindRateLimited),
			shows(model.Show{ID: 1, Name: "A"})).
		page(2, shows())

	s, rec := newTestScraper(src)
	items, terminal := s.Run(context.Background())

	if terminal != TerminalNone {
		t.Errorf("terminal = %q, want none", terminal)
	}
	if len(items) != 1 {
		t.Errorf("expected 1 show, got %d", len(items))
	}
	if src.pageCallCount(1) != 3 {
		t.Errorf("page 1 requested %d times, want 3", src.pageCallCount(1))
	}
	if len(rec.delays) != 2 {
		t.Errorf("delays = %v, want 2 entries", rec.delays)
	}
}

func TestRun_NonRetryablePageErrors(t *testing.T) {
	tests := []struct {
		name     string
		kind     fetch.ErrorKind
		expected TerminalError
	}{
		{name: "not found ends the catalog", kind: fetch.KindNotFound, expected: TerminalNone},
		{name: "server error", kind: fetch.KindServer, expected: TerminalUnknown},
		{name: "transport error", kind: fetch.KindTransport, expected: TerminalUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource().
				page(1, shows(model.Show{ID: 1, Name: "A"}, model.Show{ID: 2, Name: "B"})).
				page(2, showErr(tt.kind))

			s, rec := newTestScraper(src)
			items, terminal := s.Run(context.Background())

			if terminal != tt.expected {
				t.Errorf("terminal = %q, want %q", terminal, tt.expected)
			}
			if len(items) != 2 {
				t.Errorf("items from page 1 must survive, got %d", len(items))
			}
			if src.pageCallCount(2) != 1 {
				t.Errorf("page 2 requested %d times, want exactly 1", src.pageCallCount(2))
			}
			if src.pageCallCount(3) != 0 {
				t.Error("no page may follow a terminal error")
			}
			if len(rec.delays) != 0 {
				t.Errorf("no backoff expected, got %v", rec.delays)
			}
		})
	}
}

func TestRun_CastNotFoundSkipsShow(t *testing.T) {
	src := newFakeSource().
		page(1, shows(model.Show{ID: 1, Name: "A"}, model.Show{ID: 2, Name: "B"})).
		page(2, shows(model.Show{ID: 3, Name: "C"})).
		page(3, shows()).
		cast(1, castErr(fetch.KindNotFound)).
		cast(2, cast(model.CastMember{ID: 20, Name: "p20"})).
		cast(3, cast(model.CastMember{ID: 30, Name: "p30"}))

	s, _ := newTestScraper(src)
	items, terminal := s.Run(context.Background())

	if terminal != TerminalNone {
		t.Fatalf("terminal = %q, want none", terminal)
	}
	if len(items) != 3 {
		t.Fatalf("a missing cast must not end the run, got %d shows", len(items))
	}
	if len(items[0].Cast) != 0 {
		t.Errorf("show 1 cast = %+v, want empty", items[0].Cast)
	}
	if len(items[1].Cast) != 1 || len(items[2].Cast) != 1 {
		t.Errorf("other casts should be attached: %+v", items)
	}
	if src.castCallCount(1) != 1 {
		t.Errorf("cast 1 requested %d times, want 1", src.castCallCount(1))
	}
}

func TestRun_CastFailureStopsBeforePage(t *testing.T) {
	tests := []struct {
		name     string
		kind     fetch.ErrorKind
		expected TerminalError
		calls    int
	}{
		{name: "rate limit exhausted", kind: fetch.KindRateLimited, expected: TerminalRetry, calls: testRetryConfig.MaxRetries + 1},
		{name: "server error", kind: fetch.KindServer, expected: TerminalUnknown, calls: 1},
		{name: "transport error", kind: fetch.KindTransport, expected: TerminalUnknown, calls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource().
				page(1, shows(model.Show{ID: 1, Name: "A"})).
				page(2, shows(model.Show{ID: 2, Name: "B"})).
				cast(1, cast(model.CastMember{ID: 10, Name: "p10"})).
				cast(2, castErr(tt.kind))

			s, _ := newTestScraper(src)
			items, terminal := s.Run(context.Background())

			if terminal != tt.expected {
				t.Errorf("terminal = %q, want %q", terminal, tt.expected)
			}
			if len(items) != 1 || items[0].ID != 1 {
				t.Errorf("only page 1 should be kept, got %+v", items)
			}
			if len(items) == 1 && len(items[0].Cast) != 1 {
				t.Errorf("page 1 cast should stay attached, got %+v", items[0].Cast)
			}
			if got := src.castCallCount(2); got != tt.calls {
				t.Errorf("cast 2 requested %d times, want %d", got, tt.calls)
			}
			if src.pageCallCount(3) != 0 {
				t.Error("no page may follow a failed page")
			}
		})
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	src := newFakeSource().page(1, shows(model.Show{ID: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s, _ := newTestScraper(src)
	items, terminal := s.Run(ctx)

	if terminal != TerminalCancelled {
		t.Errorf("terminal = %q, want %q", terminal, TerminalCancelled)
	}
	if len(items) != 0 {
		t.Errorf("items = %+v, want none", items)
	}
	if src.totalCalls() != 0 {
		t.Errorf("no calls expected, got %d", src.totalCalls())
	}
}

func TestRun_CancelledMidRunKeepsItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource().
		page(1, shows(model.Show{ID: 1, Name: "A"})).
		page(2, shows(model.Show{ID: 2, Name: "B"})).
		page(3, shows())
	src.onPage = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	s, _ := newTestScraper(src)
	items, terminal := s.Run(ctx)

	if terminal != TerminalCancelled {
		t.Errorf("terminal = %q, want %q", terminal, TerminalCancelled)
	}
	if len(items) != 1 || items[0].ID != 1 {
		t.Errorf("page 1 should be kept, got %+v", items)
	}
	if src.pageCallCount(3) != 0 {
		t.Error("no page may be requested after cancellation")
	}
}

func TestRun_RunsAreIndependent(t *testing.T) {
	src := newFakeSource().
		page(1, shows(model.Show{ID: 1, Name: "A"})).
		page(2, shows())

	s, _ := newTestScraper(src)
	first, _ := s.Run(context.Background())
	second, _ := s.Run(context.Background())

	if !reflect.DeepEqual(first, second) {
		t.Errorf("second run = %+v, want %+v", second, first)
	}
	if src.pageCallCount(1) != 2 {
		t.Errorf("each run starts at page 1; got %d calls", src.pageCallCount(1))
	}
}

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name     string
		ctx      context.Context
		scope    scope
		kind     fetch.ErrorKind
		expected verdict
	}{
		{name: "page not found", ctx: context.Background(), scope: scopePage, kind: fetch.KindNotFound, expected: verdict{terminal: TerminalNone}},
		{name: "cast not found", ctx: context.Background(), scope: scopeCast, kind: fetch.KindNotFound, expected: verdict{skip: true}},
		{name: "page rate limited", ctx: context.Background(), scope: scopePage, kind: fetch.KindRateLimited, expected: verdict{terminal: TerminalRetry}},
		{name: "cast rate limited", ctx: context.Background(), scope: scopeCast, kind: fetch.KindRateLimited, expected: verdict{terminal: TerminalRetry}},
		{name: "server", ctx: context.Background(), scope: scopePage, kind: fetch.KindServer, expected: verdict{terminal: TerminalUnknown}},
		{name: "transport", ctx: context.Background(), scope: scopeCast, kind: fetch.KindTransport, expected: verdict{terminal: TerminalUnknown}},
		{name: "cancelled wins", ctx: cancelled, scope: scopePage, kind: fetch.KindNotFound, expected: verdict{terminal: TerminalCancelled}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.ctx, tt.scope, &fetch.FetchError{Kind: tt.kind})
			if got != tt.expected {
				t.Errorf("classify() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}

// gatedCastSource serves pages from fakeSource and runs every cast fetch
// through castFn, tracking how many are in flight.
type gatedCastSource struct {
	*fakeSource
	castFn func(ctx context.Context, showID int) fetch.Result[[]model.CastMember]

	mu       sync.Mutex
	inFlight int
	peak     int
	calls    int
}

func (g *gatedCastSource) ShowCast(ctx context.Context, showID int) fetch.Result[[]model.CastMember] {
	g.mu.Lock()
	g.calls++
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()
	return g.castFn(ctx, showID)
}

func pageOf(n int) fetch.Result[[]model.Show] {
	items := make([]model.Show, n)
	for i := range items {
		items[i] = model.Show{ID: i + 1, Name: fmt.Sprintf("Show %d", i+1)}
	}
	return shows(items...)
}

func TestRun_CastFetchesRespectConcurrencyLimit(t *testing.T) {
	const limit = 3
	src := &gatedCastSource{
		fakeSource: newFakeSource().page(1, pageOf(12)).page(2, shows()),
		castFn: func(ctx context.Context, _ int) fetch.Result[[]model.CastMember] {
			time.Sleep(20 * time.Millisecond)
			return cast()
		},
	}
	s := New(src, retry.NewPolicy(testRetryConfig, zerolog.Nop()), Config{MaxConcurrency: limit}, zerolog.Nop())

	items, terminal := s.Run(context.Background())

	if terminal != TerminalNone {
		t.Fatalf("terminal = %q, want none", terminal)
	}
	if len(items) != 12 {
		t.Errorf("got %d shows, want 12", len(items))
	}
	if src.calls != 12 {
		t.Errorf("cast calls = %d, want 12", src.calls)
	}
	if src.peak > limit {
		t.Errorf("peak in-flight cast fetches = %d, limit %d", src.peak, limit)
	}
	if src.peak < 2 {
		t.Errorf("peak in-flight cast fetches = %d, expected parallel fetches", src.peak)
	}
}

func TestRun_CastFailureCancelsSiblings(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		wantAtMost int
	}{
		{"sequential", 1, 1},
		{"parallel", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var notCancelled sync.Map
			src := &gatedCastSource{
				fakeSource: newFakeSource().page(1, pageOf(10)).page(2, shows()),
				castFn: func(ctx context.Context, showID int) fetch.Result[[]model.CastMember] {
					if showID == 1 {
						return castErr(fetch.KindServer)
					}
					select {
					case <-ctx.Done():
						return fetch.Fail[[]model.CastMember](&fetch.FetchError{Kind: fetch.KindTransport, Err: ctx.Err()})
					case <-time.After(5 * time.Second):
						notCancelled.Store(showID, true)
						return cast()
					}
				},
			}
			s := New(src, retry.NewPolicy(testRetryConfig, zerolog.Nop()), Config{MaxConcurrency: tt.limit}, zerolog.Nop())

			items, terminal := s.Run(context.Background())

			if terminal != TerminalUnknown {
				t.Errorf("terminal = %q, want %q", terminal, TerminalUnknown)
			}
			if len(items) != 0 {
				t.Errorf("failed page must not contribute shows, got %d", len(items))
			}
			if src.calls > tt.wantAtMost {
				t.Errorf("cast calls = %d, want at most %d", src.calls, tt.wantAtMost)
			}
			notCancelled.Range(func(k, _ any) bool {
				t.Errorf("cast fetch for show %v was not cancelled", k)
				return true
			})
			if got := src.pageCallCount(2); got != 0 {
				t.Errorf("page 2 requested %d times after a terminal failure", got)
			}
		})
	}
}

func TestNew_DefaultConcurrency(t *testing.T) {
	s := New(newFakeSource(), retry.NewPolicy(retry.DefaultConfig(), zerolog.Nop()), Config{}, zerolog.Nop())
	if s.config.MaxConcurrency != DefaultConfig().MaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", s.config.MaxConcurrency, DefaultConfig().MaxConcurrency)
	}
}
