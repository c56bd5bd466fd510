// Package scraper drives the paged catalog walk: one page at a time, each
// page followed by the cast of every show on it, every call under the retry
// policy. The walk is an explicit state machine over RunStatus.
package scraper

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
	"github.com/Sternrassler/tvmaze-scraper/pkg/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for scraper runs.
var (
	pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_pages_total",
		Help: "Catalog pages processed by result",
	}, []string{"result"})

	showsCollectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvmaze_shows_collected_total",
		Help: "Shows collected with their cast",
	})

	castSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tvmaze_cast_skipped_total",
		Help: "Shows whose cast endpoint answered 404",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tvmaze_runs_total",
		Help: "Completed scraper runs by terminal error",
	}, []string{"terminal"})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tvmaze_run_duration_seconds",
		Help:    "Scraper run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})
)

// Source is the upstream catalog.
type Source interface {
	ShowPage(ctx context.Context, page int) fetch.Result[[]model.Show]
	ShowCast(ctx context.Context, showID int) fetch.Result[[]model.CastMember]
}

// Config holds scraper settings.
type Config struct {
	// MaxConcurrency bounds parallel cast fetches within one page.
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// DefaultConfig returns the default scraper configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

// Scraper walks the catalog. A Scraper keeps no state between runs.
type Scraper struct {
	source Source
	policy *retry.Policy
	config Config
	logger zerolog.Logger
}

// New creates a scraper.
func New(source Source, policy *retry.Policy, cfg Config, logger zerolog.Logger) *Scraper {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Scraper{
		source: source,
		policy: policy,
		config: cfg,
		logger: logger,
	}
}

// Run walks the catalog from page 1 until it is exhausted or a call fails
// terminally. The returned shows are valid even when the terminal error is
// set; they are everything collected before the stop.
func (s *Scraper) Run(ctx context.Context) ([]model.Show, TerminalError) {
	start := time.Now()
	status := initialStatus()

	s.logger.Info().Msg("Starting catalog scrape")

	for status.State == StateRunning {
		status = s.step(ctx, status)
	}

	runsTotal.WithLabelValues(status.Terminal.String()).Inc()
	runDuration.Observe(time.Since(start).Seconds())

	event := s.logger.Info()
	if !status.Terminal.IsNone() {
		event = s.logger.Warn()
	}
	event.
		Str("state", status.State.String()).
		Str("terminal", status.Terminal.String()).
		Int("pages", status.CurrentPage-1).
		Int("shows", len(status.Items)).
		Dur("duration", time.Since(start)).
		Msg("Catalog scrape finished")

	return status.Items, status.Terminal
}

// step performs one transition out of StateRunning.
func (s *Scraper) step(ctx context.Context, status RunStatus) RunStatus {
	if ctx.Err() != nil {
		return status.fail(TerminalCancelled)
	}

	page := status.CurrentPage
	result := retry.Do(ctx, s.policy, "page", func(ctx context.Context) fetch.Result[[]model.Show] {
		return s.source.ShowPage(ctx, page)
	})
	if !result.IsSuccess() {
		v := classify(ctx, scopePage, result.Err)
		s.logStop(page, result.Err, v.terminal)
		if v.terminal.IsNone() {
			pagesTotal.WithLabelValues("exhausted").Inc()
		} else {
			pagesTotal.WithLabelValues(v.terminal.String()).Inc()
		}
		return status.fail(v.terminal)
	}

	shows := result.Value
	if len(shows) == 0 {
		s.logger.Info().Int("page", page).Msg("Empty page, catalog exhausted")
		pagesTotal.WithLabelValues("exhausted").Inc()
		return status.done()
	}

	if terminal := s.hydrate(ctx, page, shows); !terminal.IsNone() {
		pagesTotal.WithLabelValues(terminal.String()).Inc()
		return status.fail(terminal)
	}

	pagesTotal.WithLabelValues("ok").Inc()
	showsCollectedTotal.Add(float64(len(shows)))
	s.logger.Info().
		Int("page", page).
		Int("shows", len(shows)).
		Int("total", len(status.Items)+len(shows)).
		Msg("Page collected")

	return status.collect(shows)
}

// castFailure carries the verdict of the first failed cast fetch of a page.
type castFailure struct {
	showID   int
	terminal TerminalError
	err      *fetch.FetchError
}

func (f *castFailure) Error() string {
	return f.err.Error()
}

func (f *castFailure) Unwrap() error {
	return f.err
}

// hydrate attaches the cast to every show of a page in place. Each goroutine
// writes only its own slot. The first terminal failure cancels the remaining
// fetches of the page.
func (s *Scraper) hydrate(ctx context.Context, page int, shows []model.Show) TerminalError {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxConcurrency)

	for i := range shows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			showID := shows[i].ID
			result := retry.Do(gctx, s.policy, "cast", func(ctx context.Context) fetch.Result[[]model.CastMember] {
				return s.source.ShowCast(ctx, showID)
			})
			if result.IsSuccess() {
				shows[i] = shows[i].WithCast(result.Value)
				return nil
			}
			if ctx.Err() == nil && gctx.Err() != nil && fetch.IsCancellation(result.Err) {
				// Aborted by a sibling failure, which is the one reported.
				return nil
			}

			v := classify(ctx, scopeCast, result.Err)
			if v.skip {
				castSkippedTotal.Inc()
				s.logger.Debug().
					Int("page", page).
					Int("show_id", showID).
					Msg("Cast not found, keeping empty cast")
				return nil
			}
			return &castFailure{showID: showID, terminal: v.terminal, err: result.Err}
		})
	}

	err := g.Wait()
	if err == nil {
		if ctx.Err() != nil {
			return TerminalCancelled
		}
		return TerminalNone
	}

	var failure *castFailure
	if !errors.As(err, &failure) {
		return TerminalUnknown
	}
	s.logger.Warn().
		Err(failure.err).
		Int("page", page).
		Int("show_id", failure.showID).
		Str("terminal", failure.terminal.String()).
		Msg("Cast fetch failed, stopping before this page")
	return failure.terminal
}

func (s *Scraper) logStop(page int, err *fetch.FetchError, terminal TerminalError) {
	if terminal.IsNone() {
		s.logger.Info().
			Int("page", page).
			Int("status", err.StatusCode).
			Msg("Page not found, catalog exhausted")
		return
	}
	s.logger.Warn().
		Err(err).
		Int("page", page).
		Str("error_kind", string(err.Kind)).
		Str("terminal", terminal.String()).
		Msg("Page fetch failed")
}

// scope distinguishes page fetches from per-show cast fetches.
type scope int

const (
	scopePage scope = iota
	scopeCast
)

// verdict is the run-level consequence of a final call error.
type verdict struct {
	// skip continues the run without the missing resource.
	skip bool

	// terminal is the stop tag when skip is false. TerminalNone with skip
	// false is normal exhaustion.
	terminal TerminalError
}

// classify is the only place a final FetchError is turned into a run outcome.
// ctx is the run context: when it is done, every failure reads as
// cancellation.
func classify(ctx context.Context, sc scope, err *fetch.FetchError) verdict {
	if ctx.Err() != nil {
		return verdict{terminal: TerminalCancelled}
	}

	switch err.Kind {
	case fetch.KindNotFound:
		if sc == scopeCast {
			return verdict{skip: true}
		}
		return verdict{terminal: TerminalNone}
	case fetch.KindRateLimited:
		return verdict{terminal: TerminalRetry}
	case fetch.KindServer, fetch.KindTransport:
		return verdict{terminal: TerminalUnknown}
	default:
		return verdict{terminal: TerminalUnknown}
	}
}
