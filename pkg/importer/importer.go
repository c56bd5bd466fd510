// Package importer runs one catalog scrape and hands the result to the
// persistence layer.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
	"github.com/Sternrassler/tvmaze-scraper/pkg/scraper"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Runner produces the catalog. *scraper.Scraper implements it.
type Runner interface {
	Run(ctx context.Context) ([]model.Show, scraper.TerminalError)
}

// Sink is the persistence collaborator. Every method must be idempotent.
type Sink interface {
	UpsertShow(ctx context.Context, id int, name string) error
	UpsertCastMember(ctx context.Context, id int, name string, birthday *string) error
	LinkShowToCast(ctx context.Context, showID, castMemberID int) error
}

// Report summarises one import.
type Report struct {
	// RunID tags the log lines of one import.
	RunID       string
	Shows       int
	CastMembers int
	Links       int
	Terminal    scraper.TerminalError
	Duration    time.Duration
}

// Partial reports whether the scrape stopped on an error. The persisted
// rows are still valid.
func (r Report) Partial() bool {
	return !r.Terminal.IsNone()
}

// Importer wires a Runner to a Sink.
type Importer struct {
	runner Runner
	sink   Sink
	logger zerolog.Logger
}

// New creates an importer.
func New(runner Runner, sink Sink, logger zerolog.Logger) *Importer {
	return &Importer{runner: runner, sink: sink, logger: logger}
}

// Import scrapes once and persists everything collected, including the
// items of a run that ended with a terminal error. The error return is
// reserved for persistence failures.
func (im *Importer) Import(ctx context.Context) (Report, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := im.logger.With().Str("run_id", runID).Logger()

	logger.Info().Msg("Import started")
	shows, terminal := im.runner.Run(ctx)
	report := Report{RunID: runID, Terminal: terminal}

	if terminal == scraper.TerminalCancelled {
		// The run context is gone; persist on a fresh one so the collected
		// items are not lost.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
	}

	if err := Persist(ctx, im.sink, shows, &report); err != nil {
		report.Duration = time.Since(start)
		logger.Error().
			Err(err).
			Int("shows", report.Shows).
			Msg("Persisting catalog failed")
		return report, err
	}
	report.Duration = time.Since(start)

	event := logger.Info()
	if report.Partial() {
		event = logger.Warn()
	}
	event.
		Int("shows", report.Shows).
		Int("cast_members", report.CastMembers).
		Int("links", report.Links).
		Str("terminal", report.Terminal.String()).
		Dur("duration", report.Duration).
		Msg("Import finished")

	return report, nil
}

// Persist writes shows to sink: once per show, once per distinct cast
// member, once per show/cast pair. Counters in report are updated as rows
// are written.
func Persist(ctx context.Context, sink Sink, shows []model.Show, report *Report) error {
	seenMembers := make(map[int]struct{})
	seenLinks := make(map[[2]int]struct{})

	for _, show := range shows {
		if err := sink.UpsertShow(ctx, show.ID, show.Name); err != nil {
			return fmt.Errorf("upsert show %d: %w", show.ID, err)
		}
		report.Shows++

		for _, member := range show.Cast {
			if _, ok := seenMembers[member.ID]; !ok {
				if err := sink.UpsertCastMember(ctx, member.ID, member.Name, member.Birthday); err != nil {
					return fmt.Errorf("upsert cast member %d: %w", member.ID, err)
				}
				seenMembers[member.ID] = struct{}{}
				report.CastMembers++
			}

			link := [2]int{show.ID, member.ID}
			if _, ok := seenLinks[link]; ok {
				continue
			}
			if err := sink.LinkShowToCast(ctx, show.ID, member.ID); err != nil {
				return fmt.Errorf("link show %d to cast member %d: %w", show.ID, member.ID, err)
			}
			seenLinks[link] = struct{}{}
			report.Links++
		}
	}

	return nil
}
