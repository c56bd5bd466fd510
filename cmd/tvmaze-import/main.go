// Command tvmaze-import scrapes the TVmaze catalog once and stores it in
// PostgreSQL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/tvmaze-scraper/pkg/cache"
	"github.com/Sternrassler/tvmaze-scraper/pkg/config"
	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/Sternrassler/tvmaze-scraper/pkg/importer"
	"github.com/Sternrassler/tvmaze-scraper/pkg/logging"
	"github.com/Sternrassler/tvmaze-scraper/pkg/ratelimit"
	"github.com/Sternrassler/tvmaze-scraper/pkg/retry"
	"github.com/Sternrassler/tvmaze-scraper/pkg/scraper"
	"github.com/Sternrassler/tvmaze-scraper/pkg/store"
	"github.com/Sternrassler/tvmaze-scraper/pkg/tvmaze"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// Exit codes.
const (
	exitOK        = 0
	exitPersist   = 1
	exitConfig    = 2
	exitPartial   = 3
	exitCancelled = 130
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(exitConfig)
	}

	logging.Setup(cfg.Log.Logging())
	logger := logging.NewLogger("tvmaze-import")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, logger)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) int {
	db, err := store.Open(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open database")
		return exitConfig
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		logger.Error().Err(err).Str("host", cfg.Database.Host).Msg("Failed to connect to database")
		return exitConfig
	}
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to create schema")
		return exitConfig
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			// The cache is optional; run without it.
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("Redis unavailable, caching disabled")
			redisClient = nil
		} else {
			logger.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("Response cache enabled")
		}
	}

	source := tvmaze.NewClient(newDoer(cfg, redisClient, logger), cfg.Upstream.BaseURL)
	report, err := runImport(ctx, source, db, cfg, logger)
	return exitCode(report, err)
}

// newDoer stacks the request path: executor, then throttle, then the cache
// when a Redis client is given. Cache hits do not consume throttle slots.
func newDoer(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) fetch.Doer {
	var doer fetch.Doer = fetch.NewExecutor(fetch.Config{
		UserAgent: cfg.Upstream.UserAgent,
		Timeout:   cfg.Upstream.Timeout,
	})
	doer = ratelimit.NewThrottle(doer, cfg.Throttle, logger.With().Str("component", "throttle").Logger())

	if redisClient != nil {
		doer = cache.NewExecutor(doer, cache.NewManager(redisClient), cfg.Redis.TTL,
			logger.With().Str("component", "cache").Logger())
	}
	return doer
}

func runImport(ctx context.Context, source scraper.Source, sink importer.Sink, cfg *config.Config, logger zerolog.Logger) (importer.Report, error) {
	policy := retry.NewPolicy(cfg.Retry, logger.With().Str("component", "retry").Logger())
	s := scraper.New(source, policy, cfg.Scraper, logger.With().Str("component", "scraper").Logger())
	im := importer.New(s, sink, logger.With().Str("component", "importer").Logger())

	return im.Import(ctx)
}

// exitCode maps the outcome of an import to the process status. A partial
// run is persisted but still reported as a failure.
func exitCode(report importer.Report, err error) int {
	switch {
	case err != nil:
		return exitPersist
	case report.Terminal == scraper.TerminalCancelled:
		return exitCancelled
	case report.Partial():
		return exitPartial
	default:
		return exitOK
	}
}
