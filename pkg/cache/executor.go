package cache

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/fetch"
	"github.com/rs/zerolog"
)

// DefaultTTL is used when NewExecutor is given a non-positive TTL.
const DefaultTTL = time.Hour

// Executor is a fetch.Doer that serves successful GET responses from Redis
// and stores fresh ones.
type Executor struct {
	next    fetch.Doer
	manager *Manager
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewExecutor wraps next with a Redis cache.
func NewExecutor(next fetch.Doer, manager *Manager, ttl time.Duration, logger zerolog.Logger) *Executor {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Executor{
		next:    next,
		manager: manager,
		ttl:     ttl,
		logger:  logger,
	}
}

// Execute implements fetch.Doer.
func (e *Executor) Execute(ctx context.Context, method, rawURL string) fetch.Result[fetch.Payload] {
	if method != http.MethodGet {
		return e.next.Execute(ctx, method, rawURL)
	}

	key, err := KeyFromURL(rawURL)
	if err != nil {
		return e.next.Execute(ctx, method, rawURL)
	}

	entry, err := e.manager.Get(ctx, key)
	switch {
	case err == nil:
		e.logger.Debug().
			Str("key", key.String()).
			Dur("age", time.Since(entry.CachedAt)).
			Msg("Cache hit")
		return fetch.Ok(fetch.NewPayload(entry.StatusCode, entry.Body))
	case !errors.Is(err, ErrCacheMiss):
		e.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Msg("Cache lookup failed, fetching from upstream")
	}

	result := e.next.Execute(ctx, method, rawURL)
	if !result.IsSuccess() {
		return result
	}

	payload := result.Value
	if err := e.manager.Set(ctx, key, NewEntry(payload.StatusCode, payload.Body, e.ttl)); err != nil {
		e.logger.Warn().
			Err(err).
			Str("key", key.String()).
			Msg("Failed to store response in cache")
	}

	return result
}
