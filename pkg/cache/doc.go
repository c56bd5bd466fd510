// Package cache keeps successful TVmaze responses in Redis so repeated
// imports do not re-fetch the whole catalog.
//
// Only 2xx GET responses are stored, keyed by endpoint and query, for a fixed
// TTL. Failures are never cached, so a rate-limited or broken call always
// reaches the upstream again on the next attempt.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	doer := cache.NewExecutor(fetch.NewExecutor(fetch.DefaultConfig()), manager, time.Hour, logger)
//
//	// doer satisfies fetch.Doer and can be handed to tvmaze.NewClient.
//	source := tvmaze.NewClient(doer, tvmaze.DefaultBaseURL)
//
// # Redis Outages
//
// A Redis error on lookup or store is logged and counted, and the request
// falls through to the wrapped Doer. The cache never turns a successful
// upstream call into a failure.
//
// # Metrics
//
//   - tvmaze_cache_hits_total{layer="redis"} - Cache hits
//   - tvmaze_cache_misses_total - Cache misses
//   - tvmaze_cache_size_bytes{layer="redis"} - Bytes written to and read from the cache
//   - tvmaze_cache_errors_total{operation} - Cache operation errors
package cache
