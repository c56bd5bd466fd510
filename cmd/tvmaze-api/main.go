// Command tvmaze-api serves the stored catalog over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/Sternrassler/tvmaze-scraper/pkg/config"
	"github.com/Sternrassler/tvmaze-scraper/pkg/logging"
	"github.com/Sternrassler/tvmaze-scraper/pkg/metrics"
	"github.com/Sternrassler/tvmaze-scraper/pkg/model"
	"github.com/Sternrassler/tvmaze-scraper/pkg/store"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

const (
	defaultLimit  = 100
	defaultOffset = 0

	// maxLimit bounds the page size a client may request.
	maxLimit = 1000
)

// ShowLister is the read side of the store.
type ShowLister interface {
	ListShows(ctx context.Context, limit, offset int) ([]model.Show, error)
}

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a YAML config file")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}

	logging.Setup(cfg.Log.Logging())
	logger := logging.NewLogger("tvmaze-api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create schema")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           newMux(db, db, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Graceful shutdown failed")
		}
	}()

	logger.Info().Str("addr", server.Addr).Msg("Starting catalog API")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server failed")
	}
	logger.Info().Msg("Server stopped")
}

func newMux(lister ShowLister, pinger Pinger, logger zerolog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(pinger))
	mux.HandleFunc("GET /shows", showsHandler(lister, logger))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := pinger.Ping(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "READY")
	}
}

// showsHandler serves GET /shows?limit=N&offset=M.
func showsHandler(lister ShowLister, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := intParam(r, "limit", defaultLimit, maxLimit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		offset, err := intParam(r, "offset", defaultOffset, math.MaxInt32)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		shows, err := lister.ListShows(r.Context(), limit, offset)
		if err != nil {
			logger.Error().Err(err).Int("limit", limit).Int("offset", offset).Msg("Listing shows failed")
			http.Error(w, "failed to list shows", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(shows); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}

// intParam parses an integer query parameter in [0, upper].
func intParam(r *http.Request, name string, fallback, upper int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 || v > upper {
		return 0, fmt.Errorf("%s must be an integer between 0 and %d", name, upper)
	}
	return v, nil
}
