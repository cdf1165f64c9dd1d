package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/maquinanerd/IAMN/internal/database"
	"github.com/maquinanerd/IAMN/internal/scheduler"
	"github.com/maquinanerd/IAMN/internal/server/api"
	"github.com/maquinanerd/IAMN/internal/storage"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// JobReporter exposes scheduled job state.
type JobReporter interface {
	Status() []scheduler.JobStatus
}

// Options describe the HTTP API.
type Options struct {
	APIKey    string
	FeedTitle string
	FeedLink  string
	// Jobs enables /v1/jobs when the API runs inside the scheduler process.
	Jobs JobReporter
}

// apiKeyMiddleware checks for the X-API-Key header and validates it against the provided key.
// If key is empty, it allows all requests. /health is always open.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			reqApiKey := r.Header.Get("X-API-Key")
			if reqApiKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}

			if reqApiKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler builds the routed, logged and optionally authenticated handler.
func NewHandler(repo api.ArticleReader, db Pinger, logger zerolog.Logger, opts Options) http.Handler {
	articles := api.NewArticlesHandler(repo, opts.FeedTitle, opts.FeedLink)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/articles", articles.GetArticles)
	mux.HandleFunc("GET /v1/articles/{id}/logs", articles.GetArticleLogs)
	mux.HandleFunc("GET /v1/stats", articles.GetStats)
	mux.HandleFunc("GET /v1/feed.rss", articles.GetFeed)
	mux.HandleFunc("GET /health", healthCheckHandler(db))
	if opts.Jobs != nil {
		mux.HandleFunc("GET /v1/jobs", jobsHandler(opts.Jobs))
	}

	var h http.Handler = mux
	// Rejected requests still pass through the access log.
	if opts.APIKey != "" {
		h = apiKeyMiddleware(opts.APIKey)(h)
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}

	// Set up middleware chain for logging and request tracking
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.NewHandler(logger)(h)

	return h
}

// RunServer serves the read-only API until ctx is cancelled, then shuts down gracefully.
func RunServer(ctx context.Context, db *database.DB, listenAddr string, logger zerolog.Logger, opts Options) error {
	// Add service identifier to the logger
	logger = logger.With().Str("service", "iamn-api-readonly").Logger()

	repo := storage.NewRepository(db)

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(repo, db, logger, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server failed to start")
			return err
		}

	case <-ctx.Done():
		logger.Info().Msg("Shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

func jobsHandler(jobs JobReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(jobs.Status()); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Error encoding job status")
		}
	}
}

// healthCheckHandler responds 200 OK while the database answers pings, 503 otherwise.
func healthCheckHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Health check request received")

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				log.Error().Err(err).Msg("Health check database ping failed")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		n, err := w.Write([]byte("OK"))
		if err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		} else {
			log.Debug().Int("bytes_written", n).Msg("Health check response sent")
		}
	}
}
