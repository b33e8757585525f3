// Package server assembles the HTTP routes and runs the console server.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/quellabs/objectquel/internal/quel"
	"github.com/quellabs/objectquel/internal/repl"
	"github.com/quellabs/objectquel/internal/repl/session"
)

// Config holds server configuration.
type Config struct {
	Addr            string
	Engine          *quel.Engine
	Logger          *slog.Logger
	SessionMaxAge   time.Duration
	SessionIdle     time.Duration
	CleanupInterval time.Duration
}

// NewRouter registers the health check and console routes.
func NewRouter(engine *quel.Engine, sessions *session.Manager, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	repl.RegisterRoutes(r, engine, sessions, logger)
	return r
}

// requestLogger logs one debug line per request.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"elapsed", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	sessions := session.NewManager(cfg.SessionMaxAge, cfg.SessionIdle)
	go sessions.RunCleanup(ctx, cfg.CleanupInterval)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(cfg.Engine, sessions, cfg.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	cfg.Logger.Info("starting console server", "addr", cfg.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
