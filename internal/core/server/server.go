// Package server wires the run API onto a chi router and serves it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/manning-roughness/internal/core/config"
	"github.com/mohammed-shakir/manning-roughness/internal/core/health"
	middleware "github.com/mohammed-shakir/manning-roughness/internal/core/middleware"
	"github.com/mohammed-shakir/manning-roughness/internal/core/router"
)

// Deps are the handlers' collaborators. History and Metrics are optional.
type Deps struct {
	Runs    router.RunService
	History router.HistoryReader
	Ready   map[string]health.Check
	Metrics http.Handler
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready, 2*time.Second))
	if d.Metrics != nil {
		r.Get("/metrics", d.Metrics.ServeHTTP)
	}
	r.Post("/runs", router.HandleRun(logger, d.Runs))
	if d.History != nil {
		r.Get("/runs", router.HandleHistory(logger, d.History))
	}
	return r
}

// WriteTimeout leaves room for the slowest external tool call of a run,
// which may span several stages.
func WriteTimeout(cfg config.Config) time.Duration {
	if cfg.ExternalTimeout <= 0 {
		return 60 * time.Second
	}
	return 3*cfg.ExternalTimeout + 30*time.Second
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      WriteTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
