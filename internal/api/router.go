// Package api exposes booking wizards over HTTP.
package api

import (
	"context"
	"net/http"

	"respirakids/internal/ratelimit"
	"respirakids/internal/wizard"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Config holds router dependencies. Limiter, MetricsHandler, Ready and OnSuccess are optional.
type Config struct {
	Sessions       *wizard.SessionStore
	Logger         *zerolog.Logger
	Limiter        *ratelimit.Limiter
	MetricsHandler http.Handler
	Ready          func(ctx context.Context) error
	OnSuccess      func(sessionID, appointmentID string)
}

// NewRouter creates the chi router with all routes configured.
func NewRouter(cfg *Config) http.Handler {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = cfg.Logger.With().Str("component", "api").Logger()
	}
	h := &Handler{sessions: cfg.Sessions, logger: logger, onSuccess: cfg.OnSuccess}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Ready != nil {
			if err := cfg.Ready(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("readiness check failed")
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api/v1", func(api chi.Router) {
		if cfg.Limiter != nil {
			api.Use(RateLimit(cfg.Limiter))
		}
		api.Post("/schedules/{scheduleID}/wizard", h.Create)
		api.Route("/wizard/{sessionID}", func(wr chi.Router) {
			wr.Get("/", h.Get)
			wr.Delete("/", h.Delete)
			wr.Post("/phone", h.SubmitPhone)
			wr.Post("/code", h.VerifyCode)
			wr.Post("/code/resend", h.ResendCode)
			wr.Post("/select", h.Select)
			wr.Post("/next", h.Next)
			wr.Post("/back", h.Back)
			wr.Post("/reload", h.Reload)
			wr.Post("/confirm", h.Confirm)
		})
	})

	return r
}
