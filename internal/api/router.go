// Package api exposes the service's HTTP surface: the send endpoint, the
// Messenger webhook, page credential management, health, and metrics.
package api

import (
	"io"
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crowdesk/messenger/internal/config"
	"github.com/crowdesk/messenger/internal/database"
	"github.com/crowdesk/messenger/internal/dispatch"
	"github.com/crowdesk/messenger/internal/logger"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg *config.Config, store database.Store, dispatcher *dispatch.Dispatcher, log *slog.Logger) *chi.Mux {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := chi.NewRouter()

	r.Use(metricsMiddleware)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logger.Middleware(log))
	r.Use(chimw.Recoverer)

	h := NewHandler(cfg, store, dispatcher, log)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)

	// Messenger webhook: verification handshake + inbound events.
	r.Get("/webhook", h.VerifyWebhook)
	r.Post("/webhook", h.ReceiveWebhook)

	r.Route("/api", func(r chi.Router) {
		r.Post("/messages/send", h.SendMessage)
		r.Post("/pages", h.ConnectPage)
		r.Delete("/pages/{pageID}", h.DisconnectPage)
	})

	return r
}
