// Package httpapi implements the inbound HTTP surface (component I): the
// Telegram webhook endpoint, a health check, a webhook stub, and the
// Prometheus scrape endpoint. Payment observation never rides this surface —
// it is driven entirely by the scheduler's Solana scan.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cedros-basket/checkout/internal/config"
	"github.com/cedros-basket/checkout/internal/logger"
	"github.com/cedros-basket/checkout/internal/metrics"
)

var serverStartTime = time.Now()

// UpdateSink hands a decoded Telegram update off to the bot's routing layer.
// Routing itself is out of scope here; httpapi only decodes and dispatches.
type UpdateSink interface {
	HandleUpdate(ctx context.Context, update []byte)
}

// Server wires handlers, middleware, and the HTTP listener.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	sink     UpdateSink
	logger   zerolog.Logger
}

// New builds the HTTP server with a configured router. gatherer is the
// Prometheus registry metrics was constructed against; it backs /metrics.
// sink may be nil until the bot finishes start-up, in which case the
// Telegram webhook answers 503 rather than silently dropping updates.
func New(cfg *config.Config, m *metrics.Metrics, gatherer prometheus.Gatherer, sink UpdateSink, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			metrics:  m,
			gatherer: gatherer,
			sink:     sink,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, s.handlers)

	return s
}

// ConfigureRouter attaches the checkout routes to an existing router.
func ConfigureRouter(router chi.Router, h handlers) {
	if router == nil {
		return
	}

	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(h.logger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	prefix := h.cfg.Server.RoutePrefix

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/health", h.health)
		r.With(adminMetricsAuth(h.cfg.Server.AdminMetricsAPIKey)).Handle(prefix+"/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	})

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Use(webhookRateLimit(h.cfg.Server.WebhookRateLimit, h.metrics))
		r.Post(prefix+"/telegram/{botToken}", h.telegramWebhook)
		r.HandleFunc(prefix+"/webhook", h.webhookStub)
	})
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Close adapts Shutdown to io.Closer for lifecycle.Manager registration.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
