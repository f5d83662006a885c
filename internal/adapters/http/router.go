package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/viralforge/ppv-access-service/internal/application"
)

// Handler is the HTTP adapter entrypoint for the access use cases.
type Handler struct {
	service *application.Service
	ready   func(context.Context) error
}

type HandlerOption func(*Handler)

// WithReadiness sets the dependency check behind /readyz.
func WithReadiness(fn func(context.Context) error) HandlerOption {
	return func(h *Handler) { h.ready = fn }
}

func NewHandler(service *application.Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type RouterConfig struct {
	// RateLimitRequests per RateLimitWindow per client IP on the action endpoint.
	RateLimitRequests int
	RateLimitWindow   time.Duration
	// TrustedProxies may report the client address via X-Forwarded-For.
	// The resolved address keys the rate limiter and check_ip_access.
	TrustedProxies TrustedProxies
}

// NewRouter registers routes and the middleware stack.
func NewRouter(handler *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = 120
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(clientIPMiddleware(cfg.TrustedProxies))
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/jwks.json", handler.jwks)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", handler.listEvents)
		r.Get("/events/{event_id}", handler.getEvent)
		r.Post("/payments/webhook", handler.paymentWebhook)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(
				cfg.RateLimitRequests,
				cfg.RateLimitWindow,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) { return readIP(r), nil }),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeMappedError(w, r, "rate_limit", errRateLimited)
				}),
			))
			r.Post("/access", handler.action)
		})
	})

	return r
}
