// Package httpapi is the read-only HTTP surface of the hub: line listing and
// message history for clients without a live gateway connection, plus health
// and metrics endpoints. The gateway endpoint is mounted on the same router.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/domain"
)

// History limits for the message endpoint
const (
	DefaultHistoryLimit = 120
	MaxHistoryLimit     = 250
)

// Hub is the read side of the hub
type Hub interface {
	GetLines(ctx context.Context) ([]domain.LineSummary, error)
	GetMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error)
	Stats(ctx context.Context) domain.HubStats
}

// Options configures the router
type Options struct {
	Authenticator      auth.Authenticator
	AllowAnonymousRead bool
	AllowedOrigins     []string
	DefaultLimit       int
	MaxLimit           int
	// GatewayPath mounts Gateway when both are set
	GatewayPath string
	Gateway     http.Handler
	Logger      *logging.Logger
}

type api struct {
	hub     Hub
	options Options
	logger  *logging.Logger
}

// NewRouter creates the HTTP router
func NewRouter(h Hub, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxHistoryLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultHistoryLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	a := &api{hub: h, options: opts, logger: opts.Logger.Component("http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsMiddleware)
	r.Use(accessLog(a.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(a.requireReader)
		r.Get("/lines", a.listLines)
		r.Get("/lines/{lineID}/messages", a.listMessages)
	})

	if opts.GatewayPath != "" && opts.Gateway != nil {
		r.Handle(opts.GatewayPath, opts.Gateway)
	}

	return r
}
