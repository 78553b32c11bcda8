package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/HMasataka/linehub/internal/logging"
	"github.com/HMasataka/linehub/internal/metrics"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/domain"
)

// accessLog logs one line per request
func accessLog(logger *logging.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()

			ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

// metricsMiddleware records request counts and latency by route pattern
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// requireReader rejects callers without a valid credential unless anonymous
// reads are allowed
func (a *api) requireReader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.options.AllowAnonymousRead {
			next.ServeHTTP(w, r)
			return
		}

		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" || a.options.Authenticator == nil {
			writeError(w, domain.ErrUnauthorized)
			return
		}
		if _, err := a.options.Authenticator.Authenticate(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}
