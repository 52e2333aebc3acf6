package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// NewRouter mounts the ops and admin routes. webhook may be nil when the
// bot long-polls; admin routes are mounted only when a JWT secret is set.
func NewRouter(apiHandler *APIHandler, webhook http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(apiHandler.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", apiHandler.HealthHandler)

		if webhook != nil {
			r.Post("/telegram/webhook", webhook)
		}

		if apiHandler.jwtSecret != "" {
			r.Group(func(r chi.Router) {
				r.Use(apiHandler.JWTAuthMiddleware)

				r.Get("/users/{tgID}", apiHandler.GetUserHandler)
				r.Get("/users/{tgID}/role", apiHandler.GetUserRoleHandler)
				r.Post("/users/{tgID}/promote", apiHandler.PromoteUserHandler)
				r.Delete("/history/{username}", apiHandler.ResetHistoryHandler)
			})
		}
	})

	return r
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
