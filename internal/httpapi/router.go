package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"webchat/backend/internal/config"
	"webchat/backend/internal/logger"
	"webchat/backend/internal/metrics"
)

func NewRouter(cfg config.Config, a Assistant, m *metrics.Metrics, log *logger.Logger) http.Handler {
	h := NewHandler(cfg, a, log)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(h.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Healthz)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/models", h.ListModels)

		v1.Post("/sessions", h.CreateSession)
		v1.Route("/sessions/{sessionID}", func(s chi.Router) {
			s.Get("/turns", h.ListTurns)
			s.Post("/messages", h.SessionMessages)
		})

		v1.Post("/search/plan", h.PlanSearch)
		v1.Post("/research", h.Research)
		v1.Post("/requests/{requestID}/cancel", h.CancelRequest)
	})

	return r
}

// requestLogger logs one line per request and tags the context with chi's
// request id.
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ctx := r.Context()
			if id := chimw.GetReqID(ctx); id != "" {
				ctx = logger.WithRequestID(ctx, id)
			}
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			log.WithContext(ctx).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(started).Milliseconds(),
			)
		})
	}
}
