package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// SetupRoutes configures the full route tree.
func SetupRoutes(h *Handlers, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-User-ID", "X-User-Email"},
		MaxAge:         300,
	}))

	r.Get("/health", h.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		// Caller identity rides on headers; every route below needs one.
		r.Group(func(r chi.Router) {
			r.Use(h.RequireIdentity)

			r.Get("/opportunities", h.HandleOpportunities)
			r.Get("/activities", h.HandleActivities)
			r.Get("/me/access", h.HandleAccessMatrix)
			r.Get("/me/dashboard", h.HandleDashboard)

			r.Post("/sync/trigger", h.HandleSyncTrigger)
		})

		r.Get("/sync/jobs", h.HandleSyncJobs)
		r.Get("/sync/jobs/{id}", h.HandleSyncJob)

		r.Route("/admin/projections", func(r chi.Router) {
			r.Get("/status", h.HandleProjectionStatus)
			r.Get("/{name}/status", h.HandleProjectionStatusOne)
			r.Post("/{name}/rebuild", h.HandleProjectionRebuild)
		})
	})

	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
			next.ServeHTTP(ww, req)
			log.Debug().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", ww.Status()).
				Msg("request")
		})
	}
}
