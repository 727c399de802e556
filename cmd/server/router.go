package main

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/verbatimhq/verbatim-api/internal/api"
	apiMiddleware "github.com/verbatimhq/verbatim-api/internal/api/middleware"
)

// setupRouter configures the application router with all routes and
// middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	authMiddleware, err := apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)
	if err != nil {
		// Config validation requires a non-empty secret, so this only
		// fires if wiring order is broken.
		panic(fmt.Sprintf("failed to create auth middleware: %v", err))
	}

	processHandler := api.NewProcessHandler(app.orchestrator, app.logger)
	adminHandler := api.NewAdminHandler(app.queue, app.breaker, app.quotaManager, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Post("/process/run", processHandler.RunBatch)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/jobs", adminHandler.ListJobs)
				r.Get("/jobs/{id}", adminHandler.GetJob)
				r.Post("/jobs/{id}/cancel", adminHandler.CancelJob)
				r.Post("/jobs/run", adminHandler.RunJobs)
				r.Get("/queue/stats", adminHandler.QueueStats)
				r.Get("/circuit", adminHandler.CircuitStatus)
				r.Get("/quota/{userID}", adminHandler.QuotaStatus)
			})
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("Failed to write health check response", "error", err)
		}
	})

	return r
}
