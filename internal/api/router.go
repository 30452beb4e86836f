package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jakub-figat/chromatin/internal/api/handler"
	mw "github.com/jakub-figat/chromatin/internal/api/middleware"
	"github.com/jakub-figat/chromatin/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Jobs          *handler.Jobs
	Sequences     *handler.Sequences
}

// NewRouter builds the Chi router with middleware stack and all routes.
// Reads need the read scope, everything that changes state the write scope.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeRead))

			r.Get("/api/v1/jobs", orNotImplemented(jobsRoute(deps.Jobs, (*handler.Jobs).List)))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(jobsRoute(deps.Jobs, (*handler.Jobs).Get)))

			r.Get("/api/v1/sequences", orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).List)))
			r.Get("/api/v1/sequences/{sequenceID}", orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).Get)))
			r.Get("/api/v1/sequences/{sequenceID}/structure",
				orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).Structure)))
			r.Get("/api/v1/sequences/{sequenceID}/structure/download",
				orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).DownloadStructure)))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(mw.ScopeWrite))

			r.Post("/api/v1/jobs", orNotImplemented(jobsRoute(deps.Jobs, (*handler.Jobs).Submit)))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(jobsRoute(deps.Jobs, (*handler.Jobs).Cancel)))
			r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(jobsRoute(deps.Jobs, (*handler.Jobs).Delete)))

			r.Post("/api/v1/sequences", orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).Create)))
			r.Patch("/api/v1/sequences/{sequenceID}", orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).Update)))
			r.Delete("/api/v1/sequences/{sequenceID}", orNotImplemented(seqRoute(deps.Sequences, (*handler.Sequences).Delete)))
		})
	})

	return r
}

func jobsRoute(h *handler.Jobs, fn func(*handler.Jobs, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return func(w http.ResponseWriter, r *http.Request) { fn(h, w, r) }
}

func seqRoute(h *handler.Sequences, fn func(*handler.Sequences, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	if h == nil {
		return nil
	}
	return func(w http.ResponseWriter, r *http.Request) { fn(h, w, r) }
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
