package httpserver

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/praxislabs/session-notifier/internal/http/handlers"
	"github.com/praxislabs/session-notifier/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter assembles the HTTP surface. Callback endpoints are exempt
// from the bearer token: the queue authenticates them with a signature
// header instead.
func NewRouter(deps RouterDependencies) http.Handler {
	router := chi.NewRouter()

	router.Get("/healthz", deps.API.Health)

	router.Route("/v1", func(r chi.Router) {
		r.Post("/notifications/schedule", deps.API.ScheduleSession)
		r.Post("/notifications/schedule-bulk", deps.API.ScheduleBulk)
		r.Post("/notifications/callback", deps.API.SuccessCallback)
		r.Post("/notifications/failure", deps.API.FailureCallback)
		r.Get("/notifications/status", deps.API.Status)
		r.Get("/notifications/dead-letters", deps.API.DeadLetters)

		r.Get("/batches/{id}/jobs", deps.API.BatchJobs)

		r.Get("/jobs/{id}", deps.API.GetJob)
		r.Post("/jobs/{id}/retry", deps.API.RetryJob)
		r.Post("/jobs/{id}/resend", deps.API.ResendJob)

		r.Post("/admin/recalculate", deps.API.Recalculate)
	})

	handler := http.Handler(router)
	handler = middleware.Auth(deps.AuthToken,
		"/v1/notifications/callback",
		"/v1/notifications/failure",
	)(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
