package httpapi

import (
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"thumbforge/internal/http/handlers"
	"thumbforge/internal/infra"
	"thumbforge/internal/middleware"
)

// NewRouter assembles the public HTTP surface. The provider webhook and the
// health check stay outside the authenticated group.
func NewRouter(app *handlers.App, cfg *infra.Config) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimiddleware.RealIP,
		chimiddleware.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS([]string{cfg.PublicBaseURL}),
	)

	r.Get("/v1/healthz", app.Health)
	r.Post("/v1/webhooks/replicate", app.ReplicateWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.Generate)
			r.Post("/variations", app.CreateVariation)
		})

		r.Route("/v1/jobs", func(r chi.Router) {
			r.Get("/{job_id}", app.GetJob)
			r.Post("/{job_id}/exports", app.RecordExport)
		})

		r.Route("/v1/identity", func(r chi.Router) {
			r.Get("/", app.IdentityStatus)
			r.Post("/photos", app.UploadIdentityPhotos)
			r.Delete("/photos/{photo_id}", app.DeleteIdentityPhoto)
			r.Post("/train", app.CommitIdentityTraining)
			r.Delete("/", app.ResetIdentityModel)
		})
	})

	return r
}
