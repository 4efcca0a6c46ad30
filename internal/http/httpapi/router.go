package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"storyforge/internal/http/handlers"
	"storyforge/internal/middleware"
)

func NewRouter(app *handlers.App) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Logger),
		middleware.CORS(nil),
		middleware.RateLimit(app.Config.RateLimitPerMin, time.Minute),
		middleware.Account,
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/operations", app.Operations)

	r.Route("/v1/stories", func(r chi.Router) {
		r.Post("/", app.CreateStory)
		r.Route("/{story_id}", func(r chi.Router) {
			r.Get("/", app.GetStory)
			r.Patch("/beats/{index}", app.PatchBeat)
			r.Post("/finalize", app.FinalizeStory)
			r.Get("/assets", app.StoryAssets)
			r.Get("/assets.zip", app.StoryAssetsZip)
		})
	})

	return r
}
