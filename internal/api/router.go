package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cookshelf/internal/recipeservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *recipeservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Index and collection.
	r.Get("/recipes", h.ListRecipes)
	r.Post("/recipes", h.CreateRecipe)
	r.Get("/recipes/rebuild-index", h.RebuildIndex)
	r.Get("/recipes/directory", h.ListDirectories)
	r.Post("/recipes/directory/subdir", h.CreateDirectory)

	// Single recipe by path.
	r.Get("/recipe/*", h.GetRecipe)
	r.Post("/recipe/*", h.SaveRecipe)
	r.Put("/recipe/*", h.UpdateRecipe)
	r.Patch("/recipe/*", h.MoveRecipe)
	r.Delete("/recipe/*", h.DeleteRecipe)

	r.Get("/catalog", h.Catalog)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
