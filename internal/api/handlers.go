package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/cookshelf/internal/checksum"
	"github.com/starford/cookshelf/internal/recipeservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *recipeservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *recipeservice.Service) *Handler {
	return &Handler{svc: svc}
}

// recipePath extracts the recipe path from the URL (everything after /api/recipe/).
//
// chi routes on r.URL.RawPath when the request carried escapes that decoding
// would lose (e.g. lunch%2FSoup), and on the already decoded r.URL.Path
// otherwise. The wildcard is unescaped only in the first case so that a
// literal % in a segment survives.
func recipePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" || r.URL.RawPath == "" {
		return raw
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListRecipes handles GET /api/recipes.
//
//	@Summary		List indexed recipes, scanning the store on first use
//	@Tags			recipes
//	@Produce		json
//	@Param			tag	query		string	false	"Filter by tag"
//	@Success		200	{object}	RecipeListResponse
//	@Security		BearerAuth
//	@Router			/recipes [get]
func (h *Handler) ListRecipes(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListRecipes(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		writeError(w, "list recipes", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(entries))
}

// RebuildIndex handles GET /api/recipes/rebuild-index.
//
//	@Summary		Rescan every recipe and return the fresh index
//	@Tags			recipes
//	@Produce		json
//	@Success		200	{object}	RebuildResponse
//	@Security		BearerAuth
//	@Router			/recipes/rebuild-index [get]
func (h *Handler) RebuildIndex(w http.ResponseWriter, r *http.Request) {
	entries, report, err := h.svc.RebuildIndex(r.Context())
	if err != nil {
		writeError(w, "rebuild index", err)
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{
		RecipeListResponse: listResponse(entries),
		Skipped:            report.Skipped,
	})
}

// CreateRecipe handles POST /api/recipes.
//
//	@Summary		Create a recipe, appending " (n)" to the name if it is taken
//	@Tags			recipes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateRecipeRequest	true	"Recipe to create"
//	@Success		201		{object}	NameResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipes [post]
func (h *Handler) CreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req CreateRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.CreateRecipe(r.Context(), *req.Dir, *req.Name, *req.Content)
	if err != nil {
		writeError(w, "create recipe", err, slog.String("dir", *req.Dir), slog.String("name", *req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// ListDirectories handles GET /api/recipes/directory.
//
//	@Summary		List recipe directories
//	@Tags			directories
//	@Produce		json
//	@Success		200	{array}	string
//	@Security		BearerAuth
//	@Router			/recipes/directory [get]
func (h *Handler) ListDirectories(w http.ResponseWriter, r *http.Request) {
	dirs, err := h.svc.ListDirectories(r.Context())
	if err != nil {
		writeError(w, "list directories", err)
		return
	}
	writeJSON(w, http.StatusOK, dirs)
}

// CreateDirectory handles POST /api/recipes/directory/subdir.
//
//	@Summary		Create a directory, appending " (n)" to the name if it is taken
//	@Tags			directories
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDirectoryRequest	true	"Directory to create"
//	@Success		201		{object}	NameResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipes/directory/subdir [post]
func (h *Handler) CreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req CreateDirectoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	res, err := h.svc.CreateDirectory(r.Context(), *req.ParentDir, *req.Name)
	if err != nil {
		writeError(w, "create directory", err, slog.String("parent", *req.ParentDir), slog.String("name", *req.Name))
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// GetRecipe handles GET /api/recipe/*.
//
//	@Summary		Get the raw text of a recipe
//	@Tags			recipe
//	@Produce		plain
//	@Param			path	path		string	true	"Recipe path without extension"
//	@Success		200		{string}	string
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipe/{path} [get]
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	path := recipePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no recipe path was provided"))
		return
	}
	rec, err := h.svc.GetRecipe(r.Context(), path)
	if err != nil {
		writeError(w, "get recipe", err, slog.String("path", path))
		return
	}
	w.Header().Set("ETag", checksum.ETag([]byte(rec.Content)))
	writeText(w, http.StatusOK, "text/plain; charset=utf-8", rec.Content)
}

// SaveRecipe handles POST /api/recipe/*.
//
//	@Summary		Create or replace a recipe at a path
//	@Tags			recipe
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Recipe path without extension"
//	@Param			body	body		SaveRecipeRequest	true	"Recipe text"
//	@Success		200		{object}	RecipeSavedResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipe/{path} [post]
func (h *Handler) SaveRecipe(w http.ResponseWriter, r *http.Request) {
	path, req, ok := h.saveRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.SaveRecipe(r.Context(), path, req.Recipe)
	if err != nil {
		writeError(w, "save recipe", err, slog.String("path", path))
		return
	}
	writeSaved(w, rec)
}

// UpdateRecipe handles PUT /api/recipe/*.
//
//	@Summary		Replace a recipe with optional optimistic concurrency
//	@Tags			recipe
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Recipe path without extension"
//	@Param			If-Match	header		string				false	"ETag of the version being replaced"
//	@Param			body		body		SaveRecipeRequest	true	"Recipe text"
//	@Success		200			{object}	RecipeSavedResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipe/{path} [put]
func (h *Handler) UpdateRecipe(w http.ResponseWriter, r *http.Request) {
	path, req, ok := h.saveRequest(w, r)
	if !ok {
		return
	}
	rec, err := h.svc.UpdateRecipe(r.Context(), path, req.Recipe, r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, "update recipe", err, slog.String("path", path))
		return
	}
	writeSaved(w, rec)
}

// MoveRecipe handles PATCH /api/recipe/*.
//
//	@Summary		Rename or move a recipe
//	@Tags			recipe
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string				true	"Recipe path without extension"
//	@Param			body	body		MoveRecipeRequest	true	"Target directory and file name"
//	@Success		200		{object}	RecipeSavedResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipe/{path} [patch]
func (h *Handler) MoveRecipe(w http.ResponseWriter, r *http.Request) {
	path := recipePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no recipe path was provided"))
		return
	}
	var req MoveRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	rec, err := h.svc.MoveRecipe(r.Context(), path, *req.Dir, *req.FileName)
	if err != nil {
		writeError(w, "move recipe", err, slog.String("path", path))
		return
	}
	writeSaved(w, rec)
}

// DeleteRecipe handles DELETE /api/recipe/*.
//
//	@Summary		Delete a recipe
//	@Tags			recipe
//	@Param			path	path	string	true	"Recipe path without extension"
//	@Success		204		"Recipe deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/recipe/{path} [delete]
func (h *Handler) DeleteRecipe(w http.ResponseWriter, r *http.Request) {
	path := recipePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no recipe path was provided"))
		return
	}
	if err := h.svc.DeleteRecipe(r.Context(), path); err != nil {
		writeError(w, "delete recipe", err, slog.String("path", path))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Catalog handles GET /api/catalog.
//
//	@Summary		Get the product catalog (TOML)
//	@Tags			catalog
//	@Produce		plain
//	@Success		200	{string}	string
//	@Security		BearerAuth
//	@Router			/catalog [get]
func (h *Handler) Catalog(w http.ResponseWriter, r *http.Request) {
	text, err := h.svc.Catalog(r.Context())
	if err != nil {
		writeError(w, "get catalog", err)
		return
	}
	writeText(w, http.StatusOK, "application/toml; charset=utf-8", text)
}

func (h *Handler) saveRequest(w http.ResponseWriter, r *http.Request) (string, SaveRecipeRequest, bool) {
	var req SaveRecipeRequest
	path := recipePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("no recipe path was provided"))
		return "", req, false
	}
	if !decodeJSON(w, r, &req) {
		return "", req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return "", req, false
	}
	return path, req, true
}

func writeSaved(w http.ResponseWriter, rec *recipeservice.Recipe) {
	w.Header().Set("ETag", checksum.ETag([]byte(rec.Content)))
	writeJSON(w, http.StatusOK, RecipeSavedResponse{Path: rec.Path, Checksum: rec.Checksum})
}
