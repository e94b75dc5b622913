package api

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/cookshelf/internal/models"
)

var errSeparator = errors.New("must not contain path separators")

var noSeparators = validation.By(func(v any) error {
	s, _ := v.(*string)
	if s != nil && strings.ContainsAny(*s, `/\`) {
		return errSeparator
	}
	return nil
})

var notBlank = validation.By(func(v any) error {
	s, _ := v.(*string)
	if s != nil && strings.TrimSpace(*s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

// CreateRecipeRequest is the request body for creating a recipe with a
// collision-avoiding name.
type CreateRecipeRequest struct {
	Dir     *string `json:"dir" example:"lunch" validate:"required"`
	Name    *string `json:"name" example:"Soup" validate:"required"`
	Content *string `json:"content" example:">> servings: 2" validate:"required"`
}

func (r *CreateRecipeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Dir, validation.NotNil),
		validation.Field(&r.Name, validation.NotNil, notBlank, noSeparators),
		validation.Field(&r.Content, validation.NotNil, notBlank),
	)
}

// CreateDirectoryRequest is the request body for creating a directory.
type CreateDirectoryRequest struct {
	ParentDir *string `json:"parentDir" example:"dinner" validate:"required"`
	Name      *string `json:"name" example:"winter" validate:"required"`
}

func (r *CreateDirectoryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.ParentDir, validation.NotNil),
		validation.Field(&r.Name, validation.NotNil, notBlank, noSeparators),
	)
}

// SaveRecipeRequest is the request body for POST and PUT on a recipe.
type SaveRecipeRequest struct {
	Recipe string `json:"recipe" example:">> title: Soup\nAdd @salt." validate:"required"`
}

func (r *SaveRecipeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Recipe, validation.By(func(any) error {
			if strings.TrimSpace(r.Recipe) == "" {
				return errors.New("no recipe or empty recipe was provided")
			}
			return nil
		})),
	)
}

// MoveRecipeRequest is the request body for renaming or moving a recipe.
type MoveRecipeRequest struct {
	Dir      *string `json:"dir" example:"dinner" validate:"required"`
	FileName *string `json:"fileName" example:"Soup" validate:"required"`
}

func (r *MoveRecipeRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Dir, validation.NotNil),
		validation.Field(&r.FileName, validation.NotNil, notBlank, noSeparators),
	)
}

// RecipeListResponse is the recipe index keyed by storage key.
type RecipeListResponse struct {
	Recipes map[string]models.RecipeEssentials `json:"recipes" validate:"required"`
	Total   int                                `json:"total" example:"42" validate:"required"`
}

// RebuildResponse is RecipeListResponse plus the number of recipes that
// could not be indexed.
type RebuildResponse struct {
	RecipeListResponse
	Skipped int `json:"skipped" example:"0"`
}

// RecipeSavedResponse is returned after a recipe write.
type RecipeSavedResponse struct {
	Path     string `json:"path" example:"lunch/Soup" validate:"required"`
	Checksum string `json:"checksum" example:"abc123..." validate:"required"`
}

// NameResponse reports the name actually used by a create.
type NameResponse = models.NameResult

func listResponse(entries []models.IndexEntry) RecipeListResponse {
	out := RecipeListResponse{
		Recipes: make(map[string]models.RecipeEssentials, len(entries)),
		Total:   len(entries),
	}
	for _, e := range entries {
		out.Recipes[e.Key] = e.Recipe
	}
	return out
}
