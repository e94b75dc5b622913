// Package models defines the domain types for cookshelf.
package models

// RecipeEssentials is the metadata kept in the recipe index for each recipe.
type RecipeEssentials struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Dir      string   `json:"dir"`
	Servings int      `json:"servings"`
	Tags     []string `json:"tags"`
}

// Clone returns a copy that shares no mutable state with e.
func (e RecipeEssentials) Clone() RecipeEssentials {
	out := e
	out.Tags = make([]string, len(e.Tags))
	copy(out.Tags, e.Tags)
	return out
}

// IndexEntry pairs a storage key with its indexed metadata.
type IndexEntry struct {
	Key    string           `json:"key"`
	Recipe RecipeEssentials `json:"recipe"`
}

// NameResult reports the outcome of a collision-avoiding create.
// Renamed is true when a disambiguator had to be appended to the desired name.
type NameResult struct {
	Renamed bool   `json:"renamed"`
	Name    string `json:"name"`
}

// Recipe change kinds carried by RecipeEvent.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
	EventMoved   = "moved"
)

// RecipeEvent describes a change to a stored recipe. From is set only for moves.
type RecipeEvent struct {
	Kind string `json:"-"`
	Key  string `json:"key"`
	Path string `json:"path"`
	From string `json:"from,omitempty"`
}
