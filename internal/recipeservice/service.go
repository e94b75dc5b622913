// Package recipeservice coordinates the recipe store, the recipe index and
// the namer. Every write goes to the store first; the index is updated only
// after the store write succeeded.
package recipeservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/cookshelf/internal/apperr"
	"github.com/starford/cookshelf/internal/checksum"
	"github.com/starford/cookshelf/internal/index"
	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/namer"
	"github.com/starford/cookshelf/internal/recipepath"
	"github.com/starford/cookshelf/internal/storage"
)

// CatalogKey is the config store key of the product catalog.
const CatalogKey = "product-catalog.toml"

// Recipe is a stored recipe with its raw text.
type Recipe struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Checksum string `json:"checksum"`
}

// Notifier receives recipe changes made through the service.
type Notifier func(models.RecipeEvent)

// Service implements the recipe operations shared by the HTTP API, the MCP
// server and the CLI.
type Service struct {
	store  storage.Store
	config storage.Store
	cache  *index.Cache
	namer  *namer.Namer
	logger *slog.Logger
	notify Notifier
}

// Option configures a Service.
type Option func(*Service)

// WithConfigStore sets the store holding the product catalog.
func WithConfigStore(store storage.Store) Option {
	return func(s *Service) {
		s.config = store
	}
}

// WithNotifier registers fn to be called after every successful change.
func WithNotifier(fn Notifier) Option {
	return func(s *Service) {
		s.notify = fn
	}
}

// WithLogger sets the logger (slog.Default by default).
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithNamer replaces the namer built over the recipe store.
func WithNamer(nm *namer.Namer) Option {
	return func(s *Service) {
		s.namer = nm
	}
}

// New returns a Service over the recipe store and its index.
func New(store storage.Store, cache *index.Cache, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cache:  cache,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.namer == nil {
		s.namer = namer.New(store)
	}
	return s
}

// Cache returns the recipe index the service keeps up to date.
func (s *Service) Cache() *index.Cache {
	return s.cache
}

// GetRecipe returns the raw text of the recipe at path.
func (s *Service) GetRecipe(ctx context.Context, path string) (*Recipe, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := s.store.Get(ctx, recipepath.FileKey(recipepath.Encode(path)))
	if err != nil {
		return nil, err
	}
	return newRecipe(path, data), nil
}

// SaveRecipe writes content to path, creating or replacing the recipe.
// Surrounding whitespace is trimmed; blank content is rejected.
func (s *Service) SaveRecipe(ctx context.Context, path, content string) (*Recipe, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := recipeBody(content)
	if err != nil {
		return nil, err
	}

	key := recipepath.Encode(path)
	kind := models.EventUpdated
	if _, ok := s.cache.Get(key); !ok {
		exists, err := s.store.Exists(ctx, recipepath.FileKey(key))
		if err != nil {
			return nil, err
		}
		if !exists {
			kind = models.EventCreated
		}
	}

	if err := s.store.Set(ctx, recipepath.FileKey(key), data); err != nil {
		return nil, err
	}
	s.index(key, data)
	s.publish(models.RecipeEvent{Kind: kind, Key: key, Path: path})
	return newRecipe(path, data), nil
}

// UpdateRecipe replaces the recipe at path. When ifMatch is non-empty the
// recipe must exist and its current checksum must match, otherwise
// apperr.ErrConflict is returned.
func (s *Service) UpdateRecipe(ctx context.Context, path, content, ifMatch string) (*Recipe, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	data, err := recipeBody(content)
	if err != nil {
		return nil, err
	}

	key := recipepath.Encode(path)
	if ifMatch != "" {
		existing, err := s.store.Get(ctx, recipepath.FileKey(key))
		if err != nil {
			return nil, err
		}
		if !checksum.Matches(ifMatch, existing) {
			return nil, fmt.Errorf("recipe %s: checksum mismatch: %w", path, apperr.ErrConflict)
		}
	}

	if err := s.store.Set(ctx, recipepath.FileKey(key), data); err != nil {
		return nil, err
	}
	s.index(key, data)
	s.publish(models.RecipeEvent{Kind: models.EventUpdated, Key: key, Path: path})
	return newRecipe(path, data), nil
}

// MoveRecipe renames the recipe at path to dir/fileName. The target must not
// exist. The new entry is written before the old one is removed, so a failure
// half way leaves a duplicate rather than losing the recipe.
func (s *Service) MoveRecipe(ctx context.Context, path, dir, fileName string) (*Recipe, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}
	if err := recipepath.ValidateDir(dir); err != nil {
		return nil, err
	}
	fileName = recipepath.TrimExt(strings.TrimSpace(fileName))
	if err := recipepath.ValidateName(fileName); err != nil {
		return nil, err
	}

	oldKey := recipepath.Encode(path)
	data, err := s.store.Get(ctx, recipepath.FileKey(oldKey))
	if err != nil {
		return nil, err
	}

	newPath := recipepath.Join(dir, fileName)
	if newPath == path {
		return newRecipe(path, data), nil
	}
	newKey := recipepath.Encode(newPath)

	if err := s.store.Create(ctx, recipepath.FileKey(newKey), data); err != nil {
		return nil, err
	}
	if err := s.store.Remove(ctx, recipepath.FileKey(oldKey)); err != nil && !errors.Is(err, apperr.ErrNotFound) {
		s.logger.Error("recipe move: remove old failed",
			slog.String("from", oldKey),
			slog.String("to", newKey),
			slog.String("error", err.Error()))
		s.index(newKey, data)
		return nil, err
	}

	s.cache.Remove(oldKey)
	s.index(newKey, data)
	s.publish(models.RecipeEvent{Kind: models.EventMoved, Key: newKey, Path: newPath, From: path})
	return newRecipe(newPath, data), nil
}

// DeleteRecipe removes the recipe at path from the store and the index.
func (s *Service) DeleteRecipe(ctx context.Context, path string) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	key := recipepath.Encode(path)
	if err := s.store.Remove(ctx, recipepath.FileKey(key)); err != nil {
		return err
	}
	s.cache.Remove(key)
	s.publish(models.RecipeEvent{Kind: models.EventDeleted, Key: key, Path: path})
	return nil
}

// ListRecipes returns the index, scanning the store on first use. A non-empty
// tag keeps only recipes carrying it.
func (s *Service) ListRecipes(ctx context.Context, tag string) ([]models.IndexEntry, error) {
	if err := s.cache.InitializeIfEmpty(ctx); err != nil {
		return nil, err
	}
	if tag != "" {
		return nonNil(s.cache.WithTag(tag)), nil
	}
	return s.cache.Snapshot(), nil
}

// RebuildIndex rescans the store and returns the fresh listing.
func (s *Service) RebuildIndex(ctx context.Context) ([]models.IndexEntry, index.RebuildReport, error) {
	report, err := s.cache.Rebuild(ctx)
	if err != nil {
		return nil, report, err
	}
	return s.cache.Snapshot(), report, nil
}

// CreateRecipe stores content as a new recipe called name in dir. If the
// name is taken a disambiguated one is used; the result reports which.
func (s *Service) CreateRecipe(ctx context.Context, dir, name, content string) (models.NameResult, error) {
	if strings.TrimSpace(content) == "" {
		return models.NameResult{}, fmt.Errorf("%w: recipe content is empty", apperr.ErrInvalidInput)
	}
	dir = strings.TrimSpace(dir)
	res, err := s.namer.Claim(ctx, dir, strings.TrimSpace(name), namer.File, []byte(content))
	if err != nil {
		return models.NameResult{}, err
	}

	path := recipepath.Join(dir, res.Name)
	key := recipepath.Encode(path)
	s.index(key, []byte(content))
	s.publish(models.RecipeEvent{Kind: models.EventCreated, Key: key, Path: path})
	return res, nil
}

// CreateDirectory makes a directory called name under parent, disambiguating
// the name if needed.
func (s *Service) CreateDirectory(ctx context.Context, parent, name string) (models.NameResult, error) {
	return s.namer.Claim(ctx, strings.TrimSpace(parent), strings.TrimSpace(name), namer.Directory, nil)
}

// ListDirectories returns every recipe directory, sorted.
func (s *Service) ListDirectories(ctx context.Context) ([]string, error) {
	dirs, err := s.store.Dirs(ctx)
	if err != nil {
		return nil, err
	}
	return nonNil(dirs), nil
}

// Catalog returns the product catalog text. A missing catalog is created
// empty.
func (s *Service) Catalog(ctx context.Context) (string, error) {
	if s.config == nil {
		return "", fmt.Errorf("catalog: no config store: %w", apperr.ErrNotFound)
	}
	data, err := s.config.Get(ctx, CatalogKey)
	if errors.Is(err, apperr.ErrNotFound) {
		if err := s.config.Set(ctx, CatalogKey, nil); err != nil {
			return "", err
		}
		s.logger.Info("catalog initialized", slog.String("key", CatalogKey))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// index records data under key. Unparseable recipes stay in the store and
// simply drop out of the listing; Cache.Update already logs them.
func (s *Service) index(key string, data []byte) {
	_ = s.cache.Update(key, data)
}

func (s *Service) publish(ev models.RecipeEvent) {
	if s.notify != nil {
		s.notify(ev)
	}
}

// cleanPath validates a client-supplied recipe path. A trailing ".cook" is
// tolerated and stripped.
func cleanPath(path string) (string, error) {
	path = recipepath.TrimExt(path)
	if err := recipepath.Validate(path); err != nil {
		return "", err
	}
	return path, nil
}

func recipeBody(content string) ([]byte, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: recipe is empty", apperr.ErrInvalidInput)
	}
	return []byte(trimmed), nil
}

func newRecipe(path string, data []byte) *Recipe {
	return &Recipe{
		Path:     path,
		Content:  string(data),
		Checksum: checksum.Sum(data),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
