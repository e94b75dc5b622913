// Package index keeps an in-memory, rebuildable index of recipe metadata
// keyed by extension-free storage key.
//
// The index holds nothing that cannot be regenerated from the store: any
// inconsistency is repaired by Rebuild.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/cookshelf/internal/apperr"
	"github.com/starford/cookshelf/internal/metrics"
	"github.com/starford/cookshelf/internal/models"
	"github.com/starford/cookshelf/internal/parser"
	"github.com/starford/cookshelf/internal/recipepath"
	"github.com/starford/cookshelf/internal/storage"
)

// State is the lifecycle state of a Cache.
type State int

const (
	// StateUninitialized means the store has never been scanned.
	StateUninitialized State = iota
	// StateReady means at least one full scan has completed.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Extractor turns raw recipe text into metadata.
type Extractor func(raw []byte) (*parser.Metadata, error)

// RebuildReport summarizes a full rescan.
type RebuildReport struct {
	Indexed int
	Skipped int
	// Err joins the reason of every skipped recipe; nil when none were skipped.
	Err error
}

// Option configures a Cache.
type Option func(*Cache)

// WithExtractor replaces the metadata extractor (parser.Parse by default).
func WithExtractor(fn Extractor) Option {
	return func(c *Cache) {
		c.extract = fn
	}
}

// WithWorkers bounds how many recipes a rebuild loads concurrently.
func WithWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithMetrics records index activity in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// Cache is the recipe index. It is the only owner of the in-memory map; all
// mutation goes through Rebuild, Update and Remove.
type Cache struct {
	store   storage.Store
	logger  *slog.Logger
	extract Extractor
	workers int
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]models.RecipeEssentials
	state   State
	// touched records keys written through Update/Remove while a rebuild is
	// scanning; their live values win over the scan. nil when idle.
	touched map[string]struct{}

	rebuildMu sync.Mutex
	init      singleflight.Group
}

// New returns an uninitialized Cache over store.
func New(store storage.Store, logger *slog.Logger, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		logger:  logger,
		extract: parser.Parse,
		workers: 8,
		entries: make(map[string]models.RecipeEssentials),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Len returns the number of indexed recipes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// InitializeIfEmpty performs a full rescan if the store has never been
// scanned and is a no-op otherwise. Concurrent callers share one rescan.
//
// The shared rescan is detached from the caller that started it, so one
// caller giving up does not fail the others; each caller still returns as
// soon as its own ctx is done.
func (c *Cache) InitializeIfEmpty(ctx context.Context) error {
	if c.State() == StateReady {
		return nil
	}
	ch := c.init.DoChan("init", func() (any, error) {
		if c.State() == StateReady {
			return nil, nil
		}
		_, err := c.Rebuild(context.WithoutCancel(ctx))
		return nil, err
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rebuild rescans every recipe in the store and replaces the whole index.
//
// Recipes whose metadata cannot be extracted are skipped and reported in the
// returned RebuildReport. Listing or read failures abort the rebuild and
// leave the previous index in place.
func (c *Cache) Rebuild(ctx context.Context) (RebuildReport, error) {
	c.rebuildMu.Lock()
	defer c.rebuildMu.Unlock()

	start := time.Now()
	report, err := c.rebuild(ctx)
	c.metrics.ObserveRebuild(time.Since(start), err)
	if err != nil {
		c.logger.Warn("index: rebuild failed", slog.String("error", err.Error()))
		return report, err
	}
	c.logger.Info("index: rebuilt",
		slog.Int("indexed", report.Indexed),
		slog.Int("skipped", report.Skipped),
		slog.Duration("took", time.Since(start)))
	return report, nil
}

type loaded struct {
	key   string
	entry models.RecipeEssentials
	err   error
}

func (c *Cache) rebuild(ctx context.Context) (RebuildReport, error) {
	c.mu.Lock()
	c.touched = make(map[string]struct{})
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.touched = nil
		c.mu.Unlock()
	}()

	keys, err := c.store.Keys(ctx, "")
	if err != nil {
		return RebuildReport{}, fmt.Errorf("index: rebuild: list keys: %w", err)
	}

	var fileKeys []string
	for _, k := range keys {
		if recipepath.HasExt(k) {
			fileKeys = append(fileKeys, k)
		}
	}

	results := make([]loaded, len(fileKeys))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, fileKey := range fileKeys {
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			key := recipepath.TrimExt(fileKey)
			data, err := c.store.Get(gCtx, fileKey)
			if err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					// Removed between listing and reading.
					results[i] = loaded{key: key, err: err}
					return nil
				}
				return err
			}
			entry, err := c.essentials(key, data)
			results[i] = loaded{key: key, entry: entry, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return RebuildReport{}, fmt.Errorf("index: rebuild: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return RebuildReport{}, fmt.Errorf("index: rebuild: %w", err)
	}

	fresh := make(map[string]models.RecipeEssentials, len(results))
	var skipped *multierror.Error
	skippedCount := 0
	for _, r := range results {
		if r.err != nil {
			skippedCount++
			skipped = multierror.Append(skipped, fmt.Errorf("%s: %w", r.key, r.err))
			if errors.Is(r.err, apperr.ErrParse) {
				c.metrics.IncParseFailures()
			}
			c.logger.Warn("index: skipped recipe",
				slog.String("key", r.key),
				slog.String("error", r.err.Error()))
			continue
		}
		fresh[r.key] = r.entry
	}

	c.mu.Lock()
	for k := range c.touched {
		if live, ok := c.entries[k]; ok {
			fresh[k] = live
		} else {
			delete(fresh, k)
		}
	}
	c.entries = fresh
	c.state = StateReady
	n := len(fresh)
	c.mu.Unlock()

	c.metrics.SetEntries(n)
	return RebuildReport{Indexed: n, Skipped: skippedCount, Err: skipped.ErrorOrNil()}, nil
}

// Update extracts metadata from raw and stores it under key. Call it only
// after the corresponding store write succeeded.
//
// When extraction fails any stale entry for key is dropped and an error
// wrapping apperr.ErrParse is returned.
func (c *Cache) Update(key string, raw []byte) error {
	key = recipepath.TrimExt(key)
	entry, err := c.essentials(key, raw)

	c.mu.Lock()
	if c.touched != nil {
		c.touched[key] = struct{}{}
	}
	if err != nil {
		delete(c.entries, key)
	} else {
		c.entries[key] = entry
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetEntries(n)
	if err != nil {
		c.metrics.IncParseFailures()
		c.logger.Warn("index: update skipped", slog.String("key", key), slog.String("error", err.Error()))
		return fmt.Errorf("index: update %s: %w", key, err)
	}
	return nil
}

// Remove drops key from the index. Removing an absent key is a no-op.
func (c *Cache) Remove(key string) {
	key = recipepath.TrimExt(key)

	c.mu.Lock()
	if c.touched != nil {
		c.touched[key] = struct{}{}
	}
	delete(c.entries, key)
	n := len(c.entries)
	c.mu.Unlock()

	c.metrics.SetEntries(n)
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (models.RecipeEssentials, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[recipepath.TrimExt(key)]
	if !ok {
		return models.RecipeEssentials{}, false
	}
	return e.Clone(), true
}

// Snapshot returns a copy of the index sorted by key. Later mutations of the
// cache do not affect the returned slice.
func (c *Cache) Snapshot() []models.IndexEntry {
	c.mu.RLock()
	out := make([]models.IndexEntry, 0, len(c.entries))
	for k, e := range c.entries {
		out = append(out, models.IndexEntry{Key: k, Recipe: e.Clone()})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// WithTag returns the snapshot entries carrying tag.
func (c *Cache) WithTag(tag string) []models.IndexEntry {
	var out []models.IndexEntry
	for _, e := range c.Snapshot() {
		for _, t := range e.Recipe.Tags {
			if t == tag {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// essentials derives the index entry for key from raw recipe text.
func (c *Cache) essentials(key string, raw []byte) (entry models.RecipeEssentials, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: extractor panicked: %v", apperr.ErrParse, r)
		}
	}()

	meta, err := c.extract(raw)
	if err != nil {
		if !errors.Is(err, apperr.ErrParse) {
			err = fmt.Errorf("%w: %v", apperr.ErrParse, err)
		}
		return models.RecipeEssentials{}, err
	}
	if meta == nil {
		meta = &parser.Metadata{}
	}

	dir, name := recipepath.Split(key)
	entry = models.RecipeEssentials{
		Name:     name,
		Title:    meta.Title,
		Dir:      dir,
		Servings: meta.Servings,
		Tags:     make([]string, len(meta.Tags)),
	}
	copy(entry.Tags, meta.Tags)
	if entry.Title == "" {
		entry.Title = name
	}
	if entry.Servings < 1 {
		entry.Servings = 1
	}
	return entry, nil
}
