// Package runcache stores finished run results in Redis and drops them when
// the land cover under their extent changes.
package runcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/manning-roughness/internal/cache"
	"github.com/mohammed-shakir/manning-roughness/internal/cache/cellindex"
	"github.com/mohammed-shakir/manning-roughness/internal/core/model"
	"github.com/mohammed-shakir/manning-roughness/internal/core/observability"
)

const (
	DefaultTTL       = 24 * time.Hour
	DefaultOpTimeout = 250 * time.Millisecond
	DefaultRes       = 7
)

// Entry is one cached run.
type Entry struct {
	Key       string               `json:"key"`
	RunID     string               `json:"run_id"`
	Class     model.RoughnessClass `json:"class"`
	Source    string               `json:"source"`
	Extent    model.Extent         `json:"extent"`
	Result    model.Result         `json:"result"`
	CreatedAt time.Time            `json:"created_at"`
}

// CellMapper covers extents and geometries with H3 cells.
type CellMapper interface {
	CellsForExtent(e model.Extent, res int) ([]string, error)
	CellsForGeometry(g orb.Geometry, res int) ([]string, error)
	Normalize(cells []string, res int) ([]string, error)
}

type Cache struct {
	store     cache.Store
	index     cellindex.CellIndex
	cells     CellMapper
	res       int
	ttl       time.Duration
	opTimeout time.Duration
	exists    func(path string) bool
	log       *slog.Logger
}

type Option func(*Cache)

func WithTTL(d time.Duration) Option { return func(c *Cache) { c.ttl = d } }

func WithOpTimeout(d time.Duration) Option { return func(c *Cache) { c.opTimeout = d } }

func WithResolution(res int) Option { return func(c *Cache) { c.res = res } }

func WithLogger(l *slog.Logger) Option { return func(c *Cache) { c.log = l } }

// WithExists overrides how output paths are checked before a hit is served.
func WithExists(f func(path string) bool) Option { return func(c *Cache) { c.exists = f } }

func New(store cache.Store, index cellindex.CellIndex, cells CellMapper, opts ...Option) *Cache {
	c := &Cache{
		store:     store,
		index:     index,
		cells:     cells,
		res:       DefaultRes,
		ttl:       DefaultTTL,
		opTimeout: DefaultOpTimeout,
		exists:    fileExists,
		log:       slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) Resolution() int { return c.res }

// Get returns the entry under key. Entries whose outputs no longer exist on
// disk are deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	raw, err := c.store.MGet(ctx, []string{key})
	if err != nil {
		return Entry{}, false, fmt.Errorf("runcache get: %w", err)
	}
	body, ok := raw[key]
	if !ok || len(body) == 0 {
		observability.IncRunCacheMiss()
		return Entry{}, false, nil
	}

	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		// unreadable entries are treated like stale ones
		c.log.Warn("dropping undecodable run cache entry", "key", key, "err", err)
		_ = c.store.Del(ctx, key)
		observability.IncRunCacheStale()
		return Entry{}, false, nil
	}
	for _, p := range e.Result.Paths() {
		if !c.exists(p) {
			c.log.Info("cached run output missing, dropping entry", "key", key, "path", p)
			if err := c.store.Del(ctx, key); err != nil {
				c.log.Warn("run cache delete failed", "key", key, "err", err)
			}
			observability.IncRunCacheStale()
			return Entry{}, false, nil
		}
	}
	observability.IncRunCacheHit()
	return e, true, nil
}

// Put stores e and indexes it under every cell its extent touches.
func (c *Cache) Put(ctx context.Context, e Entry) error {
	if e.Key == "" {
		return errors.New("runcache put: empty key")
	}
	if e.Result.Empty() {
		return errors.New("runcache put: empty result")
	}
	cells, err := c.cells.CellsForExtent(e.Extent, c.res)
	if err != nil {
		return fmt.Errorf("runcache cells: %w", err)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("runcache encode: %w", err)
	}

	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	// index first so an entry is never reachable without being invalidatable
	if err := c.index.Add(ctx, e.Source, c.res, cells, e.Key, c.ttl); err != nil {
		return fmt.Errorf("runcache index: %w", err)
	}
	if err := c.store.Set(ctx, e.Key, body, c.ttl); err != nil {
		return fmt.Errorf("runcache set: %w", err)
	}
	return nil
}

// InvalidateCells drops every run of source indexed under cells, which may be
// of any resolution. It returns the number of run keys removed.
func (c *Cache) InvalidateCells(ctx context.Context, source string, cells []string) (int, error) {
	norm, err := c.cells.Normalize(cells, c.res)
	if err != nil {
		return 0, fmt.Errorf("runcache normalize cells: %w", err)
	}
	return c.invalidate(ctx, source, norm)
}

func (c *Cache) InvalidateExtent(ctx context.Context, source string, e model.Extent) (int, error) {
	cells, err := c.cells.CellsForExtent(e, c.res)
	if err != nil {
		return 0, fmt.Errorf("runcache cells: %w", err)
	}
	return c.invalidate(ctx, source, cells)
}

func (c *Cache) InvalidateGeometry(ctx context.Context, source string, g orb.Geometry) (int, error) {
	cells, err := c.cells.CellsForGeometry(g, c.res)
	if err != nil {
		return 0, fmt.Errorf("runcache cells: %w", err)
	}
	return c.invalidate(ctx, source, cells)
}

func (c *Cache) invalidate(ctx context.Context, source string, cells []string) (int, error) {
	if len(cells) == 0 {
		return 0, nil
	}
	ctx, cancel := c.opCtx(ctx)
	defer cancel()

	runKeys, err := c.index.RunKeys(ctx, source, c.res, cells)
	if err != nil {
		return 0, fmt.Errorf("runcache lookup: %w", err)
	}
	if len(runKeys) > 0 {
		if err := c.store.Del(ctx, runKeys...); err != nil {
			return 0, fmt.Errorf("runcache delete: %w", err)
		}
	}
	if err := c.index.Drop(ctx, source, c.res, cells); err != nil {
		return len(runKeys), fmt.Errorf("runcache drop index: %w", err)
	}
	c.log.Debug("run cache invalidated", "source", source, "cells", len(cells), "runs", len(runKeys))
	return len(runKeys), nil
}

func (c *Cache) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
