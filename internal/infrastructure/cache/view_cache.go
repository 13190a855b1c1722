// Package cache implements a read-through cache of derived graph views.
//
// Entries are keyed by (view kind, category). Each view kind has its own TTL and
// LRU bound. Concurrent misses on one key share a single loader call. The cache
// never owns source data: every entry can be dropped at any time.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	pkgerrors "github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/pkg/errors"
)

// ViewKind names a family of derived views.
type ViewKind string

const (
	// ViewFlattenedTree is a category's nodes with their active outgoing connections.
	ViewFlattenedTree ViewKind = "flattened_tree"
	// ViewEditorGraph is the nodes plus connections payload used by the editor.
	ViewEditorGraph ViewKind = "editor_graph"
	// ViewIssueList is the list of issues with question counts.
	ViewIssueList ViewKind = "issue_list"
)

// GlobalScope is the category of views that span every category. It is
// invalidated together with any category.
const GlobalScope = "*"

// KindConfig bounds one view kind.
type KindConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// Config configures the cache.
type Config struct {
	Kinds           map[ViewKind]KindConfig
	JanitorInterval time.Duration
}

// DefaultConfig returns the standard TTLs: issue lists live five minutes,
// trees and editor graphs ten.
func DefaultConfig() Config {
	return Config{
		Kinds: map[ViewKind]KindConfig{
			ViewIssueList:     {TTL: 5 * time.Minute, MaxEntries: 10},
			ViewFlattenedTree: {TTL: 10 * time.Minute, MaxEntries: 50},
			ViewEditorGraph:   {TTL: 10 * time.Minute, MaxEntries: 50},
		},
		JanitorInterval: time.Minute,
	}
}

// Loader computes a view on a miss.
type Loader func(ctx context.Context) (interface{}, error)

type entry struct {
	key       string
	category  string
	value     interface{}
	expiresAt time.Time
}

type segment struct {
	cfg       KindConfig
	items     map[string]*list.Element
	lru       *list.List
	hits      uint64
	misses    uint64
	evictions uint64
}

func newSegment(cfg KindConfig) *segment {
	return &segment{cfg: cfg, items: make(map[string]*list.Element), lru: list.New()}
}

// ViewCache is safe for concurrent use.
type ViewCache struct {
	mu          sync.Mutex
	segments    map[ViewKind]*segment
	generations map[string]uint64
	epoch       uint64
	flight      singleflight.Group
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a cache with one segment per configured view kind.
func New(cfg Config, logger *zap.Logger) *ViewCache {
	c := &ViewCache{
		segments:    make(map[ViewKind]*segment, len(cfg.Kinds)),
		generations: make(map[string]uint64),
		logger:      logger,
		now:         time.Now,
	}
	for kind, kc := range cfg.Kinds {
		c.segments[kind] = newSegment(kc)
	}
	return c
}

// generation identifies the invalidation state a load started under.
type generation struct {
	epoch    uint64
	category uint64
}

func entryKey(kind ViewKind, category string) string {
	return string(kind) + "|" + category
}

// Get returns the cached view or runs loader, storing its result with a fresh TTL.
// A load that started before an invalidation of its category is returned to its
// callers but never stored.
func (c *ViewCache) Get(ctx context.Context, kind ViewKind, category string, loader Loader) (interface{}, error) {
	key := entryKey(kind, category)

	c.mu.Lock()
	seg, ok := c.segments[kind]
	if !ok {
		c.mu.Unlock()
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("unknown view kind %q", kind))
	}
	if el, ok := seg.items[key]; ok {
		e := el.Value.(*entry)
		if c.now().Before(e.expiresAt) {
			seg.lru.MoveToFront(el)
			seg.hits++
			c.mu.Unlock()
			return e.value, nil
		}
		c.removeElement(seg, el)
	}
	seg.misses++
	gen := generation{epoch: c.epoch, category: c.generations[category]}
	c.mu.Unlock()

	flightKey := fmt.Sprintf("%s|%d.%d", key, gen.epoch, gen.category)
	v, err, shared := c.flight.Do(flightKey, func() (interface{}, error) {
		// The leader's cancellation must not fail the followers sharing this load.
		value, err := loader(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(kind, category, gen, value)
		return value, nil
	})
	if err != nil {
		c.logger.Debug("View load failed",
			zap.String("view", string(kind)),
			zap.String("category", category),
			zap.Error(err),
		)
		return nil, err
	}
	if shared {
		c.logger.Debug("View load shared", zap.String("view", string(kind)), zap.String("category", category))
	}
	return v, nil
}

func (c *ViewCache) store(kind ViewKind, category string, gen generation, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.epoch != gen.epoch || c.generations[category] != gen.category {
		return
	}
	seg, ok := c.segments[kind]
	if !ok || seg.cfg.MaxEntries <= 0 {
		return
	}

	key := entryKey(kind, category)
	expiresAt := c.now().Add(seg.cfg.TTL)
	if el, ok := seg.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.expiresAt = expiresAt
		seg.lru.MoveToFront(el)
		return
	}

	el := seg.lru.PushFront(&entry{key: key, category: category, value: value, expiresAt: expiresAt})
	seg.items[key] = el
	c.trim(seg)
}

func (c *ViewCache) trim(seg *segment) {
	for seg.lru.Len() > seg.cfg.MaxEntries {
		oldest := seg.lru.Back()
		if oldest == nil {
			return
		}
		c.removeElement(seg, oldest)
		seg.evictions++
	}
}

func (c *ViewCache) removeElement(seg *segment, el *list.Element) {
	e := el.Value.(*entry)
	seg.lru.Remove(el)
	delete(seg.items, e.key)
}

// InvalidateCategory drops every view of category, whatever its kind, and
// makes in-flight loads for it unstorable. It returns the number of entries removed.
func (c *ViewCache) InvalidateCategory(category string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generations[category]++
	removed := 0
	for _, seg := range c.segments {
		for _, el := range seg.items {
			if el.Value.(*entry).category == category {
				c.removeElement(seg, el)
				removed++
			}
		}
	}
	return removed
}

// Clear drops everything and makes every in-flight load unstorable.
func (c *ViewCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.epoch++
	for _, seg := range c.segments {
		seg.items = make(map[string]*list.Element)
		seg.lru.Init()
	}
}

// Reconfigure applies new TTL and size bounds. New TTLs apply to entries stored
// afterwards; shrinking a bound evicts immediately.
func (c *ViewCache) Reconfigure(cfg Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for kind, kc := range cfg.Kinds {
		seg, ok := c.segments[kind]
		if !ok {
			c.segments[kind] = newSegment(kc)
			continue
		}
		seg.cfg = kc
		c.trim(seg)
	}
	c.logger.Info("View cache reconfigured", zap.Int("kinds", len(cfg.Kinds)))
}

// RemoveExpired drops expired entries and returns how many were removed.
func (c *ViewCache) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, seg := range c.segments {
		for _, el := range seg.items {
			if !now.Before(el.Value.(*entry).expiresAt) {
				c.removeElement(seg, el)
				removed++
			}
		}
	}
	return removed
}

// StartJanitor removes expired entries every interval until ctx is done.
func (c *ViewCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.RemoveExpired(); n > 0 {
					c.logger.Debug("Expired views removed", zap.Int("count", n))
				}
			}
		}
	}()
}

// KindStats reports one view kind.
type KindStats struct {
	Entries   int           `json:"entries"`
	MaxSize   int           `json:"max_size"`
	HitRate   float64       `json:"hit_rate"`
	Hits      uint64        `json:"hits"`
	Misses    uint64        `json:"misses"`
	Evictions uint64        `json:"evictions"`
	TTL       time.Duration `json:"ttl_ns"`
}

// Stats returns a snapshot per view kind.
func (c *ViewCache) Stats() map[ViewKind]KindStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[ViewKind]KindStats, len(c.segments))
	for kind, seg := range c.segments {
		s := KindStats{
			Entries:   seg.lru.Len(),
			MaxSize:   seg.cfg.MaxEntries,
			Hits:      seg.hits,
			Misses:    seg.misses,
			Evictions: seg.evictions,
			TTL:       seg.cfg.TTL,
		}
		if total := seg.hits + seg.misses; total > 0 {
			s.HitRate = float64(seg.hits) / float64(total)
		}
		out[kind] = s
	}
	return out
}

// GetAs is Get with a typed loader and result.
func GetAs[T any](ctx context.Context, c *ViewCache, kind ViewKind, category string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := c.Get(ctx, kind, category, func(ctx context.Context) (interface{}, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		var zero T
		return zero, pkgerrors.NewInternalError(fmt.Sprintf("cached %s view has unexpected type %T", kind, v))
	}
	return typed, nil
}
