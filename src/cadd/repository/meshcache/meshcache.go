// Package meshcache implements the content-addressed mesh cache.
package meshcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/uber-go/tally"
	"github.com/uber/cad-server/src/cadd/entity"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	_configKey = "meshCache"

	_defaultMaxEntries = 1024
	_defaultMaxBytes   = 256 << 20
)

// Module provides the mesh cache to an Fx application.
var Module = fx.Provide(New)

// Cache maps a MeshKey to a computed mesh or terminal error.
// An entry, once inserted, is never overwritten.
type Cache interface {
	// Lookup returns the cached result for key. It never blocks on computation.
	Lookup(key entity.MeshKey) (entity.MeshResult, bool)
	// View pins the entry for key while fn reads it, so that it cannot be evicted mid-read.
	View(key entity.MeshKey, fn func(entity.MeshResult)) bool
	// Insert stores result under its key unless an entry already exists.
	// It reports whether the result was stored.
	Insert(result entity.MeshResult) bool
	Len() int
	SizeBytes() int64
}

// Params are inbound parameters to initialize the cache.
type Params struct {
	fx.In

	Config config.Provider
	Logger *zap.SugaredLogger
	Stats  tally.Scope
}

// Config bounds the cache. A zero value disables the corresponding bound.
type Config struct {
	MaxEntries int   `yaml:"maxEntries"`
	MaxBytes   int64 `yaml:"maxBytes"`
}

type entry struct {
	result entity.MeshResult
	size   int64
	pins   int
}

type cache struct {
	mu sync.Mutex
	// order holds *entry, most recently used at the front.
	order   *list.List
	entries map[entity.MeshKey]*list.Element
	bytes   int64

	cfg    Config
	logger *zap.SugaredLogger
	stats  tally.Scope
}

// New creates a cache bounded by the meshCache configuration block.
func New(p Params) (Cache, error) {
	cfg := Config{
		MaxEntries: _defaultMaxEntries,
		MaxBytes:   _defaultMaxBytes,
	}
	if v := p.Config.Get(_configKey); v.HasValue() {
		if err := v.Populate(&cfg); err != nil {
			return nil, fmt.Errorf("getting config field %q: %w", _configKey, err)
		}
	}
	if cfg.MaxEntries < 0 || cfg.MaxBytes < 0 {
		return nil, fmt.Errorf("config field %q: bounds must not be negative", _configKey)
	}

	return newCache(cfg, p.Logger, p.Stats), nil
}

func newCache(cfg Config, logger *zap.SugaredLogger, stats tally.Scope) *cache {
	return &cache{
		order:   list.New(),
		entries: make(map[entity.MeshKey]*list.Element),
		cfg:     cfg,
		logger:  logger.With("component", "mesh-cache"),
		stats:   stats.SubScope("mesh_cache"),
	}
}

func (c *cache) Lookup(key entity.MeshKey) (entity.MeshResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Counter("misses").Inc(1)
		return entity.MeshResult{}, false
	}
	c.order.MoveToFront(elem)
	c.stats.Counter("hits").Inc(1)
	return elem.Value.(*entry).result, true
}

func (c *cache) View(key entity.MeshKey, fn func(entity.MeshResult)) bool {
	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.stats.Counter("misses").Inc(1)
		c.mu.Unlock()
		return false
	}
	e := elem.Value.(*entry)
	e.pins++
	c.order.MoveToFront(elem)
	c.stats.Counter("hits").Inc(1)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.pins--
		c.mu.Unlock()
	}()
	fn(e.result)
	return true
}

func (c *cache) Insert(result entity.MeshResult) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[result.Key]; ok {
		return false
	}

	e := &entry{result: result, size: result.SizeBytes()}
	c.entries[result.Key] = c.order.PushFront(e)
	c.bytes += e.size
	c.evictLocked(e)

	c.stats.Gauge("entries").Update(float64(len(c.entries)))
	c.stats.Gauge("bytes").Update(float64(c.bytes))
	return true
}

// evictLocked removes least recently used entries until the cache is within budget.
// Pinned entries and the entry that was just inserted are skipped.
func (c *cache) evictLocked(inserted *entry) {
	elem := c.order.Back()
	for c.overBudgetLocked() && elem != nil {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if e != inserted && e.pins == 0 {
			c.order.Remove(elem)
			delete(c.entries, e.result.Key)
			c.bytes -= e.size
			c.stats.Counter("evictions").Inc(1)
			c.logger.Debugw("evicted mesh", "key", e.result.Key.String(), "bytes", e.size)
		}
		elem = prev
	}
}

func (c *cache) overBudgetLocked() bool {
	if c.cfg.MaxEntries > 0 && len(c.entries) > c.cfg.MaxEntries {
		return true
	}
	return c.cfg.MaxBytes > 0 && c.bytes > c.cfg.MaxBytes
}

func (c *cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
