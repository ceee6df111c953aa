package graph

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio"
)

// Memory cache bounds: at most memCap entries; on overflow the oldest
// third is evicted.
const (
	memCap        = 50
	evictDivisor  = 3
	DefaultTTL    = time.Hour
	cacheFileExt  = ".graph.json"
	cacheFileMode = 0o644
)

type memEntry struct {
	graph   *Graph
	savedAt time.Time
}

// Cache memoizes graph views in memory with an on-disk second level.
// Entries expire after the TTL regardless of level.
type Cache struct {
	dir    string
	ttl    time.Duration
	logger *slog.Logger

	mu  sync.Mutex
	mem map[string]memEntry

	now func() time.Time
}

// NewCache creates a cache persisting blobs under dir. An empty dir
// keeps the cache memory-only.
func NewCache(dir string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	return &Cache{
		dir:    dir,
		ttl:    ttl,
		logger: logger,
		mem:    make(map[string]memEntry),
		now:    time.Now,
	}
}

// Get looks a key up in memory first, then on disk. Expired entries
// miss. A disk hit is promoted into memory.
func (c *Cache) Get(key string) (*Graph, bool) {
	c.mu.Lock()
	if e, ok := c.mem[key]; ok {
		if c.now().Sub(e.savedAt) <= c.ttl {
			c.mu.Unlock()
			return e.graph, true
		}
		delete(c.mem, key)
	}
	c.mu.Unlock()

	if c.dir == "" {
		return nil, false
	}

	// Disk read happens outside the lock.
	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		return nil, false
	}
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		c.logger.Warn("graph_cache_blob_corrupt", slog.String("key", key))
		_ = os.Remove(c.filePath(key))
		return nil, false
	}
	if c.now().Sub(time.Unix(g.CreatedAt, 0)) > c.ttl {
		return nil, false
	}

	c.mu.Lock()
	c.store(key, &g, time.Unix(g.CreatedAt, 0))
	c.mu.Unlock()
	return &g, true
}

// Put stores a view in memory and, when a directory is configured, on
// disk via an atomic rename.
func (c *Cache) Put(key string, g *Graph) {
	c.mu.Lock()
	c.store(key, g, c.now())
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		c.logger.Warn("graph_cache_encode_failed", slog.String("key", key))
		return
	}
	if err := renameio.WriteFile(c.filePath(key), data, cacheFileMode); err != nil {
		c.logger.Warn("graph_cache_write_failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// store inserts under the lock, evicting the oldest third on overflow.
func (c *Cache) store(key string, g *Graph, at time.Time) {
	c.mem[key] = memEntry{graph: g, savedAt: at}
	if len(c.mem) <= memCap {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	entries := make([]aged, 0, len(c.mem))
	for k, e := range c.mem {
		entries = append(entries, aged{k, e.savedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].at.Before(entries[j].at)
	})
	for _, e := range entries[:memCap/evictDivisor] {
		delete(c.mem, e.key)
	}
}

// Invalidate clears the memory level and removes every on-disk blob.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.mem = make(map[string]memEntry)
	c.mu.Unlock()

	if c.dir == "" {
		return
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+cacheFileExt))
	if err != nil {
		return
	}
	for _, m := range matches {
		_ = os.Remove(m)
	}
	c.logger.Debug("graph_cache_invalidated", slog.Int("files", len(matches)))
}

// Len reports the in-memory entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.mem)
}

func (c *Cache) filePath(key string) string {
	return filepath.Join(c.dir, key+cacheFileExt)
}
