package storage

import (
	"sort"
	"sync"

	"github.com/samvad-hq/samvad-feed-mailer/internal/logger"
	"github.com/samvad-hq/samvad-feed-mailer/pkg/sources"
)

// IdentifierCache is the in-memory view of one source's processed identifiers.
type IdentifierCache struct {
	mu      sync.Mutex
	src     sources.Source
	backend Backend
	ids     map[string]struct{}
	log     logger.Logger
}

// LoadIdentifierCache reads the persisted set for src. Unreadable data yields an empty set.
func LoadIdentifierCache(src sources.Source, backend Backend, log logger.Logger) *IdentifierCache {
	log = logger.OrNop(log)
	if backend == nil {
		backend = noopBackend{}
	}

	c := &IdentifierCache{
		src:     src,
		backend: backend,
		ids:     make(map[string]struct{}),
		log:     log,
	}

	ids, err := backend.LoadIDs(src)
	if err != nil {
		log.ErrorObj("identifier cache unreadable, starting empty", "cache_error", map[string]any{
			"source": src.Name,
			"error":  err.Error(),
		})
		return c
	}
	for _, id := range ids {
		c.ids[id] = struct{}{}
	}
	log.DebugObj("identifier cache loaded", "cache_meta", map[string]any{
		"source": src.Name,
		"count":  len(c.ids),
	})
	return c
}

// Contains reports whether id was already processed.
func (c *IdentifierCache) Contains(id string) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.ids[id]
	return ok
}

// MarkSeen records id in memory. Call Persist to flush.
func (c *IdentifierCache) MarkSeen(id string) {
	if c == nil || id == "" {
		return
	}
	c.mu.Lock()
	c.ids[id] = struct{}{}
	c.mu.Unlock()
}

// Len returns the number of known identifiers.
func (c *IdentifierCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Persist writes the full set through the backend.
func (c *IdentifierCache) Persist() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	ids := make([]string, 0, len(c.ids))
	for id := range c.ids {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	sort.Strings(ids)
	return c.backend.SaveIDs(c.src, ids)
}
