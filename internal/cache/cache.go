// Package cache implements the segment cache: a concurrent map from
// segment id to an open, reference-counted *segstore.Segment, opened
// lazily (with a full scan) on first access.
//
// A mutex guards the map; an evict path force-closes the underlying
// segment. There is no capacity bound — the only eviction trigger is
// trim/compaction, never "cache too big", so an LRU ordering has nothing
// to order: an entry is only ever removed by an explicit Evict call,
// never by capacity pressure. Eviction here is a plain map delete.
package cache

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"sharedlog/internal/segstore"
)

// Cache owns every open Segment for one engine instance. The mutex it
// embeds also guards the lazy-open path, so that concurrent GetSegment
// calls for a cold segment id never race to scan it twice.
type Cache struct {
	mu       sync.Mutex
	dir      string
	config   segstore.Config
	segments map[uint64]*segstore.Segment
	log      *zap.SugaredLogger
}

// New returns an empty Cache rooted at dir, using config to open segments.
func New(dir string, config segstore.Config, log *zap.SugaredLogger) *Cache {
	return &Cache{
		dir:      dir,
		config:   config,
		segments: make(map[uint64]*segstore.Segment),
		log:      log,
	}
}

// GetSegment returns a retained handle to segment id, opening (and fully
// scanning) it first if it is not already cached. The caller must call
// Release on the returned segment exactly once.
func (c *Cache) GetSegment(id uint64) (*segstore.Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seg, ok := c.segments[id]; ok {
		seg.Retain()
		return seg, nil
	}

	seg, err := segstore.Open(c.dir, id, c.config)
	if err != nil {
		return nil, fmt.Errorf("cache: open segment %d: %w", id, err)
	}
	c.segments[id] = seg
	seg.Retain()
	return seg, nil
}

// GetForAddress returns a retained handle to the segment owning address,
// given recordsPerSegment (R). Equivalent to GetSegment(address /
// recordsPerSegment).
func (c *Cache) GetForAddress(address uint64, recordsPerSegment uint64) (*segstore.Segment, error) {
	return c.GetSegment(address / recordsPerSegment)
}

// Peek returns the cached segment for id without opening it and without
// retaining it, for callers (the trim/compact path) that already hold
// the engine-wide compaction lock and only need to know whether a
// segment happens to be open.
func (c *Cache) Peek(id uint64) (*segstore.Segment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.segments[id]
	return seg, ok
}

// Evict removes id from the cache and closes its segment. It does not
// wait for outstanding readers: a non-zero ref count is logged as a
// warning and the segment is closed anyway.
func (c *Cache) Evict(id uint64) error {
	c.mu.Lock()
	seg, ok := c.segments[id]
	if ok {
		delete(c.segments, id)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if refs := seg.RefCount(); refs > 0 {
		c.log.Warnw("evicting segment with outstanding references",
			"segment_id", id, "ref_count", refs)
	}
	return seg.Close()
}

// Ids returns a snapshot of every currently cached segment id.
func (c *Cache) Ids() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.segments))
	for id := range c.segments {
		ids = append(ids, id)
	}
	return ids
}

// Close closes every cached segment and empties the cache.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, seg := range c.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cache: close segment %d: %w", id, err)
		}
	}
	c.segments = make(map[uint64]*segstore.Segment)
	return firstErr
}
