package schematic

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/schemerge/internal/codec"
	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"
)

// pageCache keeps recently decoded SVG snappy-compressed, keyed by the
// murmur3 hash of the encoded blob.
type pageCache struct {
	mu      sync.Mutex
	max     int
	entries map[uint64]*list.Element
	order   *list.List
	logger  *zap.Logger
}

type pageCacheEntry struct {
	key        uint64
	compressed []byte
}

func newPageCache(capacity int, logger *zap.Logger) *pageCache {
	return &pageCache{
		max:     capacity,
		entries: make(map[uint64]*list.Element, capacity),
		order:   list.New(),
		logger:  logger,
	}
}

func hashOf(encoded string) uint64 {
	return murmur3.Sum64([]byte(encoded))
}

func (c *pageCache) decode(encoded string) (string, error) {
	key := hashOf(encoded)
	if svg, ok := c.get(key); ok {
		return svg, nil
	}
	c.logger.Debug("page cache miss", zap.Uint64("key", key), zap.Int("encoded_bytes", len(encoded)))
	svg, err := codec.Decode(encoded)
	if err != nil {
		return "", err
	}
	c.put(key, svg)
	return svg, nil
}

func (c *pageCache) get(key uint64) (string, bool) {
	c.mu.Lock()
	element, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return "", false
	}
	c.order.MoveToFront(element)
	compressed := element.Value.(*pageCacheEntry).compressed
	c.mu.Unlock()

	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		c.logger.Warn("page cache entry corrupt", zap.Uint64("key", key), zap.Error(fmt.Errorf("snappy: %w", err)))
		c.remove(key)
		return "", false
	}
	return string(raw), true
}

func (c *pageCache) put(key uint64, svg string) {
	compressed := snappy.Encode(nil, []byte(svg))

	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.entries[key]; ok {
		element.Value.(*pageCacheEntry).compressed = compressed
		c.order.MoveToFront(element)
		return
	}
	c.entries[key] = c.order.PushFront(&pageCacheEntry{key: key, compressed: compressed})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*pageCacheEntry).key)
	}
}

func (c *pageCache) remove(key uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if element, ok := c.entries[key]; ok {
		c.order.Remove(element)
		delete(c.entries, key)
	}
}

func (c *pageCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
