package imaging

import (
	"image"
	"sync"
)

// DefaultIconSize is the edge of the square app icon sent to the peer.
const DefaultIconSize = 16

// IconLoader fetches the native icon for a source.
type IconLoader func(sourceID string) (image.Image, error)

// IconCache maps a source id to its encoded PNG icon. App icons do not change
// while we run, so an entry is written once and kept until Clear.
type IconCache struct {
	mu      sync.Mutex
	size    int
	entries map[string][]byte
}

func NewIconCache(size int) *IconCache {
	if size <= 0 {
		size = DefaultIconSize
	}
	return &IconCache{
		size:    size,
		entries: make(map[string][]byte),
	}
}

// Lookup returns the cached icon without loading.
func (c *IconCache) Lookup(sourceID string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[sourceID]
	return b, ok
}

// Get returns the cached icon, loading and encoding it on first use. Failures
// are not cached, so the next event for the source tries again.
func (c *IconCache) Get(sourceID string, load IconLoader) ([]byte, error) {
	if b, ok := c.Lookup(sourceID); ok {
		return b, nil
	}

	src, err := load(sourceID)
	if err != nil {
		return nil, err
	}
	encoded, err := IconPNG(src, c.size)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[sourceID]; ok {
		return existing, nil
	}
	c.entries[sourceID] = encoded
	return encoded, nil
}

// Len returns the number of cached icons.
func (c *IconCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry.
func (c *IconCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}
