package cache

import (
	"container/list"
	"context"
	"sync"
)

const (
	// DefaultMaxItems is the hard ceiling on decoded tiles held in memory.
	// This, not the recency index, is what actually bounds memory use.
	DefaultMaxItems = 512

	// DefaultRecencyCapacity bounds the advisory recency index.
	DefaultRecencyCapacity = 200
)

type storeItem struct {
	key  TileKey
	tile *Tile
}

// MemoryStore is an in-memory LRU tile store. Tiles survive eviction from the
// recency index and remain retrievable until the LRU ceiling pushes them out,
// mirroring weak-reference caching with an explicit bound.
type MemoryStore struct {
	mu       sync.RWMutex
	maxItems int
	items    map[TileKey]*list.Element
	lru      *list.List
	recency  *recencyIndex
}

// MemoryStoreConfig holds MemoryStore configuration.
type MemoryStoreConfig struct {
	MaxItems        int
	RecencyCapacity int
}

// NewMemoryStore creates a MemoryStore. Zero config fields take defaults.
func NewMemoryStore(cfg MemoryStoreConfig) *MemoryStore {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.RecencyCapacity <= 0 {
		cfg.RecencyCapacity = DefaultRecencyCapacity
	}

	return &MemoryStore{
		maxItems: cfg.MaxItems,
		items:    make(map[TileKey]*list.Element),
		lru:      list.New(),
		recency:  newRecencyIndex(cfg.RecencyCapacity),
	}
}

// Get retrieves a tile and marks it most recently used.
func (s *MemoryStore) Get(_ context.Context, key TileKey) (*Tile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, ok := s.items[key]
	if !ok {
		return nil, ErrNotFound
	}

	s.lru.MoveToFront(element)
	return element.Value.(*storeItem).tile, nil
}

// Put stores a tile, records the key in the recency index, and evicts the
// least recently used tile when the ceiling is exceeded.
func (s *MemoryStore) Put(_ context.Context, key TileKey, tile *Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recency.Add(key)

	if element, ok := s.items[key]; ok {
		element.Value.(*storeItem).tile = tile
		s.lru.MoveToFront(element)
		return nil
	}

	element := s.lru.PushFront(&storeItem{key: key, tile: tile})
	s.items[key] = element

	if s.lru.Len() > s.maxItems {
		s.evictOldest()
	}

	return nil
}

// DeleteSource removes every tile whose key belongs to sourceID.
func (s *MemoryStore) DeleteSource(_ context.Context, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, element := range s.items {
		if key.SourceID == sourceID {
			s.lru.Remove(element)
			delete(s.items, key)
		}
	}
	return nil
}

// Close releases the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[TileKey]*list.Element)
	s.lru.Init()
	return nil
}

// Len returns the number of cached tiles.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// RecencyLen returns the number of keys tracked by the recency index.
func (s *MemoryStore) RecencyLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recency.Len()
}

// RecentlyUsed reports whether key is still tracked by the recency index.
// Tracking is advisory: a false result says nothing about cache membership.
func (s *MemoryStore) RecentlyUsed(key TileKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recency.Contains(key)
}

// caller must hold s.mu
func (s *MemoryStore) evictOldest() {
	element := s.lru.Back()
	if element == nil {
		return
	}
	item := element.Value.(*storeItem)
	s.lru.Remove(element)
	delete(s.items, item.key)
}
