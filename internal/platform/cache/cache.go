// Package cache provides the concurrency-safe decoded-tile store shared by
// render passes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// ErrNotFound is returned when a tile is not cached. Absence is an expected
// condition, never a failure: entries may be evicted at any time.
var ErrNotFound = errors.New("cache: tile not found")

// TileKey identifies one basemap tile. SourceID namespaces independent map
// sources sharing a single store.
type TileKey struct {
	SourceID string
	Zoom     int
	X        int
	Y        int
}

func (k TileKey) String() string {
	return fmt.Sprintf("%s %d %d %d", k.SourceID, k.Zoom, k.X, k.Y)
}

// Tile is a decoded raster image plus its pixel dimensions. Ownership passes
// to the store on Put; callers only hold a tile for the duration of one draw.
type Tile struct {
	Image  image.Image
	Width  int
	Height int
}

// NewTile wraps a decoded image.
func NewTile(img image.Image) *Tile {
	b := img.Bounds()
	return &Tile{Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Store defines the tile cache operations used by the render engine.
type Store interface {
	// Get retrieves a cached tile. Returns ErrNotFound on miss.
	Get(ctx context.Context, key TileKey) (*Tile, error)

	// Put stores a tile. Concurrent puts for the same key are safe;
	// last write wins.
	Put(ctx context.Context, key TileKey, tile *Tile) error

	// DeleteSource removes all tiles belonging to a source. Used when a
	// source is torn down and its tiles can be reclaimed eagerly.
	DeleteSource(ctx context.Context, sourceID string) error

	// Close releases store resources.
	Close() error
}
