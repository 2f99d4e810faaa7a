// Package wms converts between screen, local map, tile grid, and WMS query
// coordinates, and fetches basemap tiles from a WMS endpoint.
package wms

import (
	"errors"
	"fmt"
	"math"
	"net/url"
)

const (
	// TileSize is the side length of a basemap tile in grid pixels.
	TileSize = 256

	// DefaultWorldScale maps grid units to degrees. World coordinates are
	// approximated linearly: 1 degree (lat or lon) = 100 km, 50 px per 2 m
	// cell, so 25 px/m. The absolute numbers carry 10-20% error, which is
	// fine for tabletop maps; geo-referenced precision is not the goal.
	DefaultWorldScale = 25 * 100 * 1000
)

var (
	// ErrNonPositiveScale is returned for view scales where no zoom level exists.
	ErrNonPositiveScale = errors.New("wms: scale must be positive")

	// ErrInvalidSource is returned when a source has no usable WMS endpoint.
	ErrInvalidSource = errors.New("wms: invalid source")
)

// Source describes one remote map source. It is supplied by the surrounding
// application's zone configuration and treated as immutable during a render.
type Source struct {
	// ID namespaces this source's tiles in the shared cache.
	ID string
	// URL is the WMS endpoint.
	URL string
	// Layers are the named WMS layers to request.
	Layers []string
	// AnchorLat and AnchorLon anchor tile (0,0) in geodetic coordinates.
	AnchorLat float64
	AnchorLon float64
	// WorldScale is the grid-units-per-degree constant. Zero means
	// DefaultWorldScale.
	WorldScale float64
}

// Validate checks that the source can be rendered from.
func (s Source) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing source id", ErrInvalidSource)
	}
	if s.URL == "" {
		return fmt.Errorf("%w: missing endpoint URL", ErrInvalidSource)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSource, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q is not an http(s) URL", ErrInvalidSource, s.URL)
	}
	if len(s.Layers) == 0 {
		return fmt.Errorf("%w: no layers selected", ErrInvalidSource)
	}
	return nil
}

func (s Source) worldScale() float64 {
	if s.WorldScale > 0 {
		return s.WorldScale
	}
	return DefaultWorldScale
}

// Level is a power-of-two zoom bucket of the continuous view scale.
type Level struct {
	// Zoom is floor(log2(scale)).
	Zoom int
	// Scale is 2^Zoom.
	Scale float64
	// Fraction is the residual scale/Scale in [1, 2).
	Fraction float64
}

// LevelFor buckets a continuous view scale into a zoom level.
func LevelFor(scale float64) (Level, error) {
	if scale <= 0 {
		return Level{}, ErrNonPositiveScale
	}
	zoom := int(math.Floor(math.Log2(scale)))
	levelScale := math.Pow(2, float64(zoom))
	return Level{Zoom: zoom, Scale: levelScale, Fraction: scale / levelScale}, nil
}

// TileRange is an inclusive range of tile indices.
type TileRange struct {
	MinX, MinY int
	MaxX, MaxY int
}

// Empty reports whether the range contains no tiles.
func (r TileRange) Empty() bool {
	return r.MaxX < r.MinX || r.MaxY < r.MinY
}

// Count returns the number of tiles in the range.
func (r TileRange) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.MaxX - r.MinX + 1) * (r.MaxY - r.MinY + 1)
}

// VisibleTiles computes the tile indices overlapping a viewport of
// width x height screen pixels under the given level and offset. Corners are
// floored outward so the viewport is fully covered; the right and bottom
// edges are exclusive, so a viewport ending exactly on a tile boundary does
// not pull in the next tile row.
func VisibleTiles(width, height int, level Level, offX, offY int) TileRange {
	if width <= 0 || height <= 0 {
		return TileRange{MinX: 0, MinY: 0, MaxX: -1, MaxY: -1}
	}

	// Screen corners mapped to local map space.
	x1 := float64(-offX) / level.Fraction
	y1 := float64(-offY) / level.Fraction
	x2 := float64(width-offX) / level.Fraction
	y2 := float64(height-offY) / level.Fraction

	return TileRange{
		MinX: int(math.Floor(x1 / TileSize)),
		MinY: int(math.Floor(y1 / TileSize)),
		MaxX: int(math.Ceil(x2/TileSize)) - 1,
		MaxY: int(math.Ceil(y2/TileSize)) - 1,
	}
}

// BBox is a geodetic bounding box in EPSG:4326.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// TileBBox computes the WMS query bounding box for one tile. Longitude grows
// east with grid x; grid y grows downward while latitude grows upward, so the
// y axis inverts.
func TileBBox(src Source, level Level, tx, ty int) BBox {
	step := 1 / level.Scale / src.worldScale()
	return BBox{
		MinLon: src.AnchorLon + float64(tx)*step,
		MaxLon: src.AnchorLon + float64(tx+1)*step,
		MaxLat: src.AnchorLat - float64(ty)*step,
		MinLat: src.AnchorLat - float64(ty+1)*step,
	}
}

// TileForBBox inverts TileBBox at a fixed level, recovering the tile indices
// whose bounding box is b.
func TileForBBox(src Source, level Level, b BBox) (tx, ty int) {
	step := 1 / level.Scale / src.worldScale()
	tx = int(math.Round((b.MinLon - src.AnchorLon) / step))
	ty = int(math.Round((src.AnchorLat - b.MaxLat) / step))
	return tx, ty
}

// Rect is a destination rectangle in screen pixels.
type Rect struct {
	X, Y int
	W, H int
}

// ScreenRect computes the destination rectangle of a tile. The far corner is
// computed independently and the size taken as the difference, so adjacent
// tiles share edges with no rounding gaps.
func ScreenRect(tx, ty int, level Level, offX, offY int) Rect {
	x1 := int(float64(tx)*TileSize*level.Fraction) + offX
	y1 := int(float64(ty)*TileSize*level.Fraction) + offY
	x2 := int((float64(tx)*TileSize+TileSize)*level.Fraction) + offX
	y2 := int((float64(ty)*TileSize+TileSize)*level.Fraction) + offY
	return Rect{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}
