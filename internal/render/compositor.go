package render

import (
	"image"
	"sync"

	"github.com/irisiflimsi/maptool/internal/wms"
	xdraw "golang.org/x/image/draw"
)

// Surface is the destination drawing surface supplied by the caller. Draw
// scales the source image into the w x h rectangle at (x, y). Implementations
// are not required to be safe for concurrent use; the Compositor serializes
// access.
type Surface interface {
	Draw(img image.Image, x, y, w, h int)
}

// Compositor hands resolved tiles to the destination surface. Fetch and
// decode run in parallel across tiles, but surface mutation is serialized
// behind one mutex.
type Compositor struct {
	mu      sync.Mutex
	surface Surface
}

// NewCompositor wraps a surface for use by concurrent fetch units.
func NewCompositor(surface Surface) *Compositor {
	return &Compositor{surface: surface}
}

// Draw composites a tile image into its destination rectangle. The source may
// be larger than the rectangle; drawing scales it down, which smooths the 2x
// supersampled fetches.
func (c *Compositor) Draw(img image.Image, rect wms.Rect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.surface.Draw(img, rect.X, rect.Y, rect.W, rect.H)
}

// ImageSurface is a Surface backed by an in-memory RGBA image. It backs the
// CLI output and tests; GUI embedders provide their own Surface.
type ImageSurface struct {
	img *image.RGBA
}

// NewImageSurface creates a surface of the given pixel dimensions.
func NewImageSurface(width, height int) *ImageSurface {
	return &ImageSurface{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Draw scales img into the destination rectangle with bilinear filtering.
func (s *ImageSurface) Draw(img image.Image, x, y, w, h int) {
	dst := image.Rect(x, y, x+w, y+h)
	xdraw.ApproxBiLinear.Scale(s.img, dst, img, img.Bounds(), xdraw.Over, nil)
}

// Image returns the composited image.
func (s *ImageSurface) Image() *image.RGBA {
	return s.img
}
