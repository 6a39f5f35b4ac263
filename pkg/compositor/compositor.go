// Package compositor renders covers on a single reused offscreen surface:
// a crop pass that scales the selected source region into a fixed square,
// and a filter+stamp pass that redraws that square through a color filter
// and composites the overlay stamp in the bottom-right corner.
package compositor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"math"
	"sync"
	"sync/atomic"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"

	"github.com/menta2k/cover-studio/pkg/filter"
	"github.com/menta2k/cover-studio/pkg/geometry"
)

// ErrStale is returned by a pass that was superseded by Invalidate before it
// could draw.
var ErrStale = errors.New("composition superseded by a newer request")

// ErrEmptySource is returned when there is nothing to crop.
var ErrEmptySource = errors.New("empty source image")

// Config holds the fixed layout of the output.
type Config struct {
	CanvasSize   int
	StampRatio   float64
	StampPadding int
	// StampAspect is used when the stamp reports no usable dimensions.
	StampAspect float64
}

// DefaultConfig returns the standard 800px cover layout.
func DefaultConfig() Config {
	return Config{
		CanvasSize:   800,
		StampRatio:   0.28,
		StampPadding: 20,
		StampAspect:  1.6,
	}
}

// Compositor owns the offscreen surface. Only one pass draws at a time.
type Compositor struct {
	config  Config
	stamp   *Asset
	mu      sync.Mutex
	surface *image.NRGBA
	gen     atomic.Uint64

	scaledMu    sync.Mutex
	scaledStamp *image.NRGBA
}

// New creates a compositor. stamp is the overlay, usually pre-decoded once
// at startup and shared across passes.
func New(config Config, stamp *Asset) *Compositor {
	if config.CanvasSize <= 0 {
		config.CanvasSize = DefaultConfig().CanvasSize
	}
	if config.StampAspect <= 0 {
		config.StampAspect = DefaultConfig().StampAspect
	}
	return &Compositor{
		config:  config,
		stamp:   stamp,
		surface: image.NewNRGBA(image.Rect(0, 0, config.CanvasSize, config.CanvasSize)),
	}
}

// Config returns the layout in use.
func (c *Compositor) Config() Config {
	return c.config
}

// Invalidate discards every pass that has started but not yet drawn.
func (c *Compositor) Invalidate() {
	c.gen.Add(1)
}

// ApplyCrop maps area to source pixels through fit and draws them scaled
// into the square surface, replacing its previous content. The result is a
// ready Asset holding a private copy: the cropped image.
func (c *Compositor) ApplyCrop(ctx context.Context, src image.Image, area geometry.CropArea, fit geometry.Fit) (*Asset, error) {
	if src == nil || src.Bounds().Empty() {
		return nil, ErrEmptySource
	}
	gen := c.gen.Load()

	bounds := src.Bounds()
	sourceSize := geometry.Size{W: float64(bounds.Dx()), H: float64(bounds.Dy())}
	rect := geometry.DisplayToSource(area, fit, sourceSize)
	if rect.W <= 0 || rect.H <= 0 {
		return nil, fmt.Errorf("crop %+v maps to an empty source region", area)
	}
	srcRect := rect.Bounds(bounds)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen.Load() {
		return nil, ErrStale
	}

	draw.Draw(c.surface, c.surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
	xdraw.CatmullRom.Scale(c.surface, c.surface.Bounds(), src, srcRect, draw.Src, nil)

	return Ready(imaging.Clone(c.surface)), nil
}

// ApplyFilterAndStamp waits for both the base image and the stamp, then
// redraws the base through f and composites the stamp. The pass is
// idempotent and returns a copy of the surface.
func (c *Compositor) ApplyFilterAndStamp(ctx context.Context, base *Asset, f filter.Filter) (*image.NRGBA, error) {
	gen := c.gen.Load()

	assets := []*Asset{base}
	if c.stamp != nil {
		assets = append(assets, c.stamp)
	}
	images, err := Join(ctx, assets...)
	if err != nil {
		return nil, fmt.Errorf("failed waiting for images: %w", err)
	}

	filtered := f.Apply(images[0])
	var stamp image.Image
	if len(images) > 1 {
		stamp = images[1]
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen.Load() {
		return nil, ErrStale
	}

	size := c.config.CanvasSize
	draw.Draw(c.surface, c.surface.Bounds(), image.Transparent, image.Point{}, draw.Src)
	if filtered.Bounds().Dx() == size && filtered.Bounds().Dy() == size {
		draw.Draw(c.surface, c.surface.Bounds(), filtered, filtered.Bounds().Min, draw.Src)
	} else {
		xdraw.CatmullRom.Scale(c.surface, c.surface.Bounds(), filtered, filtered.Bounds(), draw.Src, nil)
	}

	if stamp != nil {
		scaled := c.stampAt(stamp)
		at := c.StampRect(stamp.Bounds().Size())
		draw.Draw(c.surface, at, scaled, scaled.Bounds().Min, draw.Over)
	}

	return imaging.Clone(c.surface), nil
}

// StampRect is where a stamp of the given natural size lands: bottom-right,
// StampRatio of the canvas wide (never upscaled past its natural width),
// height from its aspect ratio, StampPadding from both edges.
func (c *Compositor) StampRect(natural image.Point) image.Rectangle {
	size := c.config.CanvasSize
	desired := int(math.Floor(c.config.StampRatio * float64(size)))
	width := desired
	if natural.X > 0 && natural.X < desired {
		width = natural.X
	}
	aspect := c.config.StampAspect
	if natural.X > 0 && natural.Y > 0 {
		aspect = float64(natural.X) / float64(natural.Y)
	}
	height := int(math.Round(float64(width) / aspect))
	x := size - width - c.config.StampPadding
	y := size - height - c.config.StampPadding
	return image.Rect(x, y, x+width, y+height)
}

// stampAt returns the stamp resampled to its target size. The result is
// cached since the layout is fixed for the compositor's lifetime.
func (c *Compositor) stampAt(stamp image.Image) *image.NRGBA {
	rect := c.StampRect(stamp.Bounds().Size())

	c.scaledMu.Lock()
	defer c.scaledMu.Unlock()
	if c.scaledStamp != nil && c.scaledStamp.Bounds().Size() == rect.Size() {
		return c.scaledStamp
	}
	c.scaledStamp = imaging.Resize(stamp, rect.Dx(), rect.Dy(), imaging.Lanczos)
	return c.scaledStamp
}
