// Package assets provides the overlay stamp composited onto every cover.
package assets

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// StampScale is the nearest-neighbour upscale applied to the label art.
const StampScale = 4

const (
	baseWidth  = 96
	baseHeight = 60
)

var (
	stampOnce sync.Once
	stampImg  *image.NRGBA
)

// Stamp returns the default advisory label. It is rendered once and shared;
// callers must not modify the returned image.
func Stamp() *image.NRGBA {
	stampOnce.Do(func() {
		stampImg = renderStamp()
	})
	return stampImg
}

// StampSize reports the native size of the default stamp.
func StampSize() image.Point {
	return image.Pt(baseWidth*StampScale, baseHeight*StampScale)
}

func renderStamp() *image.NRGBA {
	base := image.NewNRGBA(image.Rect(0, 0, baseWidth, baseHeight))
	draw.Draw(base, base.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)

	// white band behind the middle line
	draw.Draw(base, image.Rect(2, 28, baseWidth-2, 45), image.NewUniform(color.White), image.Point{}, draw.Src)

	drawCentered(base, "PARENTAL", 12, color.White)
	drawCentered(base, "ADVISORY", 25, color.White)
	drawCentered(base, "EXPLICIT", 41, color.Black)
	drawCentered(base, "CONTENT", 57, color.White)

	outline(base, color.White)

	return imaging.Resize(base, baseWidth*StampScale, baseHeight*StampScale, imaging.NearestNeighbor)
}

func drawCentered(dst *image.NRGBA, text string, baseline int, c color.Color) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
	}
	width := d.MeasureString(text).Round()
	d.Dot = fixed.P((dst.Bounds().Dx()-width)/2, baseline)
	d.DrawString(text)
}

func outline(dst *image.NRGBA, c color.Color) {
	b := dst.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		dst.Set(x, b.Min.Y, c)
		dst.Set(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dst.Set(b.Min.X, y, c)
		dst.Set(b.Max.X-1, y, c)
	}
}

// LoadStamp decodes a custom stamp image from path. An empty path returns
// the default stamp.
func LoadStamp(path string) (image.Image, error) {
	if path == "" {
		return Stamp(), nil
	}
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load stamp %s: %w", path, err)
	}
	return img, nil
}
