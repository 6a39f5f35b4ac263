// Package geometry maps between display space (the letterboxed preview
// container) and source space (pixels of the original image), and keeps the
// square crop selection inside the visible image.
//
// Fit is the single source of truth for letterboxing. Every other function
// in this package takes a Fit value produced by it instead of re-deriving the
// displayed image rectangle.
package geometry

import (
	"image"
	"math"
)

// Size is a width/height pair in pixels.
type Size struct {
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Aspect returns W/H, or 0 for an empty size.
func (s Size) Aspect() float64 {
	if s.H <= 0 {
		return 0
	}
	return s.W / s.H
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.W > 0 && s.H > 0
}

// Point is a position in display or source space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p-q.
func (p Point) Sub(q Point) Point {
	return Point{X: p.X - q.X, Y: p.Y - q.Y}
}

// Fit describes where the source image sits inside the container after an
// aspect-fit, centered scale.
type Fit struct {
	DisplayWidth  float64 `json:"display_width"`
	DisplayHeight float64 `json:"display_height"`
	OffsetX       float64 `json:"offset_x"`
	OffsetY       float64 `json:"offset_y"`
}

// Empty reports whether the fit has no visible area.
func (f Fit) Empty() bool {
	return f.DisplayWidth <= 0 || f.DisplayHeight <= 0
}

// CropArea is the square selection in display-space coordinates.
type CropArea struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Size float64 `json:"size"`
}

// Origin returns the top-left corner of the selection.
func (a CropArea) Origin() Point {
	return Point{X: a.X, Y: a.Y}
}

// Contains reports whether p lies inside the selection.
func (a CropArea) Contains(p Point) bool {
	return p.X >= a.X && p.X <= a.X+a.Size && p.Y >= a.Y && p.Y <= a.Y+a.Size
}

// Rect is an axis-aligned rectangle in source space.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Bounds converts r to an integer rectangle inside within. The result is
// never empty as long as within is not empty.
func (r Rect) Bounds(within image.Rectangle) image.Rectangle {
	x0 := within.Min.X + int(math.Floor(r.X))
	y0 := within.Min.Y + int(math.Floor(r.Y))
	x1 := within.Min.X + int(math.Ceil(r.X+r.W))
	y1 := within.Min.Y + int(math.Ceil(r.Y+r.H))
	rect := image.Rect(x0, y0, x1, y1).Intersect(within)
	if rect.Empty() && !within.Empty() {
		x := clampInt(x0, within.Min.X, within.Max.X-1)
		y := clampInt(y0, within.Min.Y, within.Max.Y-1)
		rect = image.Rect(x, y, x+1, y+1)
	}
	return rect
}

// FitContain letterboxes source into container: the wider of the two aspect
// ratios decides whether the image spans the full width or the full height.
// Non-positive sizes yield an empty Fit.
func FitContain(source, container Size) Fit {
	if !source.Valid() || !container.Valid() {
		return Fit{}
	}
	sourceAspect := source.Aspect()
	if sourceAspect > container.Aspect() {
		displayHeight := container.W / sourceAspect
		return Fit{
			DisplayWidth:  container.W,
			DisplayHeight: displayHeight,
			OffsetX:       0,
			OffsetY:       (container.H - displayHeight) / 2,
		}
	}
	displayWidth := container.H * sourceAspect
	return Fit{
		DisplayWidth:  displayWidth,
		DisplayHeight: container.H,
		OffsetX:       (container.W - displayWidth) / 2,
		OffsetY:       0,
	}
}

// DisplayToSource maps a display-space crop to the source pixels it covers.
// The result never reads outside [0,W]x[0,H] of the source.
func DisplayToSource(area CropArea, fit Fit, source Size) Rect {
	if fit.Empty() || !source.Valid() {
		return Rect{}
	}
	scale := source.W / fit.DisplayWidth
	adjustedX := math.Max(0, area.X-fit.OffsetX)
	adjustedY := math.Max(0, area.Y-fit.OffsetY)
	sourceSize := area.Size * scale

	sourceX := math.Max(0, math.Min(adjustedX*scale, source.W-sourceSize))
	sourceY := math.Max(0, math.Min(adjustedY*scale, source.H-sourceSize))

	return Rect{
		X: sourceX,
		Y: sourceY,
		W: math.Max(0, math.Min(sourceSize, source.W-sourceX)),
		H: math.Max(0, math.Min(sourceSize, source.H-sourceY)),
	}
}

// SourceToDisplay maps a source-space point onto the letterboxed preview.
func SourceToDisplay(p Point, fit Fit, source Size) Point {
	if fit.Empty() || !source.Valid() {
		return Point{}
	}
	scale := fit.DisplayWidth / source.W
	return Point{
		X: fit.OffsetX + p.X*scale,
		Y: fit.OffsetY + p.Y*scale,
	}
}

// MaxCropSize is the largest square that fits inside the displayed image.
func MaxCropSize(fit Fit) float64 {
	return math.Min(fit.DisplayWidth, fit.DisplayHeight)
}

// ClampSize limits size to [minSize, MaxCropSize(fit)]. When the displayed
// image is smaller than minSize the maximum wins.
func ClampSize(size, minSize float64, fit Fit) float64 {
	maxSize := MaxCropSize(fit)
	if minSize > maxSize {
		minSize = maxSize
	}
	return clamp(size, minSize, maxSize)
}

// ClampOrigin moves area so that it lies within the displayed image. The
// size is left untouched; callers clamp it first.
func ClampOrigin(area CropArea, fit Fit) CropArea {
	area.X = clamp(area.X, fit.OffsetX, fit.OffsetX+fit.DisplayWidth-area.Size)
	area.Y = clamp(area.Y, fit.OffsetY, fit.OffsetY+fit.DisplayHeight-area.Size)
	return area
}

// Constrain clamps both the size and the origin of area.
func Constrain(area CropArea, minSize float64, fit Fit) CropArea {
	area.Size = ClampSize(area.Size, minSize, fit)
	return ClampOrigin(area, fit)
}

// InitialCrop returns a selection of defaultSize (clamped to fit) centered
// on the displayed image.
func InitialCrop(fit Fit, defaultSize, minSize float64) CropArea {
	size := ClampSize(defaultSize, minSize, fit)
	return CropArea{
		X:    fit.OffsetX + (fit.DisplayWidth-size)/2,
		Y:    fit.OffsetY + (fit.DisplayHeight-size)/2,
		Size: size,
	}
}

// CenterOn places a square of the given size centered on p, clamped into
// the displayed image.
func CenterOn(p Point, size, minSize float64, fit Fit) CropArea {
	size = ClampSize(size, minSize, fit)
	return ClampOrigin(CropArea{X: p.X - size/2, Y: p.Y - size/2, Size: size}, fit)
}

// Within reports whether area satisfies the containment invariant for fit,
// allowing eps of floating point slack.
func Within(area CropArea, fit Fit, eps float64) bool {
	return area.X >= fit.OffsetX-eps &&
		area.Y >= fit.OffsetY-eps &&
		area.X+area.Size <= fit.OffsetX+fit.DisplayWidth+eps &&
		area.Y+area.Size <= fit.OffsetY+fit.DisplayHeight+eps
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
