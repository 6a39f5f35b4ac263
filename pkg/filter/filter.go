// Package filter defines the fixed set of cosmetic cover filters and the
// color transforms behind them.
package filter

import (
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// Filter names one of the supported global color transforms.
type Filter string

const (
	None         Filter = "none"
	Grayscale    Filter = "grayscale"
	Sepia        Filter = "sepia"
	Vintage      Filter = "vintage"
	Cold         Filter = "cold"
	Warm         Filter = "warm"
	HighContrast Filter = "high-contrast"
)

// All returns the filters in display order.
func All() []Filter {
	return []Filter{None, Grayscale, Sepia, Vintage, Cold, Warm, HighContrast}
}

// Parse maps a name to a Filter. Unknown names fall back to None.
func Parse(name string) Filter {
	f := Filter(strings.ToLower(strings.TrimSpace(name)))
	if f.Known() {
		return f
	}
	return None
}

// Known reports whether f is one of the supported filters.
func (f Filter) Known() bool {
	for _, known := range All() {
		if f == known {
			return true
		}
	}
	return false
}

// Label is the human readable button label.
func (f Filter) Label() string {
	if f == None || !f.Known() {
		return "Original"
	}
	return strings.ReplaceAll(string(f), "-", " ")
}

// CSS returns the equivalent CSS filter expression, used by live previews.
func (f Filter) CSS() string {
	switch f {
	case Grayscale:
		return "grayscale(100%)"
	case Sepia:
		return "sepia(100%)"
	case Vintage:
		return "sepia(50%) contrast(1.2) brightness(1.1)"
	case Cold:
		return "hue-rotate(200deg) saturate(0.8)"
	case Warm:
		return "hue-rotate(-30deg) saturate(1.2)"
	case HighContrast:
		return "contrast(1.5)"
	default:
		return "none"
	}
}

// Chain returns the color matrices implementing f. None and unknown
// filters return an empty chain.
func (f Filter) Chain() Chain {
	switch f {
	case Grayscale:
		return Chain{GrayscaleMatrix(1)}
	case Sepia:
		return Chain{SepiaMatrix(1)}
	case Vintage:
		return Chain{SepiaMatrix(0.5), ContrastMatrix(1.2), BrightnessMatrix(1.1)}
	case Cold:
		return Chain{HueRotateMatrix(200), SaturateMatrix(0.8)}
	case Warm:
		return Chain{HueRotateMatrix(-30), SaturateMatrix(1.2)}
	case HighContrast:
		return Chain{ContrastMatrix(1.5)}
	default:
		return nil
	}
}

// Apply returns a filtered copy of img. The source is never modified.
func (f Filter) Apply(img image.Image) *image.NRGBA {
	chain := f.Chain()
	if len(chain) == 0 {
		return imaging.Clone(img)
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return chain.ApplyNRGBA(c)
	})
}
