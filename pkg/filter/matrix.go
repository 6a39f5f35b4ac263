package filter

import (
	"image/color"
	"math"
)

// ColorMatrix is a 5x4 color transformation matrix stored in row-major
// order as [R, G, B, A, translate] for each output channel:
//
//	R' = M[0]*R + M[1]*G + M[2]*B + M[3]*A + M[4]
//	G' = M[5]*R + M[6]*G + M[7]*B + M[8]*A + M[9]
//	B' = M[10]*R + M[11]*G + M[12]*B + M[13]*A + M[14]
//	A' = M[15]*R + M[16]*G + M[17]*B + M[18]*A + M[19]
//
// Channels are unpremultiplied values in [0, 1], so translations are in the
// same unit.
type ColorMatrix [20]float64

// Identity leaves colors unchanged.
func Identity() ColorMatrix {
	return ColorMatrix{
		1, 0, 0, 0, 0,
		0, 1, 0, 0, 0,
		0, 0, 1, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// GrayscaleMatrix desaturates by amount in [0, 1] using BT.709 luminance.
func GrayscaleMatrix(amount float64) ColorMatrix {
	a := 1 - clamp01(amount)
	return ColorMatrix{
		0.2126 + 0.7874*a, 0.7152 - 0.7152*a, 0.0722 - 0.0722*a, 0, 0,
		0.2126 - 0.2126*a, 0.7152 + 0.2848*a, 0.0722 - 0.0722*a, 0, 0,
		0.2126 - 0.2126*a, 0.7152 - 0.7152*a, 0.0722 + 0.9278*a, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// SepiaMatrix applies a sepia tone of amount in [0, 1].
func SepiaMatrix(amount float64) ColorMatrix {
	a := 1 - clamp01(amount)
	return ColorMatrix{
		0.393 + 0.607*a, 0.769 - 0.769*a, 0.189 - 0.189*a, 0, 0,
		0.349 - 0.349*a, 0.686 + 0.314*a, 0.168 - 0.168*a, 0, 0,
		0.272 - 0.272*a, 0.534 - 0.534*a, 0.131 + 0.869*a, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// SaturateMatrix scales saturation; 1 is unchanged, 0 is gray.
func SaturateMatrix(s float64) ColorMatrix {
	if s < 0 {
		s = 0
	}
	return ColorMatrix{
		0.213 + 0.787*s, 0.715 - 0.715*s, 0.072 - 0.072*s, 0, 0,
		0.213 - 0.213*s, 0.715 + 0.285*s, 0.072 - 0.072*s, 0, 0,
		0.213 - 0.213*s, 0.715 - 0.715*s, 0.072 + 0.928*s, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// HueRotateMatrix rotates hue by the given number of degrees.
func HueRotateMatrix(degrees float64) ColorMatrix {
	rad := degrees * math.Pi / 180
	c, s := math.Cos(rad), math.Sin(rad)
	return ColorMatrix{
		0.213 + c*0.787 - s*0.213, 0.715 - c*0.715 - s*0.715, 0.072 - c*0.072 + s*0.928, 0, 0,
		0.213 - c*0.213 + s*0.143, 0.715 + c*0.285 + s*0.140, 0.072 - c*0.072 - s*0.283, 0, 0,
		0.213 - c*0.213 - s*0.787, 0.715 - c*0.715 + s*0.715, 0.072 + c*0.928 + s*0.072, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// ContrastMatrix scales distance from mid-gray by c.
func ContrastMatrix(c float64) ColorMatrix {
	if c < 0 {
		c = 0
	}
	t := 0.5 - 0.5*c
	return ColorMatrix{
		c, 0, 0, 0, t,
		0, c, 0, 0, t,
		0, 0, c, 0, t,
		0, 0, 0, 1, 0,
	}
}

// BrightnessMatrix scales RGB by factor.
func BrightnessMatrix(factor float64) ColorMatrix {
	if factor < 0 {
		factor = 0
	}
	return ColorMatrix{
		factor, 0, 0, 0, 0,
		0, factor, 0, 0, 0,
		0, 0, factor, 0, 0,
		0, 0, 0, 1, 0,
	}
}

// apply transforms an unpremultiplied [0,1] color, clamping the result.
func (m *ColorMatrix) apply(r, g, b, a float64) (float64, float64, float64, float64) {
	nr := m[0]*r + m[1]*g + m[2]*b + m[3]*a + m[4]
	ng := m[5]*r + m[6]*g + m[7]*b + m[8]*a + m[9]
	nb := m[10]*r + m[11]*g + m[12]*b + m[13]*a + m[14]
	na := m[15]*r + m[16]*g + m[17]*b + m[18]*a + m[19]
	return clamp01(nr), clamp01(ng), clamp01(nb), clamp01(na)
}

// Chain is an ordered list of matrices. Each step clamps before the next,
// which is how chained CSS filter functions behave.
type Chain []ColorMatrix

// ApplyNRGBA transforms a single color.
func (c Chain) ApplyNRGBA(in color.NRGBA) color.NRGBA {
	if len(c) == 0 {
		return in
	}
	r := float64(in.R) / 255
	g := float64(in.G) / 255
	b := float64(in.B) / 255
	a := float64(in.A) / 255
	for i := range c {
		r, g, b, a = c[i].apply(r, g, b, a)
	}
	return color.NRGBA{R: to8(r), G: to8(g), B: to8(b), A: to8(a)}
}

func to8(v float64) uint8 {
	return uint8(math.Round(clamp01(v) * 255))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
