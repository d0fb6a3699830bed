package enhance

import (
	"image"
	"math"
)

const (
	lowLuminance  = 100.0
	highLuminance = 180.0
	minGamma      = 0.5
	maxGamma      = 2.0
)

// AdjustGamma brightens dark pages and darkens washed-out ones. The exponent
// maps the current mean luminance onto target and is clamped to [0.5, 2].
// Pages whose mean lies within [100, 180] are returned unchanged with gamma 1.
func AdjustGamma(g *image.Gray, target float64) (*image.Gray, float64) {
	mean := meanLuminance(g)
	gamma := GammaFor(mean, target)
	if gamma == 1 {
		return g, 1
	}

	var lut [256]uint8
	for i := range lut {
		lut[i] = clampByte(255 * math.Pow(float64(i)/255, gamma))
	}
	dst := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		dst.Pix[i] = lut[v]
	}
	return dst, gamma
}

// GammaFor returns the exponent applied for a page of the given mean luminance.
func GammaFor(mean, target float64) float64 {
	if target <= 0 || target >= 255 {
		return 1
	}
	if mean >= lowLuminance && mean <= highLuminance {
		return 1
	}
	m := math.Min(math.Max(mean, 1), 254)
	gamma := math.Log(target/255) / math.Log(m/255)
	gamma = math.Min(math.Max(gamma, minGamma), maxGamma)

	// dark pages only ever brighten, bright pages only ever darken
	if mean < lowLuminance {
		gamma = math.Min(gamma, 1)
	} else {
		gamma = math.Max(gamma, 1)
	}
	return gamma
}
