package enhance

import (
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"
)

const (
	minSigma          = 0.6
	maxStrokeRun      = 40
	defaultStroke     = 2.0
	ringingNoiseFloor = 0.002 // extra isolated extremes tolerated, as a fraction of pixels
	extremeMargin     = 64
	maxAmountHalvings = 2
)

// Sharpen applies an unsharp mask whose blur radius follows the estimated
// stroke width. If the result shows more isolated bright or dark pixels than
// the input by more than the noise floor, the amount is halved and retried;
// after two halvings the stage is skipped. It returns the image, the amount
// actually applied and the stroke width estimate.
func Sharpen(g *image.Gray, amount float64) (*image.Gray, float64, float64) {
	stroke := StrokeWidth(g)
	sigma := math.Max(minSigma, stroke/2)

	blurred := ToGray(imaging.Blur(g, sigma))
	baseline := IsolatedExtremes(g)
	allowed := baseline + int(ringingNoiseFloor*float64(len(g.Pix)))

	for i := 0; i <= maxAmountHalvings; i++ {
		out := unsharp(g, blurred, amount)
		if IsolatedExtremes(out) <= allowed {
			return out, amount, stroke
		}
		amount /= 2
	}
	return g, 0, stroke
}

func unsharp(g, blurred *image.Gray, amount float64) *image.Gray {
	dst := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		f := float64(v)
		dst.Pix[i] = clampByte(f + amount*(f-float64(blurred.Pix[i])))
	}
	return dst
}

// StrokeWidth is the median length of horizontal dark runs, a proxy for the
// pen width of the glyphs.
func StrokeWidth(g *image.Gray) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	threshold := uint8(OtsuLevel(g))
	light := false
	for _, v := range g.Pix {
		if v > threshold {
			light = true
			break
		}
	}
	if !light {
		return defaultStroke
	}
	var runs []int
	for y := 0; y < h; y++ {
		run := 0
		for x := 0; x < w; x++ {
			if g.Pix[y*w+x] <= threshold {
				run++
				continue
			}
			if run > 0 && run <= maxStrokeRun {
				runs = append(runs, run)
			}
			run = 0
		}
		if run > 0 && run <= maxStrokeRun {
			runs = append(runs, run)
		}
	}
	if len(runs) == 0 {
		return defaultStroke
	}
	sort.Ints(runs)
	return float64(runs[len(runs)/2])
}

// IsolatedExtremes counts pixels that are brighter, or darker, than all eight
// neighbours by more than a fixed margin. Unsharp ringing shows up as such
// single-pixel halos.
func IsolatedExtremes(g *image.Gray) int {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	count := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int(g.Pix[y*w+x])
			brighter, darker := true, true
			for dy := -1; dy <= 1 && (brighter || darker); dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					n := int(g.Pix[(y+dy)*w+x+dx])
					if c-n <= extremeMargin {
						brighter = false
					}
					if n-c <= extremeMargin {
						darker = false
					}
				}
			}
			if brighter || darker {
				count++
			}
		}
	}
	return count
}

// OtsuLevel returns the global Otsu threshold of g. A uniform image yields
// its single gray level.
func OtsuLevel(g *image.Gray) int {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	return otsuFromHistogram(hist, len(g.Pix))
}

func otsuFromHistogram(hist [256]int, total int) int {
	if total == 0 {
		return 0
	}
	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}
	var sumB, wB float64
	best, level := -1.0, 0
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			if best < 0 {
				level = t
			}
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best, level = between, t
		}
	}
	return level
}
