/**
 * Image enhancement pipeline
 *
 * Fixed stage order: gamma, denoise, CLAHE, deskew, sharpen.
 * Every stage allocates its output; inputs are never written, so one
 * Enhancer may serve any number of pages concurrently.
 */

package enhance

import (
	"image"

	"golang.org/x/image/draw"
)

// Report describes what the pipeline did to one image.
type Report struct {
	MeanLuminance float64
	Gamma         float64 // 1 when the stage was a no-op
	Denoised      bool
	Equalized     bool
	SkewAngle     float64 // detected angle in degrees, 0 when not measured
	Deskewed      bool
	SharpenAmount float64 // amount finally applied, 0 when skipped
	StrokeWidth   float64
}

// Enhancer runs the enhancement stages for a Config.
type Enhancer struct{}

// New returns an Enhancer.
func New() *Enhancer {
	return &Enhancer{}
}

// Enhance applies the configured stages to src and returns a new image.
func (e *Enhancer) Enhance(src *image.Gray, cfg Config) (*image.Gray, Report) {
	img := normalize(src)
	report := Report{Gamma: 1}

	report.MeanLuminance = meanLuminance(img)
	if cfg.GammaTarget > 0 {
		img, report.Gamma = AdjustGamma(img, cfg.GammaTarget)
	}

	if cfg.DenoiseStrength > 0 {
		radius := cfg.DenoiseSearchRadius
		if radius == 0 {
			radius = defaultSearchRadius
		}
		img = Denoise(img, cfg.DenoiseStrength, radius)
		report.Denoised = true
	}

	if cfg.ClaheClipLimit > 0 && cfg.ClaheTiles > 0 {
		img = Equalize(img, cfg.ClaheClipLimit, cfg.ClaheTiles)
		report.Equalized = true
	}

	if cfg.DeskewRange > 0 {
		angle, ok := DetectSkew(img, cfg.DeskewRange)
		if ok {
			report.SkewAngle = angle
			if shouldRotate(angle) {
				img = Rotate(img, angle)
				report.Deskewed = true
			}
		}
	}

	if amount := cfg.Sharpen.amount(); amount > 0 {
		img, report.SharpenAmount, report.StrokeWidth = Sharpen(img, amount)
	}

	return img, report
}

// ToGray converts any image into an 8-bit grayscale image anchored at the origin.
func ToGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return normalize(g)
	}
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	return dst
}

// normalize returns g itself when it is origin-anchored with a tight stride,
// otherwise a compact copy. Stages index Pix as y*w+x.
func normalize(g *image.Gray) *image.Gray {
	b := g.Bounds()
	if b.Min == (image.Point{}) && g.Stride == b.Dx() {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):]
		copy(dst.Pix[y*b.Dx():(y+1)*b.Dx()], row[:b.Dx()])
	}
	return dst
}

func clone(g *image.Gray) *image.Gray {
	dst := image.NewGray(g.Rect)
	copy(dst.Pix, g.Pix)
	return dst
}

func meanLuminance(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range g.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(g.Pix))
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
