package enhance

import (
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniform(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

// textLines draws dark horizontal bars tilted by angle degrees (positive falls to the right).
func textLines(w, h int, angle float64) *image.Gray {
	g := uniform(w, h, 250)
	slope := math.Tan(angle * math.Pi / 180)
	cx := float64(w) / 2
	for y0 := 60; y0 < h-60; y0 += 40 {
		for x := 80; x < w-80; x++ {
			yc := float64(y0) + (float64(x)-cx)*slope
			for t := 0; t < 6; t++ {
				y := int(math.Round(yc)) + t
				if y >= 0 && y < h {
					g.Pix[y*w+x] = 20
				}
			}
		}
	}
	return g
}

func TestGammaFor(t *testing.T) {
	assert.Equal(t, 1.0, GammaFor(140, 128))
	assert.Equal(t, 1.0, GammaFor(100, 128))
	assert.Equal(t, 1.0, GammaFor(180, 128))

	dark := GammaFor(80, 128)
	darker := GammaFor(40, 128)
	assert.Less(t, dark, 1.0)
	assert.LessOrEqual(t, darker, dark, "darker pages get a stronger correction")
	assert.GreaterOrEqual(t, darker, minGamma)

	bright := GammaFor(200, 128)
	assert.Greater(t, bright, 1.0)
	assert.LessOrEqual(t, GammaFor(250, 128), maxGamma)

	assert.Equal(t, 1.0, GammaFor(20, 0), "zero target disables the stage")
}

func TestAdjustGammaBrightensDarkPage(t *testing.T) {
	src := uniform(20, 20, 60)
	out, gamma := AdjustGamma(src, 128)

	assert.Less(t, gamma, 1.0)
	assert.Greater(t, meanLuminance(out), 60.0)
	assert.Equal(t, uint8(60), src.Pix[0], "input untouched")
}

func TestDenoiseSmoothsSpecklesAndKeepsEdges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	w, h := 40, 40
	clean := uniform(w, h, 230)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			clean.Pix[y*w+x] = 30
		}
	}
	noisy := clone(clean)
	for i := range noisy.Pix {
		noisy.Pix[i] = clampByte(float64(noisy.Pix[i]) + rng.NormFloat64()*12)
	}

	out := Denoise(noisy, 15, 3)

	errBefore, errAfter := 0.0, 0.0
	for i := range clean.Pix {
		errBefore += math.Abs(float64(noisy.Pix[i]) - float64(clean.Pix[i]))
		errAfter += math.Abs(float64(out.Pix[i]) - float64(clean.Pix[i]))
	}
	assert.Less(t, errAfter, errBefore)

	// the edge between the halves stays sharp
	row := 20 * w
	assert.Less(t, int(out.Pix[row+w/2-2]), 100)
	assert.Greater(t, int(out.Pix[row+w/2+1]), 160)
}

func TestEqualizeKeepsUniformTilesNearIdentity(t *testing.T) {
	src := uniform(64, 64, 255)
	out := Equalize(src, 2, 8)
	for _, v := range out.Pix {
		require.Equal(t, uint8(255), v)
	}
}

func TestEqualizeStretchesLowContrast(t *testing.T) {
	w, h := 64, 64
	src := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Pix[y*w+x] = uint8(110 + (x+y)%20)
		}
	}
	out := Equalize(src, 4, 4)

	lo, hi := 255, 0
	for _, v := range out.Pix {
		lo, hi = min(lo, int(v)), max(hi, int(v))
	}
	assert.Greater(t, hi-lo, 19, "contrast widened")
}

func TestDetectSkew(t *testing.T) {
	for _, angle := range []float64{-3, 0, 2, 3} {
		g := textLines(800, 600, angle)
		got, ok := DetectSkew(g, 10)
		require.True(t, ok)
		assert.InDelta(t, angle, got, 0.3, "angle %v", angle)
	}
}

func TestDetectSkewBlankPage(t *testing.T) {
	_, ok := DetectSkew(uniform(300, 300, 255), 10)
	assert.False(t, ok)
}

func TestShouldRotate(t *testing.T) {
	assert.False(t, shouldRotate(0.3))
	assert.False(t, shouldRotate(-0.5))
	assert.True(t, shouldRotate(0.6))
	assert.True(t, shouldRotate(-15))
	assert.False(t, shouldRotate(15.1))
}

func TestEnhanceDeskewsTiltedPage(t *testing.T) {
	g := textLines(800, 600, 3)
	out, report := New().Enhance(g, Config{DeskewRange: 10})

	require.True(t, report.Deskewed)
	assert.InDelta(t, 3, report.SkewAngle, 0.3)

	residual, ok := DetectSkew(out, 10)
	require.True(t, ok)
	assert.InDelta(t, 0, residual, 0.5)
}

func TestSharpenRaisesEdgeContrastWithoutRinging(t *testing.T) {
	w, h := 60, 30
	src := uniform(w, h, 200)
	for y := 0; y < h; y++ {
		for x := 30; x < w; x++ {
			src.Pix[y*w+x] = 60
		}
	}
	out, amount, stroke := Sharpen(src, 1.0)

	assert.Equal(t, 1.0, amount)
	assert.Equal(t, 30.0, stroke)
	assert.Equal(t, 0, IsolatedExtremes(out))
	assert.Greater(t, int(out.Pix[5*w+29]), 200, "overshoot on the light side")
	assert.Less(t, int(out.Pix[5*w+30]), 60, "undershoot on the dark side")
	assert.Equal(t, uint8(200), src.Pix[5*w+29], "input untouched")
}

func TestIsolatedExtremes(t *testing.T) {
	g := uniform(10, 10, 128)
	assert.Equal(t, 0, IsolatedExtremes(g))

	g.Pix[5*10+5] = 255
	g.Pix[2*10+2] = 0
	assert.Equal(t, 2, IsolatedExtremes(g))

	// a 2x2 blob is not isolated
	g.Pix[7*10+7], g.Pix[7*10+8] = 255, 255
	assert.Equal(t, 2, IsolatedExtremes(g))
}

func TestStrokeWidth(t *testing.T) {
	w, h := 50, 10
	g := uniform(w, h, 255)
	for y := 0; y < h; y++ {
		for x := 10; x < 13; x++ {
			g.Pix[y*w+x] = 0
		}
		for x := 30; x < 33; x++ {
			g.Pix[y*w+x] = 0
		}
	}
	assert.Equal(t, 3.0, StrokeWidth(g))
	assert.Equal(t, defaultStroke, StrokeWidth(uniform(5, 5, 255)))
}

func TestEnhanceDoesNotMutateInput(t *testing.T) {
	src := textLines(300, 200, 2)
	before := append([]uint8(nil), src.Pix...)

	cfg := Config{GammaTarget: 128, DenoiseStrength: 10, ClaheClipLimit: 2, ClaheTiles: 4, DeskewRange: 5, Sharpen: SharpenUnsharp}
	_, _ = New().Enhance(src, cfg)

	assert.Equal(t, before, src.Pix)
}

func TestEnhanceSkipsDisabledStages(t *testing.T) {
	src := uniform(16, 16, 40)
	out, report := New().Enhance(src, Config{})
	assert.Equal(t, src.Pix, out.Pix)
	assert.Equal(t, 1.0, report.Gamma)
	assert.False(t, report.Denoised)
	assert.False(t, report.Equalized)
	assert.False(t, report.Deskewed)
	assert.Equal(t, 0.0, report.SharpenAmount)
}

func TestToGrayNormalizesSubImage(t *testing.T) {
	g := textLines(100, 100, 0)
	sub := g.SubImage(image.Rect(10, 20, 60, 70)).(*image.Gray)
	out := ToGray(sub)
	assert.Equal(t, image.Rect(0, 0, 50, 50), out.Bounds())
	assert.Equal(t, g.GrayAt(10, 20), out.GrayAt(0, 0))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{GammaTarget: 128, ClaheClipLimit: 2, ClaheTiles: 8, Sharpen: SharpenGentle}.Validate())
	assert.Error(t, Config{ClaheClipLimit: 2}.Validate())
	assert.Error(t, Config{Sharpen: "laplacian"}.Validate())
	assert.Error(t, Config{DeskewRange: 90}.Validate())
}
