package binarize

import (
	"context"
	"image"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

func page(w, h int, bg uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = bg
	}
	return g
}

// textPage draws dark glyph-like blocks on an unevenly lit background.
func textPage(w, h int) *image.Gray {
	g := page(w, h, 0)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g.Pix[y*w+x] = uint8(180 + 60*x/w) // illumination gradient
		}
	}
	for y := 10; y < h-10; y += 20 {
		for x := 10; x < w-10; x += 12 {
			for dy := 0; dy < 8; dy++ {
				for dx := 0; dx < 5; dx++ {
					g.Pix[(y+dy)*w+x+dx] = 40
				}
			}
		}
	}
	return g
}

func randomBinary(rng *rand.Rand, w, h int) *image.Gray {
	g := page(w, h, White)
	for i := range g.Pix {
		if rng.Intn(2) == 0 {
			g.Pix[i] = Black
		}
	}
	return g
}

func TestFuseStrictMajority(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	methods := []Method{MethodAdaptiveMean, MethodAdaptiveGaussian, MethodOtsu, MethodTriangle, MethodGlobalMean, "extra"}

	for n := 1; n <= len(methods); n++ {
		cands := make([]Candidate, n)
		for i := range cands {
			cands[i] = Candidate{Method: methods[i], Image: randomBinary(rng, 16, 16)}
		}
		fused := Fuse(cands)

		for p := range fused.Pix {
			black := 0
			for _, c := range cands {
				if c.Image.Pix[p] == Black {
					black++
				}
			}
			white := n - black
			switch {
			case 2*black > n:
				require.Equal(t, Black, fused.Pix[p], "n=%d pixel=%d", n, p)
			case 2*white > n:
				require.Equal(t, White, fused.Pix[p], "n=%d pixel=%d", n, p)
			}
		}
	}
}

func TestFuseTieFollowsOtsu(t *testing.T) {
	black := page(2, 1, Black)
	white := page(2, 1, White)

	fused := Fuse([]Candidate{
		{Method: MethodAdaptiveMean, Image: black},
		{Method: MethodOtsu, Image: white},
	})
	assert.Equal(t, []uint8{White, White}, fused.Pix)

	fused = Fuse([]Candidate{
		{Method: MethodAdaptiveMean, Image: black},
		{Method: MethodAdaptiveGaussian, Image: white},
	})
	assert.Equal(t, []uint8{Black, Black}, fused.Pix, "first candidate breaks ties without otsu")
}

func TestBinarizeAllWhiteIsDegenerate(t *testing.T) {
	_, err := New().Binarize(context.Background(), page(64, 64, 255), Options{C: 10})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorDegenerateBinarization))
}

func TestBinarizeAllBlackIsDegenerate(t *testing.T) {
	_, err := New().Binarize(context.Background(), page(64, 64, 0), Options{
		Methods: []Method{MethodOtsu, MethodGlobalMean, MethodTriangle},
		C:       -10,
	})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorDegenerateBinarization))
}

func TestBinarizeTextPage(t *testing.T) {
	g := textPage(200, 120)
	res, err := New().Binarize(context.Background(), g, Options{BlockSize: 31, C: 10})
	require.NoError(t, err)

	assert.Len(t, res.Voters, 3)
	assert.Equal(t, Black, res.Image.Pix[14*200+12], "glyph pixel")
	assert.Equal(t, White, res.Image.Pix[5*200+5], "paper pixel")
	assert.Equal(t, White, res.Image.Pix[5*200+195], "paper pixel on the bright side")
	for m, r := range res.BlackRatios {
		assert.Greater(t, r, 0.02, string(m))
		assert.Less(t, r, 0.5, string(m))
	}
}

func TestCandidatesRunEveryMethod(t *testing.T) {
	g := textPage(120, 80)
	all := []Method{MethodAdaptiveMean, MethodAdaptiveGaussian, MethodOtsu, MethodTriangle, MethodGlobalMean}
	cands, err := New().Candidates(context.Background(), g, Options{Methods: all, BlockSize: 31, C: 10})
	require.NoError(t, err)
	require.Len(t, cands, len(all))
	for i, c := range cands {
		assert.Equal(t, all[i], c.Method)
		assert.Equal(t, g.Bounds(), c.Image.Bounds())
	}
}

func TestCandidatesUnknownMethod(t *testing.T) {
	_, err := New().Candidates(context.Background(), page(8, 8, 128), Options{Methods: []Method{"sauvola"}})
	assert.Error(t, err)
}

func TestCandidatesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Candidates(ctx, textPage(50, 50), Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTriangleLevelSitsBetweenInkAndPaper(t *testing.T) {
	var hist [256]int
	hist[30] = 50
	for i := 31; i < 230; i++ {
		hist[i] = 5
	}
	hist[240] = 5000
	level := triangleLevel(hist)
	assert.Greater(t, level, 30)
	assert.Less(t, level, 240)
}

func TestCloseAndOpen(t *testing.T) {
	g := page(6, 6, White)
	g.Pix[1*6+1] = Black // isolated speck
	for y := 3; y < 5; y++ {
		for x := 3; x < 5; x++ {
			g.Pix[y*6+x] = Black
		}
	}

	opened := Open(g)
	assert.Equal(t, White, opened.Pix[1*6+1], "speck removed")
	assert.Equal(t, Black, opened.Pix[3*6+3], "block kept")
	assert.Equal(t, Black, opened.Pix[4*6+4])

	line := page(5, 1, White)
	line.Pix[0], line.Pix[2] = Black, Black
	closed := Close(line)
	assert.Equal(t, Black, closed.Pix[1], "gap filled")
}
