// Package binarize turns an enhanced grayscale page into a black and white
// image by running several thresholding methods and fusing them with a
// per-pixel majority vote.
package binarize

import (
	"context"
	"fmt"
	"image"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

// Pixel values in binary images.
const (
	Black uint8 = 0
	White uint8 = 255
)

const (
	minBlackRatio = 0.02
	maxBlackRatio = 0.98
)

// Method names a thresholding strategy.
type Method string

const (
	MethodAdaptiveMean     Method = "adaptive_mean"
	MethodAdaptiveGaussian Method = "adaptive_gaussian"
	MethodOtsu             Method = "otsu"
	MethodTriangle         Method = "triangle"
	MethodGlobalMean       Method = "global_mean"
)

// DefaultMethods is the candidate set used when a preset names none.
var DefaultMethods = []Method{MethodAdaptiveMean, MethodAdaptiveGaussian, MethodOtsu}

// Options configures the candidate set for one attempt.
type Options struct {
	Methods   []Method `yaml:"methods" json:"methods"`
	BlockSize int      `yaml:"block_size" json:"block_size"` // odd, adaptive window side
	C         float64  `yaml:"c" json:"c"`                   // subtracted from the local mean
	Cleanup   bool     `yaml:"cleanup" json:"cleanup"`       // morphological close+open after fusion
}

func (o Options) withDefaults() Options {
	if len(o.Methods) == 0 {
		o.Methods = DefaultMethods
	}
	if o.BlockSize < 3 {
		o.BlockSize = 15
	}
	if o.BlockSize%2 == 0 {
		o.BlockSize++
	}
	return o
}

// Validate rejects unknown methods.
func (o Options) Validate() error {
	for _, m := range o.Methods {
		if _, ok := thresholders[m]; !ok {
			return fmt.Errorf("unknown binarization method %q", m)
		}
	}
	if o.BlockSize < 0 {
		return fmt.Errorf("block_size must not be negative, got %d", o.BlockSize)
	}
	return nil
}

// Candidate is one method's binary image. Candidates are discarded after fusion.
type Candidate struct {
	Method     Method
	Image      *image.Gray
	BlackRatio float64
}

// Degenerate reports whether the candidate is almost entirely one colour.
func (c Candidate) Degenerate() bool {
	return c.BlackRatio < minBlackRatio || c.BlackRatio > maxBlackRatio
}

// Result is the fused binary image plus the per-method black ratios.
type Result struct {
	Image       *image.Gray
	BlackRatios map[Method]float64
	Voters      []Method
}

type thresholder func(g *image.Gray, o Options) *image.Gray

var thresholders = map[Method]thresholder{
	MethodAdaptiveMean:     adaptiveMean,
	MethodAdaptiveGaussian: adaptiveGaussian,
	MethodOtsu:             otsu,
	MethodTriangle:         triangle,
	MethodGlobalMean:       globalMean,
}

// Binarizer runs candidate thresholders concurrently and fuses them.
type Binarizer struct{}

// New returns a Binarizer.
func New() *Binarizer {
	return &Binarizer{}
}

// Candidates runs every configured method on g. Each method reads g and
// writes only its own output, so they run in parallel.
func (b *Binarizer) Candidates(ctx context.Context, g *image.Gray, opts Options) ([]Candidate, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	g = compact(g)

	cands := make([]Candidate, len(opts.Methods))
	eg, ctx := errgroup.WithContext(ctx)
	for i, m := range opts.Methods {
		i, m := i, m
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img := thresholders[m](g, opts)
			cands[i] = Candidate{Method: m, Image: img, BlackRatio: blackRatio(img)}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return cands, nil
}

// Binarize produces the fused binary image for one attempt. Degenerate
// candidates do not vote; when every candidate is degenerate it returns a
// DEGENERATE_BINARIZATION error.
func (b *Binarizer) Binarize(ctx context.Context, g *image.Gray, opts Options) (*Result, error) {
	cands, err := b.Candidates(ctx, g, opts)
	if err != nil {
		return nil, err
	}

	ratios := make(map[Method]float64, len(cands))
	reported := make(map[string]float64, len(cands))
	voters := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		ratios[c.Method] = c.BlackRatio
		reported[string(c.Method)] = c.BlackRatio
		if !c.Degenerate() {
			voters = append(voters, c)
		}
	}
	if len(voters) == 0 {
		return nil, apperrors.NewDegenerateBinarizationError(0, reported)
	}

	fused := Fuse(voters)
	if opts.Cleanup {
		fused = Open(Close(fused))
	}

	names := make([]Method, len(voters))
	for i, c := range voters {
		names[i] = c.Method
	}
	return &Result{Image: fused, BlackRatios: ratios, Voters: names}, nil
}

// Fuse combines candidates by strict per-pixel majority. With an even number
// of candidates an exact tie takes the Otsu candidate's value, or the first
// candidate's when Otsu is absent. All candidates must share one size.
func Fuse(cands []Candidate) *image.Gray {
	if len(cands) == 0 {
		return nil
	}
	tiebreak := 0
	for i, c := range cands {
		if c.Method == MethodOtsu {
			tiebreak = i
			break
		}
	}

	n := len(cands)
	dst := image.NewGray(cands[0].Image.Rect)
	for i := range dst.Pix {
		votes := 0
		for _, c := range cands {
			if c.Image.Pix[i] == Black {
				votes++
			}
		}
		switch {
		case 2*votes > n:
			dst.Pix[i] = Black
		case 2*votes < n:
			dst.Pix[i] = White
		default:
			dst.Pix[i] = cands[tiebreak].Image.Pix[i]
		}
	}
	return dst
}

func blackRatio(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	black := 0
	for _, v := range g.Pix {
		if v == Black {
			black++
		}
	}
	return float64(black) / float64(len(g.Pix))
}

// compact returns g anchored at the origin with Stride == width.
func compact(g *image.Gray) *image.Gray {
	b := g.Bounds()
	if b.Min == (image.Point{}) && g.Stride == b.Dx() {
		return g
	}
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		copy(dst.Pix[y*b.Dx():(y+1)*b.Dx()], g.Pix[off:off+b.Dx()])
	}
	return dst
}
