package enhance

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

const (
	minSkew          = 0.5  // degrees; smaller angles are left alone
	maxSkew          = 15.0 // degrees; larger detections are not trusted
	skewStep         = 0.1
	skewAnalysisSide = 1200
	minEdgePoints    = 200
	maxEdgePoints    = 200000
)

type edgePoint struct{ x, y float64 }

// DetectSkew estimates the dominant text-line angle in degrees (positive when
// lines fall to the right) by scoring straight-line projections of horizontal
// edges, a discretised Hough transform restricted to [-searchRange, searchRange].
// ok is false when the page has too few edges to decide.
func DetectSkew(g *image.Gray, searchRange float64) (angle float64, ok bool) {
	small := downscale(g, skewAnalysisSide)
	points := horizontalEdges(small)
	if len(points) < minEdgePoints {
		return 0, false
	}
	if len(points) > maxEdgePoints {
		stride := len(points)/maxEdgePoints + 1
		sampled := make([]edgePoint, 0, len(points)/stride+1)
		for i := 0; i < len(points); i += stride {
			sampled = append(sampled, points[i])
		}
		points = sampled
	}

	b := small.Bounds()
	diag := math.Hypot(float64(b.Dx()), float64(b.Dy()))
	offset := int(diag) + 1
	bins := make([]int, 2*offset+1)

	steps := int(math.Round(searchRange / skewStep))
	bestScore := -1.0
	for s := -steps; s <= steps; s++ {
		a := float64(s) * skewStep
		sin, cos := math.Sincos(a * math.Pi / 180)
		for i := range bins {
			bins[i] = 0
		}
		for _, p := range points {
			rho := int(math.Round(p.y*cos-p.x*sin)) + offset
			bins[rho]++
		}
		var score float64
		for _, c := range bins {
			score += float64(c) * float64(c)
		}
		// prefer the smaller correction when scores tie
		if score > bestScore || (score == bestScore && math.Abs(a) < math.Abs(angle)) {
			bestScore, angle = score, a
		}
	}
	return angle, true
}

func shouldRotate(angle float64) bool {
	a := math.Abs(angle)
	return a > minSkew && a <= maxSkew
}

// Rotate turns the page by angle degrees counter-clockwise, undoing a detected
// skew of the same angle. The canvas grows to fit and new corners are white.
func Rotate(g *image.Gray, angle float64) *image.Gray {
	rotated := imaging.Rotate(g, angle, color.White)
	return ToGray(rotated)
}

func downscale(g *image.Gray, maxSide int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	longest := max(w, h)
	if longest <= maxSide {
		return g
	}
	scale := float64(maxSide) / float64(longest)
	dst := image.NewGray(image.Rect(0, 0, max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), g, g.Bounds(), draw.Src, nil)
	return dst
}

// horizontalEdges returns Sobel edge points whose gradient is mostly vertical,
// i.e. the top and bottom borders of glyph rows.
func horizontalEdges(g *image.Gray) []edgePoint {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w < 3 || h < 3 {
		return nil
	}
	mags := make([]int, w*h)
	vertical := make([]bool, w*h)
	var total int64
	px := func(x, y int) int { return int(g.Pix[y*w+x]) }
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := px(x+1, y-1) + 2*px(x+1, y) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x-1, y) - px(x-1, y+1)
			gy := px(x-1, y+1) + 2*px(x, y+1) + px(x+1, y+1) - px(x-1, y-1) - 2*px(x, y-1) - px(x+1, y-1)
			m := absInt(gx) + absInt(gy)
			mags[y*w+x] = m
			vertical[y*w+x] = absInt(gy) > 2*absInt(gx)
			total += int64(m)
		}
	}
	threshold := max(64, int(3*total/int64(w*h)))

	var points []edgePoint
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			if vertical[i] && mags[i] >= threshold {
				points = append(points, edgePoint{x: float64(x), y: float64(y)})
			}
		}
	}
	return points
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
