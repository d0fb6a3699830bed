package binarize

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/enhance"
)

// adaptiveMean marks a pixel black when it is below the mean of its
// BlockSize window minus C. Window sums come from an integral image.
func adaptiveMean(g *image.Gray, o Options) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	integral := make([]int64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(g.Pix[y*w+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	r := o.BlockSize / 2
	dst := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-r), min(h, y+r+1)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-r), min(w, x+r+1)
			sum := integral[y1*(w+1)+x1] - integral[y0*(w+1)+x1] - integral[y1*(w+1)+x0] + integral[y0*(w+1)+x0]
			mean := float64(sum) / float64((x1-x0)*(y1-y0))
			dst.Pix[y*w+x] = pick(float64(g.Pix[y*w+x]) < mean-o.C)
		}
	}
	return dst
}

// adaptiveGaussian compares each pixel to a gaussian-weighted local mean.
// Sigma grows with the block size so the kernel covers the window.
func adaptiveGaussian(g *image.Gray, o Options) *image.Gray {
	sigma := 0.3*(float64(o.BlockSize-1)*0.5-1) + 0.8
	local := enhance.ToGray(imaging.Blur(g, sigma))
	dst := image.NewGray(g.Rect)
	for i, v := range g.Pix {
		dst.Pix[i] = pick(float64(v) < float64(local.Pix[i])-o.C)
	}
	return dst
}

// otsu applies the global Otsu level. A page with no pixel above the level
// has no separable foreground and comes out white.
func otsu(g *image.Gray, _ Options) *image.Gray {
	return globalThreshold(g, enhance.OtsuLevel(g))
}

// triangle finds the level farthest from the line joining the histogram peak
// and the far end of the histogram, which suits pages with a dominant paper peak.
func triangle(g *image.Gray, _ Options) *image.Gray {
	var hist [256]int
	for _, v := range g.Pix {
		hist[v]++
	}
	return globalThreshold(g, triangleLevel(hist))
}

func triangleLevel(hist [256]int) int {
	lo, hi := 0, 255
	for lo < 255 && hist[lo] == 0 {
		lo++
	}
	for hi > 0 && hist[hi] == 0 {
		hi--
	}
	if lo >= hi {
		return lo
	}
	peak := lo
	for i := lo; i <= hi; i++ {
		if hist[i] > hist[peak] {
			peak = i
		}
	}

	// walk toward the longer tail
	end := lo
	if hi-peak > peak-lo {
		end = hi
	}
	if end == peak {
		return peak
	}
	x1, y1 := float64(peak), float64(hist[peak])
	x2, y2 := float64(end), float64(hist[end])
	norm := math.Hypot(y2-y1, x2-x1)

	level, best := peak, -1.0
	step := 1
	if end < peak {
		step = -1
	}
	for i := peak; i != end; i += step {
		d := math.Abs((y2-y1)*float64(i)-(x2-x1)*float64(hist[i])+x2*y1-y2*x1) / norm
		if d > best {
			best, level = d, i
		}
	}
	return level
}

func globalMean(g *image.Gray, o Options) *image.Gray {
	if len(g.Pix) == 0 {
		return image.NewGray(g.Rect)
	}
	var sum uint64
	for _, v := range g.Pix {
		sum += uint64(v)
	}
	return globalThreshold(g, int(float64(sum)/float64(len(g.Pix))-o.C))
}

func globalThreshold(g *image.Gray, level int) *image.Gray {
	dst := image.NewGray(g.Rect)
	maxV := uint8(0)
	for _, v := range g.Pix {
		if v > maxV {
			maxV = v
		}
	}
	if level >= int(maxV) {
		for i := range dst.Pix {
			dst.Pix[i] = White
		}
		return dst
	}
	for i, v := range g.Pix {
		dst.Pix[i] = pick(int(v) <= level)
	}
	return dst
}

func pick(black bool) uint8 {
	if black {
		return Black
	}
	return White
}
