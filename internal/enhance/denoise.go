package enhance

import (
	"image"
	"math"
)

const (
	defaultSearchRadius = 3
	patchRadius         = 1
)

// Denoise is a non-local means filter. Each pixel becomes a weighted mean of
// the pixels in its search window, weighted by how similar their 3x3
// neighbourhoods are. Strokes keep their shape because a dark stroke pixel
// only resembles other stroke pixels, while flat regions average freely.
// h controls how quickly the weight falls off with patch distance.
func Denoise(g *image.Gray, h float64, searchRadius int) *image.Gray {
	w, ht := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || ht == 0 || h <= 0 {
		return clone(g)
	}
	n := w * ht
	patchArea := (2*patchRadius + 1) * (2*patchRadius + 1)

	// weight lookup indexed by mean squared patch difference (0..65025)
	weights := make([]float32, 255*255+1)
	h2 := h * h
	for d := range weights {
		weights[d] = float32(math.Exp(-float64(d) / h2))
	}

	valSum := make([]float32, n)
	wSum := make([]float32, n)
	diff := make([]int32, n)
	rowSum := make([]int32, n)

	for dy := -searchRadius; dy <= searchRadius; dy++ {
		for dx := -searchRadius; dx <= searchRadius; dx++ {
			// squared difference between every pixel and its shifted partner
			for y := 0; y < ht; y++ {
				sy := clampInt(y+dy, 0, ht-1)
				row := g.Pix[y*w : (y+1)*w]
				srow := g.Pix[sy*w : (sy+1)*w]
				drow := diff[y*w : (y+1)*w]
				for x := 0; x < w; x++ {
					d := int32(row[x]) - int32(srow[clampInt(x+dx, 0, w-1)])
					drow[x] = d * d
				}
			}
			boxRows(diff, rowSum, w, ht, patchRadius)

			// vertical pass of the box sum, then accumulate
			for y := 0; y < ht; y++ {
				sy := clampInt(y+dy, 0, ht-1)
				srow := g.Pix[sy*w : (sy+1)*w]
				for x := 0; x < w; x++ {
					var s int32
					for k := -patchRadius; k <= patchRadius; k++ {
						s += rowSum[clampInt(y+k, 0, ht-1)*w+x]
					}
					wt := weights[int(s)/patchArea]
					i := y*w + x
					wSum[i] += wt
					valSum[i] += wt * float32(srow[clampInt(x+dx, 0, w-1)])
				}
			}
		}
	}

	dst := image.NewGray(g.Rect)
	for i := range dst.Pix {
		dst.Pix[i] = clampByte(float64(valSum[i] / wSum[i]))
	}
	return dst
}

// boxRows writes the horizontal (2r+1) window sum of src into dst, clamping at edges.
func boxRows(src, dst []int32, w, h, r int) {
	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		out := dst[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			var s int32
			for k := -r; k <= r; k++ {
				s += row[clampInt(x+k, 0, w-1)]
			}
			out[x] = s
		}
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
