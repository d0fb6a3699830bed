package enhance

import (
	"image"
	"math"
)

// Equalize performs contrast-limited adaptive histogram equalization over a
// tiles x tiles grid. clipLimit is relative to a flat histogram: a bin may hold
// at most clipLimit * tilePixels / 256 samples before its excess is spread
// across all bins, which keeps near-uniform tiles close to the identity.
func Equalize(g *image.Gray, clipLimit float64, tiles int) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return clone(g)
	}
	tx, ty := min(tiles, w), min(tiles, h)
	tileW := int(math.Ceil(float64(w) / float64(tx)))
	tileH := int(math.Ceil(float64(h) / float64(ty)))

	luts := make([][256]uint8, tx*ty)
	for j := 0; j < ty; j++ {
		for i := 0; i < tx; i++ {
			x0, y0 := i*tileW, j*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)
			luts[j*tx+i] = tileLUT(g, x0, y0, x1, y1, clipLimit)
		}
	}

	dst := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		j0, j1, fy := gridPos(y, tileH, ty)
		for x := 0; x < w; x++ {
			i0, i1, fx := gridPos(x, tileW, tx)
			v := g.Pix[y*w+x]
			top := (1-fx)*float64(luts[j0*tx+i0][v]) + fx*float64(luts[j0*tx+i1][v])
			bottom := (1-fx)*float64(luts[j1*tx+i0][v]) + fx*float64(luts[j1*tx+i1][v])
			dst.Pix[y*w+x] = clampByte((1-fy)*top + fy*bottom)
		}
	}
	return dst
}

// gridPos locates coordinate p between the two nearest tile centres.
func gridPos(p, size, count int) (int, int, float64) {
	pos := (float64(p)+0.5)/float64(size) - 0.5
	if pos <= 0 {
		return 0, 0, 0
	}
	i0 := int(pos)
	if i0 >= count-1 {
		return count - 1, count - 1, 0
	}
	return i0, i0 + 1, pos - float64(i0)
}

func tileLUT(g *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	w := g.Rect.Dx()
	for y := y0; y < y1; y++ {
		for _, v := range g.Pix[y*w+x0 : y*w+x1] {
			hist[v]++
		}
	}
	n := (x1 - x0) * (y1 - y0)

	limit := int(clipLimit * float64(n) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i, c := range hist {
		if c > limit {
			excess += c - limit
			hist[i] = limit
		}
	}
	share, rest := excess/256, excess%256
	for i := range hist {
		hist[i] += share
	}
	if rest > 0 {
		step := max(256/rest, 1)
		for i := 0; i < 256 && rest > 0; i += step {
			hist[i]++
			rest--
		}
	}

	var lut [256]uint8
	cdf := 0
	for i, c := range hist {
		cdf += c
		lut[i] = clampByte(float64(cdf) * 255 / float64(n))
	}
	return lut
}
