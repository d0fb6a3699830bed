package binarize

import "image"

// Close fills one-pixel gaps inside strokes: a 2x2 dilation of the black
// foreground followed by a 2x2 erosion.
func Close(g *image.Gray) *image.Gray {
	return erode(dilate(g))
}

// Open removes specks smaller than 2x2: erosion followed by dilation.
func Open(g *image.Gray) *image.Gray {
	return dilate(erode(g))
}

// dilate grows black regions. The 2x2 window is anchored so that a
// following erode restores unaffected shapes in place.
func dilate(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := White
			for dy := 0; dy <= 1 && v == White; dy++ {
				for dx := 0; dx <= 1; dx++ {
					sx, sy := x-dx, y-dy
					if sx >= 0 && sy >= 0 && g.Pix[sy*w+sx] == Black {
						v = Black
						break
					}
				}
			}
			dst.Pix[y*w+x] = v
		}
	}
	return dst
}

// erode shrinks black regions; pixels outside the image count as black so
// borders do not erode away.
func erode(g *image.Gray) *image.Gray {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	dst := image.NewGray(g.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := Black
			for dy := 0; dy <= 1 && v == Black; dy++ {
				for dx := 0; dx <= 1; dx++ {
					sx, sy := x+dx, y+dy
					if sx < w && sy < h && g.Pix[sy*w+sx] != Black {
						v = White
						break
					}
				}
			}
			dst.Pix[y*w+x] = v
		}
	}
	return dst
}
