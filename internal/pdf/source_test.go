package pdf

import (
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

type fakeDoc struct {
	texts    []string
	bounds   image.Rectangle
	textErr  map[int]error
	renderAt []float64
	closed   bool
}

func (f *fakeDoc) NumPage() int { return len(f.texts) }

func (f *fakeDoc) Text(i int) (string, error) {
	if err := f.textErr[i]; err != nil {
		return "", err
	}
	return f.texts[i], nil
}

func (f *fakeDoc) Bound(int) (image.Rectangle, error) { return f.bounds, nil }

func (f *fakeDoc) ImageDPI(_ int, dpi float64) (*image.RGBA, error) {
	f.renderAt = append(f.renderAt, dpi)
	w := int(float64(f.bounds.Dx()) * dpi / 72)
	h := int(float64(f.bounds.Dy()) * dpi / 72)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	return img, nil
}

func (f *fakeDoc) Close() error { f.closed = true; return nil }

func TestPageReturnsDigitalText(t *testing.T) {
	doc := &fakeDoc{texts: []string{"  REPÚBLICA DE CHILE \n"}, bounds: image.Rect(0, 0, 612, 792)}
	src := NewSource(doc, "doc-1", Options{DPI: 300, MaxDPI: 600})

	c, err := src.Page(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, KindDigital, c.Kind)
	assert.Equal(t, "REPÚBLICA DE CHILE", c.Text)
	assert.Equal(t, 16, c.CharCount)
	assert.Equal(t, 1.0, c.PrintableRatio)
	assert.Empty(t, doc.renderAt, "digital pages are not rendered")
}

func TestPageRendersWhenNoTextLayer(t *testing.T) {
	doc := &fakeDoc{texts: []string{" \n "}, bounds: image.Rect(0, 0, 36, 18)}
	src := NewSource(doc, "doc-1", Options{DPI: 144, MaxDPI: 600, MinShortSidePx: 72})

	c, err := src.Page(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, KindRaster, c.Kind)
	assert.Equal(t, 288, c.Raster.DPI, "short side of 18pt needs 288 dpi for 72px")
	assert.Equal(t, 144, c.Raster.Width)
	assert.Equal(t, 72, c.Raster.Height)
	assert.Equal(t, uint8(200), c.Raster.Image.GrayAt(3, 3).Y)
}

func TestPageFailuresAreUnreadable(t *testing.T) {
	doc := &fakeDoc{texts: []string{"x"}, textErr: map[int]error{0: errors.New("xref broken")}}
	src := NewSource(doc, "doc-1", Options{})

	_, err := src.Page(context.Background(), 1)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorPageUnreadable))

	_, err = src.Page(context.Background(), 2)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorPageUnreadable))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Page(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, src.Close())
	assert.True(t, doc.closed)
}

func TestRenderDPI(t *testing.T) {
	letter := image.Rect(0, 0, 612, 792)
	assert.Equal(t, 300, RenderDPI(letter, Options{DPI: 300, MaxDPI: 600, MinShortSidePx: 2000}), "8.5in at 300dpi is 2550px")
	assert.Equal(t, 236, RenderDPI(letter, Options{DPI: 150, MaxDPI: 600, MinShortSidePx: 2000}))
	assert.Equal(t, 400, RenderDPI(image.Rect(0, 0, 200, 300), Options{DPI: 300, MaxDPI: 400, MinShortSidePx: 2000}), "capped")
	assert.Equal(t, 300, RenderDPI(image.Rectangle{}, Options{DPI: 300, MaxDPI: 600, MinShortSidePx: 2000}))
}

func TestPrintableRatio(t *testing.T) {
	assert.Equal(t, 1.0, PrintableRatio("Decreto N° 45"))
	assert.Equal(t, 0.0, PrintableRatio("   "))
	assert.InDelta(t, 0.5, PrintableRatio("ab\ufffd\ue000"), 1e-9, "replacement and private-use glyphs")
}

func validPDF(size int) []byte {
	return []byte("%PDF-1.7\n" + strings.Repeat("0", size-9))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("d", validPDF(2048), 1<<20))

	err := Validate("d", validPDF(100), 1<<20)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorInvalidDocument))

	assert.Error(t, Validate("d", validPDF(4096), 2048))

	notPDF := append([]byte("PK\x03\x04"), make([]byte, 2048)...)
	assert.Error(t, Validate("d", notPDF, 1<<20))
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "decreto.pdf")
	require.NoError(t, os.WriteFile(good, validPDF(4096), 0o644))
	assert.NoError(t, ValidateFile("d", good, 1<<20))

	bad := filepath.Join(dir, "imagen.pdf")
	require.NoError(t, os.WriteFile(bad, append([]byte("\x89PNG"), make([]byte, 4096)...), 0o644))
	assert.Error(t, ValidateFile("d", bad, 1<<20))

	assert.Error(t, ValidateFile("d", filepath.Join(dir, "missing.pdf"), 1<<20))
	assert.Error(t, ValidateFile("d", dir, 1<<20))
}
