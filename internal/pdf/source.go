/**
 * PageSource over go-fitz (MuPDF)
 *
 * Yields either the page's text layer or a grayscale render. Pages are
 * addressed 1-based; go-fitz is 0-based.
 */

package pdf

import (
	"context"
	"fmt"
	"image"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gen2brain/go-fitz"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/enhance"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

const pointsPerInch = 72.0

// Document is the part of the PDF library the pipeline consumes.
// *fitz.Document satisfies it.
type Document interface {
	NumPage() int
	Text(pageNumber int) (string, error)
	Bound(pageNumber int) (image.Rectangle, error)
	ImageDPI(pageNumber int, dpi float64) (*image.RGBA, error)
	Close() error
}

// Kind tags the variant held by Content.
type Kind int

const (
	KindDigital Kind = iota
	KindRaster
)

func (k Kind) String() string {
	if k == KindDigital {
		return "digital"
	}
	return "raster"
}

// Content is either a page's selectable text or its render.
type Content struct {
	Kind Kind

	// KindDigital
	Text           string
	CharCount      int
	PrintableRatio float64

	// KindRaster
	Raster *document.Raster
}

// Options controls render resolution.
type Options struct {
	DPI            int // baseline render DPI
	MaxDPI         int
	MinShortSidePx int // the shorter side of the render reaches at least this many pixels
}

// Source reads pages of one PDF.
type Source struct {
	doc  Document
	id   string
	opts Options
}

// NewSource wraps an open document.
func NewSource(doc Document, documentID string, opts Options) *Source {
	if opts.DPI <= 0 {
		opts.DPI = 300
	}
	if opts.MaxDPI < opts.DPI {
		opts.MaxDPI = opts.DPI
	}
	return &Source{doc: doc, id: documentID, opts: opts}
}

// Open opens a PDF file.
func Open(path, documentID string, opts Options) (*Source, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, apperrors.NewInvalidDocumentError(documentID, "failed to open PDF", err)
	}
	return NewSource(doc, documentID, opts), nil
}

// OpenBytes opens a PDF held in memory.
func OpenBytes(data []byte, documentID string, opts Options) (*Source, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, apperrors.NewInvalidDocumentError(documentID, "failed to open PDF", err)
	}
	return NewSource(doc, documentID, opts), nil
}

// PageCount returns the number of pages.
func (s *Source) PageCount() int {
	return s.doc.NumPage()
}

// Close releases the document.
func (s *Source) Close() error {
	return s.doc.Close()
}

// Page returns the text layer when the page has selectable glyphs, and a
// render otherwise. Failures are PAGE_UNREADABLE.
func (s *Source) Page(ctx context.Context, page int) (Content, error) {
	text, count, err := s.SelectableText(ctx, page)
	if err != nil {
		return Content{}, err
	}
	if count > 0 {
		return Content{Kind: KindDigital, Text: text, CharCount: count, PrintableRatio: PrintableRatio(text)}, nil
	}
	raster, err := s.Render(ctx, page)
	if err != nil {
		return Content{}, err
	}
	return Content{Kind: KindRaster, Raster: raster}, nil
}

// SelectableText returns the page text layer and its non-space rune count.
func (s *Source) SelectableText(ctx context.Context, page int) (string, int, error) {
	if err := s.check(ctx, page); err != nil {
		return "", 0, err
	}
	text, err := s.doc.Text(page - 1)
	if err != nil {
		return "", 0, apperrors.NewPageUnreadableError(s.id, page, err)
	}
	text = strings.TrimSpace(text)
	count := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			count++
		}
	}
	return text, count, nil
}

// Render rasterizes the page to grayscale at RenderDPI.
func (s *Source) Render(ctx context.Context, page int) (*document.Raster, error) {
	if err := s.check(ctx, page); err != nil {
		return nil, err
	}
	bounds, err := s.doc.Bound(page - 1)
	if err != nil {
		return nil, apperrors.NewPageUnreadableError(s.id, page, err)
	}
	dpi := RenderDPI(bounds, s.opts)
	rgba, err := s.doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, apperrors.NewPageUnreadableError(s.id, page, err)
	}
	if rgba == nil || rgba.Bounds().Empty() {
		return nil, apperrors.NewPageUnreadableError(s.id, page, fmt.Errorf("empty render"))
	}
	return document.NewRaster(enhance.ToGray(rgba), dpi), nil
}

func (s *Source) check(ctx context.Context, page int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if page < 1 || page > s.doc.NumPage() {
		return apperrors.NewPageUnreadableError(s.id, page, fmt.Errorf("page out of range 1..%d", s.doc.NumPage()))
	}
	return nil
}

// RenderDPI picks the resolution for a page of the given bounds in points:
// the baseline DPI, raised until the shorter side reaches MinShortSidePx,
// capped at MaxDPI.
func RenderDPI(bounds image.Rectangle, opts Options) int {
	dpi := opts.DPI
	short := math.Min(float64(bounds.Dx()), float64(bounds.Dy()))
	if short > 0 && opts.MinShortSidePx > 0 {
		need := int(math.Ceil(float64(opts.MinShortSidePx) * pointsPerInch / short))
		if need > dpi {
			dpi = need
		}
	}
	if opts.MaxDPI > 0 && dpi > opts.MaxDPI {
		dpi = opts.MaxDPI
	}
	return dpi
}

// PrintableRatio is the share of non-space runes that are ordinary visible
// characters. Private-use glyphs, replacement characters and controls count
// against it; such text layers usually come from broken font encodings.
func PrintableRatio(text string) float64 {
	total, printable := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if r != utf8.RuneError && unicode.IsPrint(r) && !unicode.Is(unicode.Co, r) {
			printable++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(printable) / float64(total)
}
