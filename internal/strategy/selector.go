/**
 * Strategy Selector
 *
 * Per-page state machine deciding between the PDF text layer and the
 * enhance -> binarize -> recognize -> clean path, retrying recognition with
 * the next preset while confidence stays below the acceptance threshold:
 *
 *   Start -> TryDigital -> (Accepted | TryEnhance)
 *   TryEnhance -> TryRecognition -> (Accepted | Retry | Exhausted)
 *   Retry -> TryEnhance
 *   any source failure -> Unreadable
 *
 * The loop is bounded by the preset list length.
 */

package strategy

import (
	"context"
	stderrors "errors"
	"fmt"
	"image"
	"time"
	"unicode/utf8"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/binarize"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/enhance"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/pdf"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
)

// State is a step of the per-page selection loop.
type State int

const (
	StateStart State = iota
	StateTryDigital
	StateTryEnhance
	StateTryRecognition
	StateRetry
	StateAccepted
	StateExhausted
	StateUnreadable
)

var stateNames = [...]string{
	StateStart:          "start",
	StateTryDigital:     "try_digital",
	StateTryEnhance:     "try_enhance",
	StateTryRecognition: "try_recognition",
	StateRetry:          "retry",
	StateAccepted:       "accepted",
	StateExhausted:      "exhausted",
	StateUnreadable:     "unreadable",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateExhausted || s == StateUnreadable
}

// PageSource yields a page's text layer or render. *pdf.Source satisfies it.
type PageSource interface {
	Page(ctx context.Context, page int) (pdf.Content, error)
	Render(ctx context.Context, page int) (*document.Raster, error)
}

// Enhancer is satisfied by *enhance.Enhancer.
type Enhancer interface {
	Enhance(src *image.Gray, cfg enhance.Config) (*image.Gray, enhance.Report)
}

// Binarizer is satisfied by *binarize.Binarizer.
type Binarizer interface {
	Binarize(ctx context.Context, g *image.Gray, opts binarize.Options) (*binarize.Result, error)
}

// Recognizer is satisfied by *recognition.Adapter.
type Recognizer interface {
	Recognize(ctx context.Context, page int, img image.Image, s recognition.Settings) (recognition.Result, error)
}

// Cleaner is satisfied by *cleaner.Cleaner.
type Cleaner interface {
	Clean(text string) string
}

// DebugSink receives the fused binary image of every attempt.
type DebugSink interface {
	SaveBinary(documentID string, page int, preset string, img *image.Gray) error
}

// Options are the selection thresholds and the shared preset list.
type Options struct {
	Presets           []Preset
	Languages         []string
	MinDigitalChars   int     // digital text must have more runes than this
	MinPrintableRatio float64 // and at least this share of printable runes
	AcceptConfidence  float64
}

// Selector runs the state machine. It holds only read-only collaborators and
// may process any number of pages concurrently.
type Selector struct {
	opts       Options
	enhancer   Enhancer
	binarizer  Binarizer
	recognizer Recognizer
	cleaner    Cleaner
	debug      DebugSink
	logger     *logging.Logger
}

// NewSelector creates a selector.
func NewSelector(opts Options, enhancer Enhancer, binarizer Binarizer, recognizer Recognizer, cleaner Cleaner) *Selector {
	if opts.AcceptConfidence <= 0 {
		opts.AcceptConfidence = 0.75
	}
	return &Selector{
		opts:       opts,
		enhancer:   enhancer,
		binarizer:  binarizer,
		recognizer: recognizer,
		cleaner:    cleaner,
		logger:     logging.NewLogger("strategy"),
	}
}

// WithDebugSink sets the sink for fused binary images.
func (s *Selector) WithDebugSink(sink DebugSink) *Selector {
	s.debug = sink
	return s
}

// Process selects the text for one page. The returned page always carries a
// confidence in [0,1]. The error is non-nil only for failures that must stop
// the whole document: an unavailable engine or a cancelled context.
func (s *Selector) Process(ctx context.Context, src PageSource, documentID string, index int) (document.Page, error) {
	start := time.Now()
	logger := s.logger.With("document", documentID, "page", index)
	page := document.Page{Index: index, DocumentID: documentID}

	var raster *document.Raster
	next := 0
	state := StateStart

	for !state.Terminal() {
		prev := state
		switch state {
		case StateStart:
			state = StateTryDigital

		case StateTryDigital:
			content, err := src.Page(ctx, index)
			if err == nil && content.Kind == pdf.KindDigital {
				text := content.Text
				page.DigitalText = &text
				if s.digitalAcceptable(content) {
					page.Method = document.MethodDigital
					page.Text = text
					page.Confidence = 1
					state = StateAccepted
					break
				}
				logger.Info("Text layer rejected, rendering page",
					"chars", content.CharCount, "printable_ratio", content.PrintableRatio)
				content.Raster, err = src.Render(ctx, index)
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return page, ctxErr
				}
				setUnreadable(&page, err)
				logger.Warn("Page unreadable", "error", err)
				state = StateUnreadable
				break
			}
			raster = content.Raster
			page.Raster = raster
			state = StateTryEnhance

		case StateTryEnhance:
			if next >= len(s.opts.Presets) {
				state = StateExhausted
				break
			}
			state = StateTryRecognition

		case StateTryRecognition:
			preset := s.opts.Presets[next]
			next++
			attempt, err := s.attempt(ctx, documentID, index, raster, preset)
			if err != nil {
				return page, err
			}
			page.Attempts = append(page.Attempts, attempt)
			logger.Debug("Attempt finished", "preset", preset.Name, "confidence", attempt.Confidence,
				"error_code", attempt.ErrorCode, "elapsed", attempt.Elapsed)
			if !attempt.Failed() && attempt.Confidence >= s.opts.AcceptConfidence {
				page.Method = document.MethodOCR
				page.Text = attempt.Text
				page.Confidence = attempt.Confidence
				state = StateAccepted
				break
			}
			state = StateRetry

		case StateRetry:
			state = StateTryEnhance
		}
		logger.Debug("State transition", "from", prev.String(), "to", state.String())
	}

	if state == StateExhausted {
		page.Method = document.MethodBestEffort
		if best, ok := bestAttempt(page.Attempts); ok {
			page.Text = best.Text
			page.Confidence = best.Confidence
		}
		logger.Info("Presets exhausted, keeping best attempt",
			"attempts", len(page.Attempts), "confidence", page.Confidence)
	}

	raster.Release()
	page.Elapsed = time.Since(start)
	return page, nil
}

func (s *Selector) digitalAcceptable(c pdf.Content) bool {
	if utf8.RuneCountInString(c.Text) <= s.opts.MinDigitalChars {
		return false
	}
	return c.PrintableRatio >= s.opts.MinPrintableRatio
}

// attempt runs one preset. Per-attempt failures are recorded on the returned
// Attempt; only fatal errors are returned.
func (s *Selector) attempt(ctx context.Context, documentID string, index int, raster *document.Raster, preset Preset) (document.Attempt, error) {
	start := time.Now()
	settings := preset.Engine
	settings.Languages = s.opts.Languages

	attempt := document.Attempt{
		Preset:      preset.Name,
		Languages:   settings.LanguageString(),
		PageSegMode: settings.PageSegMode,
	}
	finish := func(err error) (document.Attempt, error) {
		attempt.Elapsed = time.Since(start)
		if err == nil {
			return attempt, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, ctxErr
		}
		if apperrors.HasCode(err, apperrors.ErrorEngineUnavailable) {
			return attempt, err
		}
		var pe *apperrors.ProcessingError
		if !stderrors.As(err, &pe) {
			pe = apperrors.NewRecognitionFailedError(index, preset.Name, err)
		}
		if pe.Page == 0 {
			pe.Page = index
		}
		pe.DocumentID = documentID
		attempt.Text = ""
		attempt.Confidence = 0
		attempt.Error = pe.Error()
		attempt.ErrorCode = string(pe.Code)
		return attempt, nil
	}

	if raster == nil || raster.Image == nil {
		return finish(apperrors.NewPageUnreadableError(documentID, index, fmt.Errorf("no raster")))
	}

	enhanced, report := s.enhancer.Enhance(raster.Image, preset.Enhancement)
	attempt.SkewAngle = report.SkewAngle

	bin, err := s.binarizer.Binarize(ctx, enhanced, preset.Binarization)
	if err != nil {
		return finish(err)
	}
	if s.debug != nil {
		if err := s.debug.SaveBinary(documentID, index, preset.Name, bin.Image); err != nil {
			s.logger.Warn("Failed to save debug image", "document", documentID, "page", index, "error", err)
		}
	}

	res, err := s.recognizer.Recognize(ctx, index, bin.Image, settings)
	if err != nil {
		return finish(err)
	}
	attempt.Text = res.Text
	if s.cleaner != nil {
		attempt.Text = s.cleaner.Clean(res.Text)
	}
	attempt.Confidence = clamp01(res.Confidence)
	attempt.Estimated = res.Estimated
	return finish(nil)
}

// bestAttempt returns the highest-confidence attempt, the earliest on ties.
func bestAttempt(attempts []document.Attempt) (document.Attempt, bool) {
	if len(attempts) == 0 {
		return document.Attempt{}, false
	}
	best := attempts[0]
	for _, a := range attempts[1:] {
		if a.Confidence > best.Confidence {
			best = a
		}
	}
	return best, true
}

func setUnreadable(page *document.Page, err error) {
	page.Method = document.MethodUnreadable
	page.Text = ""
	page.Confidence = 0
	page.Error = err.Error()
	page.ErrorCode = string(apperrors.ErrorPageUnreadable)
	if code := apperrors.CodeOf(err); code != "" {
		page.ErrorCode = string(code)
	}
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
