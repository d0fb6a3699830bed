/**
 * Document Processor
 *
 * Orchestrates one PDF through the hybrid pipeline:
 * - input validation (%PDF- header, size limits)
 * - recognition engine preflight (fails the run before any page work)
 * - bounded page worker pool running the per-page strategy selector
 * - aggregation into an ordered DocumentResult
 */

package processor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/binarize"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/cleaner"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/config"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/enhance"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/pdf"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/strategy"
)

// DocumentProcessorInterface defines the interface for document processing
type DocumentProcessorInterface interface {
	ProcessDocument(ctx context.Context, req *ProcessRequest) (*document.DocumentResult, error)
}

// PageSource is an open document. *pdf.Source satisfies it.
type PageSource interface {
	strategy.PageSource
	PageCount() int
	Close() error
}

// PageSelector selects the text for one page. *strategy.Selector satisfies it.
type PageSelector interface {
	Process(ctx context.Context, src strategy.PageSource, documentID string, index int) (document.Page, error)
}

// EngineChecker verifies the recognition engine before a run. *recognition.Adapter satisfies it.
type EngineChecker interface {
	Check(ctx context.Context, langs []string) error
}

// SourceOpener opens the document named by a request.
type SourceOpener func(req *ProcessRequest) (PageSource, error)

// ProgressFunc is called after each page completes.
type ProgressFunc func(page document.Page, done, total int)

// ProcessorConfig holds processor configuration
type ProcessorConfig struct {
	Config    *config.Config
	Resources *config.Resources
	Engine    recognition.Engine
	DebugSink strategy.DebugSink // optional
}

// ProcessRequest represents a document processing request. Exactly one of
// Path and FileBuffer is used; FileBuffer wins when both are set.
type ProcessRequest struct {
	DocumentID string
	Filename   string
	Path       string
	FileBuffer []byte
	Progress   ProgressFunc
}

// DocumentProcessor handles document processing
type DocumentProcessor struct {
	languages   []string
	workers     int
	maxFileSize int64
	checker     EngineChecker
	selector    PageSelector
	open        SourceOpener
	logger      *logging.Logger
}

// NewDocumentProcessor wires the pipeline stages from configuration and the
// shared read-only resources.
func NewDocumentProcessor(cfg *ProcessorConfig) (*DocumentProcessor, error) {
	if cfg == nil || cfg.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Resources == nil {
		return nil, fmt.Errorf("resources are required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}
	c := cfg.Config

	adapter := recognition.NewAdapter(cfg.Engine, cfg.Resources.Dictionary, c.RecognitionTimeout)
	selector := strategy.NewSelector(
		strategy.Options{
			Presets:           cfg.Resources.Presets,
			Languages:         c.OCRLanguages,
			MinDigitalChars:   c.MinDigitalChars,
			MinPrintableRatio: c.MinPrintableRatio,
			AcceptConfidence:  c.AcceptConfidence,
		},
		enhance.New(),
		binarize.New(),
		adapter,
		cleaner.New(cfg.Resources.Dictionary),
	)
	if cfg.DebugSink != nil {
		selector.WithDebugSink(cfg.DebugSink)
	}

	return New(c.OCRLanguages, c.PageWorkers, c.MaxFileSize, adapter, selector, FitzOpener(pdf.Options{
		DPI:            c.RenderDPI,
		MaxDPI:         c.MaxRenderDPI,
		MinShortSidePx: c.MinShortSidePx,
	})), nil
}

// New assembles a processor from its collaborators.
func New(languages []string, workers int, maxFileSize int64, checker EngineChecker, selector PageSelector, open SourceOpener) *DocumentProcessor {
	if workers < 1 {
		workers = 1
	}
	return &DocumentProcessor{
		languages:   languages,
		workers:     workers,
		maxFileSize: maxFileSize,
		checker:     checker,
		selector:    selector,
		open:        open,
		logger:      logging.NewLogger("processor"),
	}
}

// FitzOpener opens requests with go-fitz after validating the input.
func FitzOpener(opts pdf.Options) SourceOpener {
	return func(req *ProcessRequest) (PageSource, error) {
		var (
			src *pdf.Source
			err error
		)
		if len(req.FileBuffer) > 0 {
			src, err = pdf.OpenBytes(req.FileBuffer, req.DocumentID, opts)
		} else {
			src, err = pdf.Open(req.Path, req.DocumentID, opts)
		}
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

// ProcessDocument runs every page of the document and aggregates the result.
//
// Page failures are recorded on the pages. The error is non-nil when the input
// is invalid, the engine is unavailable, ctx ends, or no page was readable; in
// the last case the result is returned as well so callers can persist it.
func (p *DocumentProcessor) ProcessDocument(ctx context.Context, req *ProcessRequest) (*document.DocumentResult, error) {
	start := time.Now()
	if req.DocumentID == "" {
		req.DocumentID = uuid.New().String()
	}
	source := req.Filename
	if source == "" {
		source = req.Path
	}
	logger := p.logger.With("document", req.DocumentID)
	logger.Info("Starting document processing pipeline", "source", source)

	// Step 1: Validate input
	logger.Debug("Step 1: Validating input", "buffer_bytes", len(req.FileBuffer), "path", req.Path)
	if err := p.validate(req); err != nil {
		return nil, err
	}

	// Step 2: Engine preflight
	logger.Debug("Step 2: Checking recognition engine", "languages", p.languages)
	if err := p.checker.Check(ctx, p.languages); err != nil {
		logger.Error("Recognition engine unavailable", "error", err)
		return nil, err
	}

	// Step 3: Open document
	src, err := p.open(req)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	total := src.PageCount()
	logger.Info("Step 3: Document opened", "pages", total, "workers", p.workers)

	// Step 4: Pages
	pages, err := p.processPages(ctx, src, req, total)
	if err != nil {
		logger.Error("Document processing aborted", "error", err)
		return nil, err
	}

	// Step 5: Aggregate
	result := document.Aggregate(req.DocumentID, source, pages, time.Since(start))
	counts := result.MethodCounts()
	logger.Info("Document processing complete",
		"pages", len(result.Pages),
		"confidence", result.Confidence,
		"method", result.Method,
		"digital", counts[document.MethodDigital],
		"ocr", counts[document.MethodOCR],
		"best_effort", counts[document.MethodBestEffort],
		"unreadable", counts[document.MethodUnreadable],
		"elapsed", result.Elapsed)

	if result.ReadablePages() == 0 {
		return result, apperrors.NewDocumentUnreadableError(req.DocumentID, total)
	}
	return result, nil
}

// processPages fans pages out to a bounded pool. Each worker writes only its
// own slot, so the slice keeps document order without locking.
func (p *DocumentProcessor) processPages(ctx context.Context, src PageSource, req *ProcessRequest, total int) ([]document.Page, error) {
	pages := make([]document.Page, total)
	var done atomic.Int32

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(p.workers)
	for i := 0; i < total; i++ {
		index := i + 1
		eg.Go(func() error {
			page, err := p.selector.Process(ctx, src, req.DocumentID, index)
			if err != nil {
				return err
			}
			pages[index-1] = page
			n := int(done.Add(1))
			if req.Progress != nil {
				req.Progress(page, n, total)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}

func (p *DocumentProcessor) validate(req *ProcessRequest) error {
	if len(req.FileBuffer) > 0 {
		return pdf.Validate(req.DocumentID, req.FileBuffer, p.maxFileSize)
	}
	if req.Path == "" {
		return apperrors.NewInvalidDocumentError(req.DocumentID, "no file source provided (buffer or path)", nil)
	}
	return pdf.ValidateFile(req.DocumentID, req.Path, p.maxFileSize)
}
