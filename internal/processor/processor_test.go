package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/config"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/pdf"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/strategy"
)

type fakeSource struct {
	pages  int
	closed atomic.Bool
}

func (f *fakeSource) Page(context.Context, int) (pdf.Content, error) { return pdf.Content{}, nil }
func (f *fakeSource) Render(context.Context, int) (*document.Raster, error) {
	return nil, nil
}
func (f *fakeSource) PageCount() int { return f.pages }
func (f *fakeSource) Close() error { f.closed.Store(true); return nil }

type fakeChecker struct{ err error }

func (c fakeChecker) Check(context.Context, []string) error { return c.err }

// scriptedSelector returns pages by index; delays let later pages finish first.
type scriptedSelector struct {
	mu       sync.Mutex
	pages    map[int]document.Page
	errs     map[int]error
	delay    map[int]time.Duration
	inFlight int
	peak     int
}

func (s *scriptedSelector) Process(ctx context.Context, _ strategy.PageSource, documentID string, index int) (document.Page, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.peak {
		s.peak = s.inFlight
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.inFlight--
		s.mu.Unlock()
	}()

	if d := s.delay[index]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return document.Page{}, ctx.Err()
		}
	}
	if err := s.errs[index]; err != nil {
		return document.Page{}, err
	}
	if p, ok := s.pages[index]; ok {
		p.Index = index
		p.DocumentID = documentID
		return p, nil
	}
	return document.Page{Index: index, DocumentID: documentID, Method: document.MethodOCR, Text: "p", Confidence: 0.8}, nil
}

func validPDF() []byte {
	return []byte("%PDF-1.7\n" + strings.Repeat("%", 2048))
}

func newTestProcessor(src *fakeSource, sel PageSelector, checkErr error, workers int) *DocumentProcessor {
	open := func(*ProcessRequest) (PageSource, error) { return src, nil }
	return New([]string{"spa"}, workers, 1<<20, fakeChecker{err: checkErr}, sel, open)
}

func TestProcessDocumentKeepsPageOrder(t *testing.T) {
	src := &fakeSource{pages: 5}
	sel := &scriptedSelector{
		pages: map[int]document.Page{
			1: {Method: document.MethodDigital, Text: "uno", Confidence: 1},
			3: {Method: document.MethodBestEffort, Text: "", Confidence: 0.2},
		},
		delay: map[int]time.Duration{1: 30 * time.Millisecond, 2: 10 * time.Millisecond},
	}
	p := newTestProcessor(src, sel, nil, 3)

	var progress []int
	var mu sync.Mutex
	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{
		DocumentID: "doc-1",
		Filename:   "decreto.pdf",
		FileBuffer: validPDF(),
		Progress: func(_ document.Page, done, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, 5, total)
			progress = append(progress, done)
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Pages, 5)
	for i, page := range result.Pages {
		assert.Equal(t, i+1, page.Index)
		assert.Equal(t, "doc-1", page.DocumentID)
	}
	assert.Equal(t, "uno", result.Pages[0].Text)
	assert.Equal(t, "decreto.pdf", result.Source)
	assert.Equal(t, document.MethodOCR, result.Method)
	assert.InDelta(t, (1+0.8+0.2+0.8+0.8)/5, result.Confidence, 1e-9)
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5}, progress)
	assert.LessOrEqual(t, sel.peak, 3)
	assert.True(t, src.closed.Load())
}

func TestProcessDocumentAssignsID(t *testing.T) {
	p := newTestProcessor(&fakeSource{pages: 1}, &scriptedSelector{}, nil, 1)
	req := &ProcessRequest{FileBuffer: validPDF()}

	result, err := p.ProcessDocument(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, req.DocumentID)
	assert.Equal(t, req.DocumentID, result.ID)
}

func TestUnreadablePagesDoNotFailTheDocument(t *testing.T) {
	sel := &scriptedSelector{pages: map[int]document.Page{
		2: {Method: document.MethodUnreadable, ErrorCode: string(apperrors.ErrorPageUnreadable), Error: "bad page"},
	}}
	p := newTestProcessor(&fakeSource{pages: 3}, sel, nil, 2)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{FileBuffer: validPDF()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReadablePages())
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 2, result.Errors[0].Page)
}

func TestAllPagesUnreadableFailsTheDocument(t *testing.T) {
	unreadable := document.Page{Method: document.MethodUnreadable, ErrorCode: string(apperrors.ErrorPageUnreadable)}
	sel := &scriptedSelector{pages: map[int]document.Page{1: unreadable, 2: unreadable}}
	p := newTestProcessor(&fakeSource{pages: 2}, sel, nil, 2)

	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{FileBuffer: validPDF()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorDocumentUnreadable))
	require.NotNil(t, result)
	assert.Len(t, result.Pages, 2)
}

func TestEngineUnavailableStopsBeforePageWork(t *testing.T) {
	sel := &scriptedSelector{}
	p := newTestProcessor(&fakeSource{pages: 3}, sel, apperrors.NewEngineUnavailableError(errors.New("spa.traineddata missing")), 2)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{FileBuffer: validPDF()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorEngineUnavailable))
	assert.Zero(t, sel.peak)
}

func TestFatalPageErrorAbortsDocument(t *testing.T) {
	src := &fakeSource{pages: 4}
	sel := &scriptedSelector{
		errs:  map[int]error{2: apperrors.NewEngineUnavailableError(errors.New("engine crashed"))},
		delay: map[int]time.Duration{3: time.Second, 4: time.Second},
	}
	p := newTestProcessor(src, sel, nil, 4)

	start := time.Now()
	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{FileBuffer: validPDF()})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorEngineUnavailable))
	assert.Less(t, time.Since(start), 900*time.Millisecond, "slow pages are cancelled")
	assert.True(t, src.closed.Load())
}

func TestInvalidInputIsRejected(t *testing.T) {
	p := newTestProcessor(&fakeSource{pages: 1}, &scriptedSelector{}, nil, 1)

	_, err := p.ProcessDocument(context.Background(), &ProcessRequest{FileBuffer: []byte("hello")})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorInvalidDocument))

	_, err = p.ProcessDocument(context.Background(), &ProcessRequest{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorInvalidDocument))

	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, validPDF(), 0o644))
	result, err := p.ProcessDocument(context.Background(), &ProcessRequest{Path: path})
	require.NoError(t, err)
	assert.Equal(t, path, result.Source)
}

func TestNewDocumentProcessorRequiresCollaborators(t *testing.T) {
	_, err := NewDocumentProcessor(nil)
	assert.Error(t, err)

	cfg := &config.Config{PageWorkers: 2, RecognitionTimeout: time.Second, AcceptConfidence: 0.75}
	_, err = NewDocumentProcessor(&ProcessorConfig{Config: cfg})
	assert.Error(t, err)

	res, err := cfg.LoadResources()
	require.NoError(t, err)
	_, err = NewDocumentProcessor(&ProcessorConfig{Config: cfg, Resources: res})
	assert.Error(t, err)

	p, err := NewDocumentProcessor(&ProcessorConfig{Config: cfg, Resources: res, Engine: recognition.NewTesseractEngine(&recognition.TesseractConfig{})})
	require.NoError(t, err)
	assert.Equal(t, 2, p.workers)
}
