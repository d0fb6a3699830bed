package storage

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbeddingIsDeterministicAndNormalized(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultVectorSize, e.Dimensions())

	a, err := e.GenerateEmbedding("Decreto supremo número 1234 del Ministerio de Salud")
	require.NoError(t, err)
	b, err := e.GenerateEmbedding("Decreto supremo número 1234 del Ministerio de Salud")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, DefaultVectorSize)

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestEmbeddingFoldsCaseAndAccents(t *testing.T) {
	e := NewEmbedder(128)
	a, err := e.GenerateEmbedding("REPÚBLICA DE CHILE")
	require.NoError(t, err)
	b, err := e.GenerateEmbedding("república de chile")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(a, b), 1e-5)
}

func TestEmbeddingRanksSharedVocabularyHigher(t *testing.T) {
	e := NewEmbedder(DefaultVectorSize)
	query, err := e.GenerateEmbedding("contrato de arrendamiento")
	require.NoError(t, err)
	near, err := e.GenerateEmbedding("El presente contrato de arrendamiento se celebra entre las partes")
	require.NoError(t, err)
	far, err := e.GenerateEmbedding("Informe anual de vacunación hospitalaria")
	require.NoError(t, err)

	assert.Greater(t, cosine(query, near), cosine(query, far))
}

func TestEmbeddingRejectsTextWithoutTerms(t *testing.T) {
	e := NewEmbedder(64)
	_, err := e.GenerateEmbedding("")
	assert.Error(t, err)
	_, err = e.GenerateEmbedding(" . , a ! ")
	assert.Error(t, err)
}

func TestSanitizeConfidence(t *testing.T) {
	assert.Equal(t, 0.9632, sanitizeConfidence(0.9632000000000001))
	assert.Equal(t, 0.0, sanitizeConfidence(-0.2))
	assert.Equal(t, 1.0, sanitizeConfidence(1.7))
	assert.Equal(t, 0.0, sanitizeConfidence(math.NaN()))
}

func TestSanitizeJSONForPostgres(t *testing.T) {
	raw, err := json.Marshal(map[string]string{"text": "a\x00b\x01c"})
	require.NoError(t, err)
	assert.Equal(t, `{"text":"ab c"}`, string(sanitizeJSONForPostgres(raw)))
	assert.Equal(t, "ab", sanitizeText("a\x00b"))
}

func TestPayloadConversion(t *testing.T) {
	payload := toPayload(map[string]interface{}{
		"document_id": "doc-1",
		"page":        3,
		"confidence":  0.82,
		"digital":     false,
		"created_at":  int64(1700000000),
		"other":       []string{"x"},
	})
	back := fromPayload(payload)

	assert.Equal(t, "doc-1", back["document_id"])
	assert.Equal(t, int64(3), back["page"])
	assert.Equal(t, 0.82, back["confidence"])
	assert.Equal(t, false, back["digital"])
	assert.Equal(t, int64(1700000000), back["created_at"])
	assert.Equal(t, "[x]", back["other"])
}

func TestPagePointsSkipEmptyPages(t *testing.T) {
	sm := &StorageManager{embedder: NewEmbedder(32)}
	result := &document.DocumentResult{
		ID:     "doc-1",
		Source: "acta.pdf",
		Pages: []document.Page{
			{Index: 1, Method: document.MethodDigital, Text: "Acta de sesión ordinaria", Confidence: 1},
			{Index: 2, Method: document.MethodUnreadable},
			{Index: 3, Method: document.MethodOCR, Text: "Se aprueba el presupuesto", Confidence: 0.812345},
		},
	}

	points := sm.pagePoints(result)
	require.Len(t, points, 2)
	assert.Equal(t, 1, points[0].Metadata["page"])
	assert.Equal(t, 3, points[1].Metadata["page"])
	assert.Equal(t, 0.8123, points[1].Metadata["confidence"])
	assert.Equal(t, "acta.pdf", points[1].Metadata["source"])
	assert.NotEqual(t, points[0].ID, points[1].ID)
}

func TestManagerWithoutStores(t *testing.T) {
	sm, err := NewStorageManager(ManagerConfig{})
	require.NoError(t, err)
	assert.False(t, sm.Enabled())

	stored, err := sm.StoreDocumentResult(context.Background(), &document.DocumentResult{ID: "doc-1"})
	require.NoError(t, err)
	assert.Empty(t, stored.PointIDs)

	assert.NoError(t, sm.UpdateJobStatus(context.Background(), &JobUpdate{JobID: "j", Status: JobStatusQueued}))
	_, err = sm.SearchSimilarPages(context.Background(), "acta", 5)
	assert.Error(t, err)

	_, err = sm.StoreDocumentResult(context.Background(), &document.DocumentResult{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorStorageFailed))
	assert.NoError(t, sm.Close())
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "año", preview("año", 3))
	assert.Equal(t, "añ", preview("año", 2))
}

func sampleResult() *document.DocumentResult {
	pages := []document.Page{
		{Index: 1, Method: document.MethodDigital, Text: "Primera página", Confidence: 1},
		{Index: 2, Method: document.MethodOCR, Text: "Segunda página", Confidence: 0.8, Attempts: []document.Attempt{
			{Preset: "default", Confidence: 0.5},
			{Preset: "high-denoise", Text: "Segunda página", Confidence: 0.8},
		}},
		{Index: 3, Method: document.MethodUnreadable, Error: "broken stream", ErrorCode: "PAGE_UNREADABLE"},
	}
	return document.Aggregate("3f0c2a9e-1111-2222-3333-444455556666", "/data/in/Decreto 12.pdf", pages, 1500*time.Millisecond)
}

func TestFileWriterWritesAllFormats(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, "")

	paths, err := w.Write(sampleResult())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Decreto_12_3f0c2a9e"), paths.Dir)

	text, err := os.ReadFile(paths.Text)
	require.NoError(t, err)
	assert.Equal(t, "Primera página\n\nSegunda página\n", string(text))

	raw, err := os.ReadFile(paths.JSON)
	require.NoError(t, err)
	var decoded document.DocumentResult
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Len(t, decoded.Pages, 3)
	assert.Equal(t, document.MethodDigital, decoded.Pages[0].Method)

	md, err := os.ReadFile(paths.Markdown)
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Decreto_12")
	assert.Contains(t, string(md), "| 2 | ocr | 0.80 | default 0.50, high-denoise 0.80 |")
	assert.Contains(t, string(md), "_Unreadable: broken stream_")
}

func TestFileWriterFallsBackToID(t *testing.T) {
	w := NewFileWriter(t.TempDir(), "")
	paths, err := w.Write(&document.DocumentResult{ID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc_abc", filepath.Base(paths.Dir))

	_, err = w.Write(&document.DocumentResult{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorStorageFailed))
}

func TestSaveBinary(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	img.SetGray(1, 1, color.Gray{Y: 255})

	assert.NoError(t, NewFileWriter("", "").SaveBinary("doc", 1, "default", img))

	dir := t.TempDir()
	w := NewFileWriter("", dir)
	require.NoError(t, w.SaveBinary("doc/1", 7, "high contrast", img))

	_, err := os.Stat(filepath.Join(dir, "doc_1", "page_007_high_contrast.png"))
	assert.NoError(t, err)
}

type recordingSink struct {
	err   error
	calls int
}

func (r *recordingSink) Store(context.Context, *document.DocumentResult) error {
	r.calls++
	return r.err
}

func TestMultiSinkStoresEverywhere(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("disk full")}
	sink := MultiSink{failing, ok}

	err := sink.Store(context.Background(), sampleResult())
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, ok.calls)
	assert.Equal(t, 1, failing.calls)

	assert.NoError(t, MultiSink{ok}.Store(context.Background(), sampleResult()))
}
