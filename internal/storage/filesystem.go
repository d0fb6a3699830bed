package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

// Sink receives finished document results.
type Sink interface {
	Store(ctx context.Context, result *document.DocumentResult) error
}

// MultiSink stores into every sink and joins their errors.
type MultiSink []Sink

// Store implements Sink.
func (m MultiSink) Store(ctx context.Context, result *document.DocumentResult) error {
	var errs []error
	for _, s := range m {
		if err := s.Store(ctx, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileWriter writes results as text, JSON and Markdown under a results
// directory, and optionally the binary image of every attempt under a debug
// directory.
type FileWriter struct {
	resultsDir string
	debugDir   string
}

// NewFileWriter creates a writer. An empty debugDir disables SaveBinary.
func NewFileWriter(resultsDir, debugDir string) *FileWriter {
	return &FileWriter{resultsDir: resultsDir, debugDir: debugDir}
}

// ResultPaths are the files written for one document.
type ResultPaths struct {
	Dir      string
	Text     string
	JSON     string
	Markdown string
}

// Store implements Sink.
func (w *FileWriter) Store(ctx context.Context, result *document.DocumentResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := w.Write(result)
	return err
}

// Write stores result under <resultsDir>/<name>_<id prefix>/.
func (w *FileWriter) Write(result *document.DocumentResult) (*ResultPaths, error) {
	if result == nil || result.ID == "" {
		return nil, apperrors.NewStorageFailedError("", fmt.Errorf("document ID is required"))
	}

	name := baseName(result.Source, result.ID)
	dir := filepath.Join(w.resultsDir, name+"_"+shortID(result.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.NewStorageFailedError(result.ID, err)
	}

	paths := &ResultPaths{
		Dir:      dir,
		Text:     filepath.Join(dir, name+".txt"),
		JSON:     filepath.Join(dir, name+".json"),
		Markdown: filepath.Join(dir, name+".md"),
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, apperrors.NewStorageFailedError(result.ID, fmt.Errorf("failed to marshal result: %w", err))
	}

	files := []struct {
		path string
		data []byte
	}{
		{paths.Text, []byte(result.Text() + "\n")},
		{paths.JSON, data},
		{paths.Markdown, []byte(RenderMarkdown(result))},
	}
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return nil, apperrors.NewStorageFailedError(result.ID, err)
		}
	}

	return paths, nil
}

// SaveBinary writes an attempt's binary image as
// <debugDir>/<document>/page_NNN_<preset>.png.
func (w *FileWriter) SaveBinary(documentID string, page int, preset string, img *image.Gray) error {
	if w.debugDir == "" || img == nil {
		return nil
	}
	dir := filepath.Join(w.debugDir, sanitizeName(documentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("page_%03d_%s.png", page, sanitizeName(preset)))
	return imaging.Save(img, path)
}

// RenderMarkdown formats a result as a Markdown report: a summary table
// followed by every page's text.
func RenderMarkdown(result *document.DocumentResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", baseName(result.Source, result.ID))
	fmt.Fprintf(&b, "- Document: `%s`\n", result.ID)
	fmt.Fprintf(&b, "- Pages: %d (%d readable)\n", len(result.Pages), result.ReadablePages())
	fmt.Fprintf(&b, "- Method: %s\n", result.Method)
	fmt.Fprintf(&b, "- Confidence: %.2f\n", result.Confidence)
	fmt.Fprintf(&b, "- Elapsed: %s\n\n", result.Elapsed.Round(1e6))

	b.WriteString("| Page | Method | Confidence | Attempts |\n")
	b.WriteString("|---:|---|---:|---|\n")
	for _, p := range result.Pages {
		presets := make([]string, len(p.Attempts))
		for i, a := range p.Attempts {
			presets[i] = fmt.Sprintf("%s %.2f", a.Preset, a.Confidence)
		}
		fmt.Fprintf(&b, "| %d | %s | %.2f | %s |\n", p.Index, p.Method, p.Confidence, strings.Join(presets, ", "))
	}

	for _, p := range result.Pages {
		fmt.Fprintf(&b, "\n## Page %d\n\n", p.Index)
		switch {
		case p.Method == document.MethodUnreadable:
			fmt.Fprintf(&b, "_Unreadable: %s_\n", p.Error)
		case p.Text == "":
			b.WriteString("_No text recognized._\n")
		default:
			b.WriteString(p.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func baseName(source, fallback string) string {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	name = sanitizeName(name)
	if name == "" || name == "." || name == "_" {
		return sanitizeName(fallback)
	}
	return name
}

// sanitizeName keeps letters, digits, dash, dot and underscore.
func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' || r == '.' {
			return r
		}
		return '_'
	}, s)
}

func shortID(id string) string {
	id = sanitizeName(id)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
