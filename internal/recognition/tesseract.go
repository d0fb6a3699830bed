/**
 * Tesseract engine
 *
 * Local OCR through gosseract. A fresh client is created per call, so the
 * engine is safe to share between page workers.
 */

package recognition

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractEngine recognizes text with libtesseract.
type TesseractEngine struct {
	tessdataPrefix string
	clientFactory  func() *gosseract.Client
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	TessdataPrefix string
}

// NewTesseractEngine creates a new Tesseract engine
func NewTesseractEngine(cfg *TesseractConfig) *TesseractEngine {
	e := &TesseractEngine{clientFactory: gosseract.NewClient}
	if cfg != nil {
		e.tessdataPrefix = cfg.TessdataPrefix
	}
	return e
}

func (e *TesseractEngine) newClient(langs []string) (*gosseract.Client, error) {
	client := e.clientFactory()
	if e.tessdataPrefix != "" {
		if err := client.SetTessdataPrefix(e.tessdataPrefix); err != nil {
			client.Close()
			return nil, fmt.Errorf("set tessdata prefix: %w", err)
		}
	}
	if len(langs) > 0 {
		if err := client.SetLanguage(langs...); err != nil {
			client.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}
	return client, nil
}

// Recognize runs OCR on img. Confidence is the mean word confidence, or nil
// when tesseract reported no words.
func (e *TesseractEngine) Recognize(ctx context.Context, img image.Image, s Settings) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	client, err := e.newClient(s.Languages)
	if err != nil {
		return Output{}, err
	}
	defer client.Close()

	if err := client.SetPageSegMode(gosseract.PageSegMode(s.PageSegMode)); err != nil {
		return Output{}, fmt.Errorf("set page segmentation mode: %w", err)
	}
	for k, v := range s.Variables {
		if err := client.SetVariable(gosseract.SettableVariable(k), v); err != nil {
			return Output{}, fmt.Errorf("set variable %s: %w", k, err)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Output{}, fmt.Errorf("encode image: %w", err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return Output{}, fmt.Errorf("set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return Output{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	return Output{Text: strings.TrimSpace(text), Confidence: wordConfidence(client)}, nil
}

func wordConfidence(client *gosseract.Client) *float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return nil
	}
	var sum float64
	n := 0
	for _, b := range boxes {
		if b.Confidence < 0 {
			continue
		}
		sum += b.Confidence / 100.0
		n++
	}
	if n == 0 {
		return nil
	}
	conf := sum / float64(n)
	return &conf
}

// Check initializes tesseract with langs on a blank image. It fails when the
// library or the language data is missing.
func (e *TesseractEngine) Check(ctx context.Context, langs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, err := e.newClient(langs)
	if err != nil {
		return err
	}
	defer client.Close()

	blank := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range blank.Pix {
		blank.Pix[i] = 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, blank); err != nil {
		return err
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	if _, err := client.Text(); err != nil {
		return fmt.Errorf("tesseract init: %w", err)
	}
	return nil
}
