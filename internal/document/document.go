// Package document holds the page and document result model shared by the
// pipeline stages and the result sinks.
package document

import (
	"image"
	"time"
)

// Method is the processing path that produced a page's final text.
type Method string

const (
	MethodDigital    Method = "digital"
	MethodOCR        Method = "ocr"
	MethodBestEffort Method = "ocr_fallback_best_effort"
	MethodUnreadable Method = "unreadable"
)

// methodRank orders methods for tie-breaking the predominant method.
var methodRank = map[Method]int{
	MethodDigital:    0,
	MethodOCR:        1,
	MethodBestEffort: 2,
	MethodUnreadable: 3,
}

// Raster is a rendered page. Image is nil once the pixel buffer has been released.
type Raster struct {
	Image    *image.Gray `json:"-"`
	Width    int         `json:"width"`
	Height   int         `json:"height"`
	BitDepth int         `json:"bit_depth"`
	DPI      int         `json:"dpi"`
}

// NewRaster wraps a grayscale render.
func NewRaster(img *image.Gray, dpi int) *Raster {
	b := img.Bounds()
	return &Raster{Image: img, Width: b.Dx(), Height: b.Dy(), BitDepth: 8, DPI: dpi}
}

// Release drops the pixel buffer and keeps the dimensions.
func (r *Raster) Release() {
	if r != nil {
		r.Image = nil
	}
}

// Attempt records one enhance, binarize, recognize, clean pass with a preset.
type Attempt struct {
	Preset      string        `json:"preset"`
	Languages   string        `json:"languages"`
	PageSegMode int           `json:"page_seg_mode"`
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	Estimated   bool          `json:"confidence_estimated,omitempty"`
	SkewAngle   float64       `json:"skew_angle,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// Failed reports whether the attempt ended without a recognition result.
func (a Attempt) Failed() bool {
	return a.ErrorCode != ""
}

// Page is the frozen outcome for one page.
type Page struct {
	Index       int           `json:"index"`
	DocumentID  string        `json:"document_id"`
	Raster      *Raster       `json:"raster,omitempty"`
	DigitalText *string       `json:"digital_text,omitempty"`
	Method      Method        `json:"method"`
	Text        string        `json:"text"`
	Confidence  float64       `json:"confidence"`
	Attempts    []Attempt     `json:"attempts,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	Elapsed     time.Duration `json:"elapsed_ns"`
}

// PageError is a page failure surfaced at document level.
type PageError struct {
	Page    int    `json:"page"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DocumentResult is the in-memory product of processing one PDF.
type DocumentResult struct {
	ID         string        `json:"id"`
	Source     string        `json:"source"`
	Pages      []Page        `json:"pages"`
	Confidence float64       `json:"confidence"`
	Method     Method        `json:"method"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Errors     []PageError   `json:"errors,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}
