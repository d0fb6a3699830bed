package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

/**
 * Error taxonomy for the OCR pipeline
 *
 * Page-level codes are absorbed by the strategy loop and recorded on the page.
 * Document-level codes leave ProcessDocument and fail the whole run.
 */

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Page errors (recorded, never fatal for the document)
	ErrorPageUnreadable         ErrorCode = "PAGE_UNREADABLE"
	ErrorDegenerateBinarization ErrorCode = "DEGENERATE_BINARIZATION"
	ErrorRecognitionTimeout     ErrorCode = "RECOGNITION_TIMEOUT"
	ErrorRecognitionFailed      ErrorCode = "RECOGNITION_FAILED"

	// Document errors
	ErrorEngineUnavailable  ErrorCode = "RECOGNITION_ENGINE_UNAVAILABLE"
	ErrorDocumentUnreadable ErrorCode = "DOCUMENT_UNREADABLE"
	ErrorInvalidDocument    ErrorCode = "INVALID_DOCUMENT"
	ErrorProcessingTimeout  ErrorCode = "PROCESSING_TIMEOUT"

	// Infrastructure errors
	ErrorStorageFailed ErrorCode = "STORAGE_FAILED"
	ErrorInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// ProcessingError represents a structured processing error
type ProcessingError struct {
	Code       ErrorCode
	Message    string
	DocumentID string
	Page       int // 1-based, 0 when the error is not tied to a page
	Timestamp  time.Time
	Details    map[string]interface{}
	Cause      error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether the error must abort the whole document run.
func (e *ProcessingError) Fatal() bool {
	switch e.Code {
	case ErrorEngineUnavailable, ErrorDocumentUnreadable, ErrorInvalidDocument, ErrorProcessingTimeout:
		return true
	}
	return false
}

// Factory functions for common errors

func NewPageUnreadableError(documentID string, page int, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorPageUnreadable,
		Message:    fmt.Sprintf("page %d cannot be parsed or rendered", page),
		DocumentID: documentID,
		Page:       page,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewDegenerateBinarizationError(page int, blackRatios map[string]float64) *ProcessingError {
	details := make(map[string]interface{}, len(blackRatios))
	for method, ratio := range blackRatios {
		details["black_ratio_"+method] = ratio
	}
	return &ProcessingError{
		Code:      ErrorDegenerateBinarization,
		Message:   "every thresholding candidate is degenerate",
		Page:      page,
		Timestamp: time.Now(),
		Details:   details,
	}
}

func NewRecognitionTimeoutError(page int, timeout time.Duration) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionTimeout,
		Message:   fmt.Sprintf("recognition exceeded %v", timeout),
		Page:      page,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": timeout.String(),
		},
	}
}

func NewRecognitionFailedError(page int, preset string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorRecognitionFailed,
		Message:   fmt.Sprintf("recognition failed with preset %s", preset),
		Page:      page,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"preset": preset,
		},
		Cause: cause,
	}
}

func NewEngineUnavailableError(cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorEngineUnavailable,
		Message:   "recognition engine is missing or misconfigured",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewDocumentUnreadableError(documentID string, pages int) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorDocumentUnreadable,
		Message:    fmt.Sprintf("none of the %d pages could be read", pages),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"page_count": pages,
		},
	}
}

func NewInvalidDocumentError(documentID string, reason string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorInvalidDocument,
		Message:    reason,
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewProcessingTimeoutError(documentID string, duration time.Duration, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorProcessingTimeout,
		Message:    fmt.Sprintf("Processing timed out after %v", duration),
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Details: map[string]interface{}{
			"timeout_duration": duration.String(),
		},
		Cause: cause,
	}
}

func NewStorageFailedError(documentID string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:       ErrorStorageFailed,
		Message:    "Failed to store processing results",
		DocumentID: documentID,
		Timestamp:  time.Now(),
		Cause:      cause,
	}
}

func NewInvalidConfigError(field string, cause error) *ProcessingError {
	return &ProcessingError{
		Code:      ErrorInvalidConfig,
		Message:   fmt.Sprintf("invalid configuration: %s", field),
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"field": field,
		},
		Cause: cause,
	}
}

// CodeOf returns the code of the first ProcessingError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var pe *ProcessingError
	if stderrors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// HasCode reports whether err's chain carries a ProcessingError with code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// ToMap converts error to map for database storage
func (e *ProcessingError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"timestamp":  e.Timestamp,
	}
	if e.Page > 0 {
		result["page"] = e.Page
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
