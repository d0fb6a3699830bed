/**
 * Job model and handler shared by the queue backends
 *
 * A job names one PDF (inline bytes or a path readable by the worker). The
 * handler runs it through the document processor under a per-job timeout,
 * reports progress to the job store and hands the result to the result sinks.
 */

package queue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/processor"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/storage"
)

// TaskTypeProcessDocument is the asynq task type for document jobs.
const TaskTypeProcessDocument = "document:process"

const defaultProcessingTimeout = 15 * time.Minute

// JobPayload contains the job data
type JobPayload struct {
	JobID      string                 `json:"jobId"`
	DocumentID string                 `json:"documentId,omitempty"`
	Filename   string                 `json:"filename"`
	Path       string                 `json:"path,omitempty"`
	FileBuffer []byte                 `json:"fileBuffer,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// UnmarshalJSON accepts fileBuffer either as a base64 string or as a
// serialized Node.js Buffer ({"type":"Buffer","data":[...]}).
func (p *JobPayload) UnmarshalJSON(data []byte) error {
	type Alias JobPayload
	aux := &struct {
		FileBuffer interface{} `json:"fileBuffer,omitempty"`
		*Alias
	}{
		Alias: (*Alias)(p),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal JobPayload: %w", err)
	}

	p.FileBuffer = nil
	if aux.FileBuffer == nil {
		return nil
	}

	switch v := aux.FileBuffer.(type) {
	case string:
		decoded, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return fmt.Errorf("failed to decode base64 fileBuffer: %w", err)
		}
		p.FileBuffer = decoded

	case map[string]interface{}:
		if bufferType, ok := v["type"].(string); !ok || bufferType != "Buffer" {
			return fmt.Errorf("invalid Buffer object format (missing or incorrect 'type' field)")
		}
		dataArray, ok := v["data"].([]interface{})
		if !ok {
			return fmt.Errorf("Buffer object missing 'data' array")
		}
		p.FileBuffer = make([]byte, len(dataArray))
		for i, val := range dataArray {
			byteVal, ok := val.(float64)
			if !ok || byteVal < 0 || byteVal > 255 {
				return fmt.Errorf("invalid byte value in Buffer data array at index %d", i)
			}
			p.FileBuffer[i] = byte(byteVal)
		}

	default:
		return fmt.Errorf("fileBuffer must be either base64 string or Buffer object, got %T", v)
	}

	return nil
}

// Validate checks that the payload names a job and a document source.
func (p *JobPayload) Validate() error {
	if p.JobID == "" {
		return fmt.Errorf("jobId is required")
	}
	if len(p.FileBuffer) == 0 && p.Path == "" {
		return fmt.Errorf("job %s has neither fileBuffer nor path", p.JobID)
	}
	return nil
}

// JobResult summarizes a finished job.
type JobResult struct {
	JobID            string          `json:"jobId"`
	DocumentID       string          `json:"documentId"`
	Pages            int             `json:"pages"`
	ReadablePages    int             `json:"readablePages"`
	Confidence       float64         `json:"confidence"`
	Method           document.Method `json:"method"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

// JobStatusUpdater persists job status. *storage.StorageManager satisfies it.
type JobStatusUpdater interface {
	UpdateJobStatus(ctx context.Context, update *storage.JobUpdate) error
}

// HandlerConfig holds the job handler collaborators
type HandlerConfig struct {
	Processor         processor.DocumentProcessorInterface
	Sink              storage.Sink     // optional
	Jobs              JobStatusUpdater // optional
	ProcessingTimeout time.Duration
}

// JobHandler runs jobs. It is shared by both queue backends.
type JobHandler struct {
	processor processor.DocumentProcessorInterface
	sink      storage.Sink
	jobs      JobStatusUpdater
	timeout   time.Duration
	logger    *logging.Logger
}

// NewJobHandler creates a job handler
func NewJobHandler(cfg *HandlerConfig) (*JobHandler, error) {
	if cfg == nil || cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}
	timeout := cfg.ProcessingTimeout
	if timeout <= 0 {
		timeout = defaultProcessingTimeout
	}
	return &JobHandler{
		processor: cfg.Processor,
		sink:      cfg.Sink,
		jobs:      cfg.Jobs,
		timeout:   timeout,
		logger:    logging.NewLogger("queue"),
	}, nil
}

// Handle processes one job. The returned error is nil only when the document
// was processed and its result stored.
func (h *JobHandler) Handle(ctx context.Context, payload *JobPayload) (*JobResult, error) {
	startTime := time.Now()
	if err := payload.Validate(); err != nil {
		return nil, apperrors.NewInvalidDocumentError(payload.DocumentID, err.Error(), nil)
	}
	if payload.DocumentID == "" {
		payload.DocumentID = payload.JobID
	}
	logger := h.logger.With("job", payload.JobID, "document", payload.DocumentID)
	logger.Info("Processing document", "filename", payload.Filename, "bytes", len(payload.FileBuffer), "path", payload.Path)

	h.updateStatus(ctx, &storage.JobUpdate{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Filename:   payload.Filename,
		Status:     storage.JobStatusProcessing,
		Metadata:   payload.Metadata,
	})

	processCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	result, err := h.processor.ProcessDocument(processCtx, &processor.ProcessRequest{
		DocumentID: payload.DocumentID,
		Filename:   payload.Filename,
		Path:       payload.Path,
		FileBuffer: payload.FileBuffer,
		Progress: func(page document.Page, done, total int) {
			h.updateStatus(ctx, &storage.JobUpdate{
				JobID:      payload.JobID,
				Status:     storage.JobStatusProcessing,
				PagesDone:  done,
				PagesTotal: total,
			})
		},
	})
	duration := time.Since(startTime)

	if err != nil && processCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		logger.Error("Processing timed out", "elapsed", duration, "timeout", h.timeout)
		err = apperrors.NewProcessingTimeoutError(payload.DocumentID, h.timeout, err)
	}

	// An all-unreadable document still carries its per-page errors; keep it.
	if result != nil && h.sink != nil {
		if storeErr := h.sink.Store(ctx, result); storeErr != nil {
			logger.Error("Failed to store result", "error", storeErr)
			if err == nil {
				err = apperrors.NewStorageFailedError(payload.DocumentID, storeErr)
			}
		}
	}

	if err != nil {
		logger.Error("Processing failed", "elapsed", duration, "error", err)
		h.fail(ctx, payload, result, duration, err)
		return nil, err
	}

	jobResult := &JobResult{
		JobID:            payload.JobID,
		DocumentID:       result.ID,
		Pages:            len(result.Pages),
		ReadablePages:    result.ReadablePages(),
		Confidence:       result.Confidence,
		Method:           result.Method,
		ProcessingTimeMs: duration.Milliseconds(),
	}
	h.updateStatus(ctx, &storage.JobUpdate{
		JobID:            payload.JobID,
		DocumentID:       result.ID,
		Status:           storage.JobStatusCompleted,
		PagesDone:        len(result.Pages),
		PagesTotal:       len(result.Pages),
		Confidence:       result.Confidence,
		ProcessingTimeMs: duration.Milliseconds(),
		Metadata: map[string]interface{}{
			"method":         string(result.Method),
			"readable_pages": result.ReadablePages(),
			"page_errors":    len(result.Errors),
		},
	})
	logger.Info("Processing completed", "elapsed", duration, "confidence", result.Confidence, "method", string(result.Method))
	return jobResult, nil
}

func (h *JobHandler) fail(ctx context.Context, payload *JobPayload, result *document.DocumentResult, duration time.Duration, err error) {
	update := &storage.JobUpdate{
		JobID:            payload.JobID,
		DocumentID:       payload.DocumentID,
		Status:           storage.JobStatusFailed,
		ProcessingTimeMs: duration.Milliseconds(),
		ErrorCode:        string(apperrors.CodeOf(err)),
		ErrorMessage:     err.Error(),
	}
	if result != nil {
		update.PagesDone = len(result.Pages)
		update.PagesTotal = len(result.Pages)
	}
	var pe *apperrors.ProcessingError
	if errors.As(err, &pe) {
		update.Metadata = pe.ToMap()
	}
	h.updateStatus(ctx, update)
}

func (h *JobHandler) updateStatus(ctx context.Context, update *storage.JobUpdate) {
	if h.jobs == nil {
		return
	}
	if err := h.jobs.UpdateJobStatus(ctx, update); err != nil {
		h.logger.Warn("Failed to update job status", "job", update.JobID, "status", update.Status, "error", err)
	}
}

// Retryable reports whether a failed job may succeed on another attempt.
// Invalid or unreadable documents fail the same way every time.
func Retryable(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrorInvalidDocument, apperrors.ErrorDocumentUnreadable, apperrors.ErrorInvalidConfig:
		return false
	}
	return err != nil
}
