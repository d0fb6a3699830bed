/**
 * PostgreSQL Client for the OCR worker
 *
 * Handles job status persistence and stores finished documents with their
 * pages (method, text, confidence and the preset attempt trail).
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
)

// Job statuses written by the worker.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// schemaStatements create the ocr schema on first use.
var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS ocr`,
	`CREATE TABLE IF NOT EXISTS ocr.jobs (
		id                 TEXT PRIMARY KEY,
		document_id        TEXT,
		filename           TEXT,
		status             TEXT NOT NULL,
		pages_done         INTEGER NOT NULL DEFAULT 0,
		pages_total        INTEGER NOT NULL DEFAULT 0,
		confidence         NUMERIC(5,4),
		processing_time_ms BIGINT,
		error_code         TEXT,
		error_message      TEXT,
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS ocr.documents (
		id          TEXT PRIMARY KEY,
		source      TEXT NOT NULL,
		method      TEXT NOT NULL,
		confidence  NUMERIC(5,4) NOT NULL,
		page_count  INTEGER NOT NULL,
		elapsed_ms  BIGINT NOT NULL,
		errors      JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ocr.pages (
		document_id         TEXT NOT NULL REFERENCES ocr.documents(id) ON DELETE CASCADE,
		page_index          INTEGER NOT NULL,
		method              TEXT NOT NULL,
		text                TEXT NOT NULL,
		confidence          NUMERIC(5,4) NOT NULL,
		attempt_presets     TEXT[] NOT NULL DEFAULT '{}',
		attempt_confidences DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
		error_code          TEXT,
		error_message       TEXT,
		vector_id           TEXT,
		elapsed_ms          BIGINT NOT NULL,
		PRIMARY KEY (document_id, page_index)
	)`,
}

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// JobUpdate represents a job status update
type JobUpdate struct {
	JobID            string
	DocumentID       string
	Filename         string
	Status           string
	PagesDone        int
	PagesTotal       int
	Confidence       float64
	ProcessingTimeMs int64
	ErrorCode        string
	ErrorMessage     string
	Metadata         map[string]interface{}
}

// StoredPage is a page row.
type StoredPage struct {
	DocumentID         string
	Index              int
	Method             string
	Text               string
	Confidence         float64
	AttemptPresets     []string
	AttemptConfidences []float64
	ErrorCode          string
	ErrorMessage       string
	VectorID           string
	ElapsedMs          int64
}

// StoredDocument is a document row with its pages.
type StoredDocument struct {
	ID         string
	Source     string
	Method     string
	Confidence float64
	PageCount  int
	ElapsedMs  int64
	Errors     []document.PageError
	CreatedAt  time.Time
	Pages      []*StoredPage
}

// sanitizeConfidence rounds confidence to 4 decimal places so it fits NUMERIC(5,4),
// clamping to [0.0, 1.0].
func sanitizeConfidence(confidence float64) float64 {
	if confidence != confidence || confidence < 0.0 {
		return 0.0
	}
	if confidence > 1.0 {
		return 1.0
	}
	return float64(int(confidence*10000+0.5)) / 10000
}

// sanitizeText drops NUL bytes, which TEXT columns reject.
func sanitizeText(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{db: db}
	if err := client.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return client, nil
}

// EnsureSchema creates the ocr schema and tables when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// UpdateJobStatus upserts the job row. Zero-valued confidence and timing keep
// the previously stored values.
func (p *PostgresClient) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if update.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	if update.Status == "" {
		return fmt.Errorf("status is required")
	}

	confidence := sanitizeConfidence(update.Confidence)

	metadata := update.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	metadataJSON = sanitizeJSONForPostgres(metadataJSON)

	query := `
		INSERT INTO ocr.jobs (
			id, document_id, filename, status, pages_done, pages_total,
			confidence, processing_time_ms, error_code, error_message, metadata,
			created_at, updated_at
		) VALUES (
			$1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6,
			NULLIF($7::NUMERIC(5,4), 0), NULLIF($8, 0), NULLIF($9, ''), NULLIF($10, ''),
			$11::jsonb, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			document_id = COALESCE(EXCLUDED.document_id, ocr.jobs.document_id),
			filename = COALESCE(EXCLUDED.filename, ocr.jobs.filename),
			status = EXCLUDED.status,
			pages_done = GREATEST(EXCLUDED.pages_done, ocr.jobs.pages_done),
			pages_total = GREATEST(EXCLUDED.pages_total, ocr.jobs.pages_total),
			confidence = COALESCE(EXCLUDED.confidence, ocr.jobs.confidence),
			processing_time_ms = COALESCE(EXCLUDED.processing_time_ms, ocr.jobs.processing_time_ms),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message,
			metadata = ocr.jobs.metadata || EXCLUDED.metadata,
			updated_at = NOW()
		RETURNING id
	`

	var returnedID string
	err = p.db.QueryRowContext(
		ctx,
		query,
		update.JobID,                      // $1
		update.DocumentID,                 // $2
		sanitizeText(update.Filename),     // $3
		update.Status,                     // $4
		update.PagesDone,                  // $5
		update.PagesTotal,                 // $6
		confidence,                        // $7
		update.ProcessingTimeMs,           // $8
		update.ErrorCode,                  // $9
		sanitizeText(update.ErrorMessage), // $10
		metadataJSON,                      // $11
	).Scan(&returnedID)

	if err != nil {
		return fmt.Errorf("failed to update job status (job=%s, status=%s, confidence=%.4f): %w",
			update.JobID, update.Status, confidence, err)
	}

	return nil
}

// StoreDocument writes the document and its pages in one transaction,
// replacing any earlier result with the same ID. vectorIDs maps page index to
// the Qdrant point holding that page's vector.
func (p *PostgresClient) StoreDocument(ctx context.Context, result *document.DocumentResult, vectorIDs map[int]string) error {
	if result == nil || result.ID == "" {
		return fmt.Errorf("document ID is required")
	}

	errorsJSON, err := json.Marshal(pageErrors(result.Errors))
	if err != nil {
		return fmt.Errorf("failed to marshal page errors: %w", err)
	}
	errorsJSON = sanitizeJSONForPostgres(errorsJSON)

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ocr.documents (id, source, method, confidence, page_count, elapsed_ms, errors, created_at)
		VALUES ($1, $2, $3, $4::NUMERIC(5,4), $5, $6, $7::jsonb, $8)
		ON CONFLICT (id) DO UPDATE SET
			source = EXCLUDED.source,
			method = EXCLUDED.method,
			confidence = EXCLUDED.confidence,
			page_count = EXCLUDED.page_count,
			elapsed_ms = EXCLUDED.elapsed_ms,
			errors = EXCLUDED.errors,
			created_at = EXCLUDED.created_at
	`,
		result.ID,
		sanitizeText(result.Source),
		string(result.Method),
		sanitizeConfidence(result.Confidence),
		len(result.Pages),
		result.Elapsed.Milliseconds(),
		errorsJSON,
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", result.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM ocr.pages WHERE document_id = $1`, result.ID); err != nil {
		return fmt.Errorf("failed to clear pages of %s: %w", result.ID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ocr.pages (
			document_id, page_index, method, text, confidence,
			attempt_presets, attempt_confidences, error_code, error_message, vector_id, elapsed_ms
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(5,4), $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare page insert: %w", err)
	}
	defer stmt.Close()

	for _, page := range result.Pages {
		presets, confidences := attemptColumns(page.Attempts)
		_, err := stmt.ExecContext(ctx,
			result.ID,
			page.Index,
			string(page.Method),
			sanitizeText(page.Text),
			sanitizeConfidence(page.Confidence),
			pq.Array(presets),
			pq.Array(confidences),
			page.ErrorCode,
			sanitizeText(page.Error),
			vectorIDs[page.Index],
			page.Elapsed.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to store page %d of %s: %w", page.Index, result.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", result.ID, err)
	}
	return nil
}

// GetDocument retrieves a stored document with its pages in order.
func (p *PostgresClient) GetDocument(ctx context.Context, documentID string) (*StoredDocument, error) {
	if documentID == "" {
		return nil, fmt.Errorf("document ID is required")
	}

	var (
		doc        StoredDocument
		errorsJSON []byte
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, source, method, confidence, page_count, elapsed_ms, errors, created_at
		FROM ocr.documents
		WHERE id = $1
	`, documentID).Scan(
		&doc.ID, &doc.Source, &doc.Method, &doc.Confidence,
		&doc.PageCount, &doc.ElapsedMs, &errorsJSON, &doc.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document not found: %s", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &doc.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal page errors: %w", err)
		}
	}

	rows, err := p.db.QueryContext(ctx, pageSelect+` WHERE document_id = $1 ORDER BY page_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		doc.Pages = append(doc.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pages: %w", err)
	}

	return &doc, nil
}

// GetPage retrieves one stored page.
func (p *PostgresClient) GetPage(ctx context.Context, documentID string, index int) (*StoredPage, error) {
	row := p.db.QueryRowContext(ctx, pageSelect+` WHERE document_id = $1 AND page_index = $2`, documentID, index)
	page, err := scanPage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("page %d of %s not found", index, documentID)
	}
	return page, err
}

// DeleteDocument removes a document; its pages cascade.
func (p *PostgresClient) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM ocr.documents WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	return nil
}

// GetJobByID retrieves a job by ID
func (p *PostgresClient) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job ID is required")
	}

	query := `
		SELECT
			id, document_id, filename, status, pages_done, pages_total,
			confidence, processing_time_ms, error_code, error_message,
			metadata, created_at, updated_at
		FROM ocr.jobs
		WHERE id = $1
	`

	var (
		id, status              string
		documentID, filename    sql.NullString
		pagesDone, pagesTotal   int
		confidence              sql.NullFloat64
		processingTimeMs        sql.NullInt64
		errorCode, errorMessage sql.NullString
		metadataJSON            []byte
		createdAt, updatedAt    time.Time
	)

	err := p.db.QueryRowContext(ctx, query, jobID).Scan(
		&id, &documentID, &filename, &status, &pagesDone, &pagesTotal,
		&confidence, &processingTimeMs, &errorCode, &errorMessage,
		&metadataJSON, &createdAt, &updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var metadata map[string]interface{}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	result := map[string]interface{}{
		"id":         id,
		"status":     status,
		"pagesDone":  pagesDone,
		"pagesTotal": pagesTotal,
		"createdAt":  createdAt,
		"updatedAt":  updatedAt,
		"metadata":   metadata,
	}

	if documentID.Valid {
		result["documentId"] = documentID.String
	}
	if filename.Valid {
		result["filename"] = filename.String
	}
	if confidence.Valid {
		result["confidence"] = confidence.Float64
	}
	if processingTimeMs.Valid {
		result["processingTimeMs"] = processingTimeMs.Int64
	}
	if errorCode.Valid {
		result["errorCode"] = errorCode.String
	}
	if errorMessage.Valid {
		result["errorMessage"] = errorMessage.String
	}

	return result, nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}

const pageSelect = `
	SELECT document_id, page_index, method, text, confidence,
		attempt_presets, attempt_confidences,
		COALESCE(error_code, ''), COALESCE(error_message, ''), COALESCE(vector_id, ''), elapsed_ms
	FROM ocr.pages`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPage(row rowScanner) (*StoredPage, error) {
	var page StoredPage
	err := row.Scan(
		&page.DocumentID, &page.Index, &page.Method, &page.Text, &page.Confidence,
		pq.Array(&page.AttemptPresets), pq.Array(&page.AttemptConfidences),
		&page.ErrorCode, &page.ErrorMessage, &page.VectorID, &page.ElapsedMs,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}
	return &page, nil
}

// attemptColumns flattens the attempt trail into parallel arrays.
func attemptColumns(attempts []document.Attempt) ([]string, []float64) {
	presets := make([]string, len(attempts))
	confidences := make([]float64, len(attempts))
	for i, a := range attempts {
		presets[i] = a.Preset
		confidences[i] = sanitizeConfidence(a.Confidence)
	}
	return presets, confidences
}

func pageErrors(errs []document.PageError) []document.PageError {
	if errs == nil {
		return []document.PageError{}
	}
	return errs
}
