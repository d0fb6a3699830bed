/**
 * Storage Manager for the OCR worker
 *
 * Coordinates result storage across PostgreSQL (documents, pages, jobs) and
 * Qdrant (page vectors). Vectors are written first; if the relational write
 * fails the points are deleted again so both stores stay consistent.
 * Either store may be disabled by leaving its address empty.
 */

package storage

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/document"
	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
)

const previewRunes = 280

var (
	nullEscapePattern    = regexp.MustCompile(`\\u0000`)
	controlEscapePattern = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// ManagerConfig names the stores to connect to.
type ManagerConfig struct {
	DatabaseURL      string
	QdrantURL        string
	QdrantCollection string
	VectorSize       int
}

// StorageManager coordinates PostgreSQL and Qdrant operations
type StorageManager struct {
	postgres *PostgresClient
	qdrant   *QdrantClient
	embedder *Embedder
	logger   *logging.Logger
}

// StoredResult reports where a document result was written.
type StoredResult struct {
	DocumentID string
	PointIDs   map[int]string
}

// PageSearchResult is a page ranked by similarity to a query.
type PageSearchResult struct {
	DocumentID      string
	Source          string
	Page            int
	Method          string
	Confidence      float64
	Text            string
	QdrantPointID   string
	SimilarityScore float64
}

// NewStorageManager connects to the configured stores.
func NewStorageManager(cfg ManagerConfig) (*StorageManager, error) {
	sm := &StorageManager{
		embedder: NewEmbedder(cfg.VectorSize),
		logger:   logging.NewLogger("storage"),
	}

	if cfg.DatabaseURL != "" {
		postgres, err := NewPostgresClient(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL client: %w", err)
		}
		sm.postgres = postgres
	}

	if cfg.QdrantURL != "" {
		qdrant, err := NewQdrantClient(cfg.QdrantURL, cfg.QdrantCollection, sm.embedder.Dimensions())
		if err != nil {
			sm.Close()
			return nil, fmt.Errorf("failed to initialize Qdrant client: %w", err)
		}
		sm.qdrant = qdrant
	}

	return sm, nil
}

// Enabled reports whether at least one store is connected.
func (sm *StorageManager) Enabled() bool {
	return sm.postgres != nil || sm.qdrant != nil
}

// Store implements Sink.
func (sm *StorageManager) Store(ctx context.Context, result *document.DocumentResult) error {
	_, err := sm.StoreDocumentResult(ctx, result)
	return err
}

// StoreDocumentResult writes page vectors to Qdrant and the document to
// PostgreSQL, rolling back the vectors if PostgreSQL rejects the document.
func (sm *StorageManager) StoreDocumentResult(ctx context.Context, result *document.DocumentResult) (*StoredResult, error) {
	if result == nil || result.ID == "" {
		return nil, apperrors.NewStorageFailedError("", fmt.Errorf("document ID is required"))
	}
	logger := sm.logger.With("document", result.ID)
	stored := &StoredResult{DocumentID: result.ID, PointIDs: map[int]string{}}

	// Step 1: Build page vectors
	var points []*VectorPoint
	if sm.qdrant != nil {
		points = sm.pagePoints(result)
		for _, point := range points {
			stored.PointIDs[point.Metadata["page"].(int)] = point.ID
		}
		logger.Debug("Step 1: Page vectors built", "points", len(points))
	}

	// Step 2: Store vectors in Qdrant first (fails fast if a vector is invalid)
	if len(points) > 0 {
		if err := sm.qdrant.UpsertPoints(ctx, points); err != nil {
			return nil, apperrors.NewStorageFailedError(result.ID, fmt.Errorf("failed to store vectors in Qdrant: %w", err))
		}
		logger.Debug("Step 2: Page vectors stored", "points", len(points))
	}

	// Step 3: Store document and pages in PostgreSQL
	if sm.postgres != nil {
		if err := sm.postgres.StoreDocument(ctx, result, stored.PointIDs); err != nil {
			sm.rollbackPoints(result.ID, stored.PointIDs)
			return nil, apperrors.NewStorageFailedError(result.ID, fmt.Errorf("failed to store document in PostgreSQL: %w", err))
		}
		logger.Debug("Step 3: Document stored", "pages", len(result.Pages))
	}

	logger.Info("Document result stored", "pages", len(result.Pages), "vectors", len(points))
	return stored, nil
}

// pagePoints builds one point per page with indexable text.
func (sm *StorageManager) pagePoints(result *document.DocumentResult) []*VectorPoint {
	points := make([]*VectorPoint, 0, len(result.Pages))
	for _, page := range result.Pages {
		vector, err := sm.embedder.GenerateEmbedding(page.Text)
		if err != nil {
			continue
		}
		points = append(points, &VectorPoint{
			ID:       uuid.New().String(),
			Vector:   vector,
			Metadata: pagePayload(result, page),
		})
	}
	return points
}

func pagePayload(result *document.DocumentResult, page document.Page) map[string]interface{} {
	return map[string]interface{}{
		"document_id": result.ID,
		"source":      result.Source,
		"page":        page.Index,
		"method":      string(page.Method),
		"confidence":  sanitizeConfidence(page.Confidence),
		"preview":     preview(page.Text, previewRunes),
		"created_at":  result.CreatedAt.Unix(),
	}
}

func (sm *StorageManager) rollbackPoints(documentID string, pointIDs map[int]string) {
	if sm.qdrant == nil || len(pointIDs) == 0 {
		return
	}
	ids := make([]string, 0, len(pointIDs))
	for _, id := range pointIDs {
		ids = append(ids, id)
	}
	// The caller's context may already be done; rollback gets its own.
	if err := sm.qdrant.DeletePoints(context.Background(), ids); err != nil {
		sm.logger.Error("Failed to roll back page vectors", "document", documentID, "points", len(ids), "error", err)
	}
}

// SearchSimilarPages ranks stored pages by similarity to query text. Page
// text comes from PostgreSQL when connected, otherwise from the stored preview.
func (sm *StorageManager) SearchSimilarPages(ctx context.Context, query string, limit int) ([]*PageSearchResult, error) {
	if sm.qdrant == nil {
		return nil, fmt.Errorf("similar-page search requires Qdrant")
	}

	vector, err := sm.embedder.GenerateEmbedding(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query: %w", err)
	}

	points, err := sm.qdrant.SearchVectors(ctx, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	results := make([]*PageSearchResult, 0, len(points))
	for _, point := range points {
		documentID, _ := point.Metadata["document_id"].(string)
		pageIndex, _ := point.Metadata["page"].(int64)
		if documentID == "" || pageIndex == 0 {
			continue
		}

		res := &PageSearchResult{
			DocumentID:      documentID,
			Page:            int(pageIndex),
			QdrantPointID:   point.ID,
			SimilarityScore: float64(point.Score),
		}
		res.Source, _ = point.Metadata["source"].(string)
		res.Method, _ = point.Metadata["method"].(string)
		res.Confidence, _ = point.Metadata["confidence"].(float64)
		res.Text, _ = point.Metadata["preview"].(string)

		if sm.postgres != nil {
			page, err := sm.postgres.GetPage(ctx, documentID, res.Page)
			if err != nil {
				// Skip points whose document was deleted
				continue
			}
			res.Text = page.Text
		}
		results = append(results, res)
	}

	return results, nil
}

// GetDocument retrieves a stored document.
func (sm *StorageManager) GetDocument(ctx context.Context, documentID string) (*StoredDocument, error) {
	if sm.postgres == nil {
		return nil, fmt.Errorf("document lookup requires PostgreSQL")
	}
	return sm.postgres.GetDocument(ctx, documentID)
}

// DeleteDocument removes a document from both stores.
func (sm *StorageManager) DeleteDocument(ctx context.Context, documentID string) error {
	if sm.postgres == nil {
		return fmt.Errorf("document deletion requires PostgreSQL")
	}
	doc, err := sm.postgres.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if sm.qdrant != nil {
		var ids []string
		for _, page := range doc.Pages {
			if page.VectorID != "" {
				ids = append(ids, page.VectorID)
			}
		}
		if err := sm.qdrant.DeletePoints(ctx, ids); err != nil {
			return err
		}
	}
	return sm.postgres.DeleteDocument(ctx, documentID)
}

// UpdateJobStatus updates job status in PostgreSQL. It is a no-op without PostgreSQL.
func (sm *StorageManager) UpdateJobStatus(ctx context.Context, update *JobUpdate) error {
	if sm.postgres == nil {
		return nil
	}
	return sm.postgres.UpdateJobStatus(ctx, update)
}

// GetJobByID retrieves job by ID
func (sm *StorageManager) GetJobByID(ctx context.Context, jobID string) (map[string]interface{}, error) {
	if sm.postgres == nil {
		return nil, fmt.Errorf("job lookup requires PostgreSQL")
	}
	return sm.postgres.GetJobByID(ctx, jobID)
}

// GetStats returns statistics from the connected stores
func (sm *StorageManager) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{}

	if sm.postgres != nil {
		pgStats := sm.postgres.GetStats()
		stats["postgres"] = map[string]interface{}{
			"max_open_connections": pgStats.MaxOpenConnections,
			"open_connections":     pgStats.OpenConnections,
			"in_use":               pgStats.InUse,
			"idle":                 pgStats.Idle,
			"wait_count":           pgStats.WaitCount,
			"wait_duration":        pgStats.WaitDuration.String(),
		}
	}

	if sm.qdrant != nil {
		qdrantStats, err := sm.qdrant.GetCollectionInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Qdrant stats: %w", err)
		}
		stats["qdrant"] = qdrantStats
	}

	return stats, nil
}

// Ping checks that every connected store answers.
func (sm *StorageManager) Ping(ctx context.Context) error {
	if sm.postgres != nil {
		if err := sm.postgres.Ping(ctx); err != nil {
			return fmt.Errorf("PostgreSQL ping failed: %w", err)
		}
	}
	if sm.qdrant != nil {
		if _, err := sm.qdrant.GetCollectionInfo(ctx); err != nil {
			return fmt.Errorf("Qdrant ping failed: %w", err)
		}
	}
	return nil
}

// Close closes all connections
func (sm *StorageManager) Close() error {
	var pgErr, qdErr error

	if sm.postgres != nil {
		pgErr = sm.postgres.Close()
	}

	if sm.qdrant != nil {
		qdErr = sm.qdrant.Close()
	}

	if pgErr != nil {
		return fmt.Errorf("failed to close PostgreSQL: %w", pgErr)
	}

	if qdErr != nil {
		return fmt.Errorf("failed to close Qdrant: %w", qdErr)
	}

	return nil
}

// sanitizeJSONForPostgres removes Unicode escapes that PostgreSQL JSONB rejects:
// \u0000 is dropped, other C0 control escapes become a space.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscapePattern.ReplaceAll(jsonBytes, []byte{})
	return controlEscapePattern.ReplaceAll(result, []byte(" "))
}

// preview truncates s to at most n runes.
func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
