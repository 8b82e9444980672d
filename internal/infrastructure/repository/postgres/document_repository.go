package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (id, tenant_id, chatbot_id, filename, mime_type, storage_path, status, error_message,
	active_generation, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, doc.ID, doc.TenantID, doc.ChatbotID, doc.Filename, doc.MimeType, doc.StoragePath, string(doc.Status),
		doc.Error, doc.ActiveGeneration, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, documentID string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, chatbot_id, filename, mime_type, storage_path, status, error_message,
	active_generation, created_at, updated_at
FROM documents
WHERE id = $1
`, documentID)

	var doc domain.Document
	var status string
	err := row.Scan(
		&doc.ID,
		&doc.TenantID,
		&doc.ChatbotID,
		&doc.Filename,
		&doc.MimeType,
		&doc.StoragePath,
		&status,
		&doc.Error,
		&doc.ActiveGeneration,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document by id: %w", err)
	}
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}

func (r *DocumentRepository) UpdateStatus(ctx context.Context, documentID string, status domain.DocumentStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, documentID, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document status rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	return nil
}

func (r *DocumentRepository) SetExtractedSize(ctx context.Context, documentID string, runes int64) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE documents
SET text_runes = $2, updated_at = $3
WHERE id = $1
`, documentID, runes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document extracted size: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set document extracted size rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	return nil
}

// ActiveGenerations loads the per-document watermarks that gate index reads.
// Documents with active_generation 0 never completed an ingestion and are
// excluded.
func (r *DocumentRepository) ActiveGenerations(ctx context.Context, tenantID, chatbotID string) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, active_generation
FROM documents
WHERE tenant_id = $1 AND chatbot_id = $2 AND active_generation > 0
`, tenantID, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("list active generations: %w", err)
	}
	defer rows.Close()

	generations := make(map[string]int64)
	for rows.Next() {
		var id string
		var gen int64
		if err := rows.Scan(&id, &gen); err != nil {
			return nil, fmt.Errorf("scan active generation: %w", err)
		}
		generations[id] = gen
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active generations: %w", err)
	}
	return generations, nil
}

// AdvanceActiveGeneration raises the watermark monotonically. GREATEST keeps
// a late-finishing old generation from lowering it.
func (r *DocumentRepository) AdvanceActiveGeneration(ctx context.Context, documentID string, gen int64) (int64, error) {
	var active int64
	err := r.db.QueryRowContext(ctx, `
UPDATE documents
SET active_generation = GREATEST(active_generation, $2), updated_at = $3
WHERE id = $1
RETURNING active_generation
`, documentID, gen, time.Now().UTC()).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("advance active generation: %w", err)
	}
	return active, nil
}
