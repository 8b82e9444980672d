package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Create(ctx context.Context, task *domain.Task) error {
	snapshot, err := json.Marshal(task.ConfigSnapshot)
	if err != nil {
		return fmt.Errorf("marshal config snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO tasks (id, tenant_id, chatbot_id, document_id, config_snapshot, generation, priority, state,
	retry_count, max_retries, current_step, chunks_processed, total_chunks, cancel_requested, last_error,
	created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`, task.ID, task.TenantID, task.ChatbotID, task.DocumentID, snapshot, task.Generation, task.Priority,
		string(task.State), task.RetryCount, task.MaxRetries, task.CurrentStep, task.ChunksProcessed,
		task.TotalChunks, task.CancelRequested, task.LastError, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, taskID string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, tenant_id, chatbot_id, document_id, config_snapshot, generation, priority, state,
	retry_count, max_retries, current_step, chunks_processed, total_chunks, cancel_requested, last_error,
	created_at, updated_at
FROM tasks
WHERE id = $1
`, taskID)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
		}
		return nil, fmt.Errorf("get task by id: %w", err)
	}
	return &task, nil
}

// Claim is the exclusive queued/retrying -> processing transition. The
// conditional UPDATE makes it safe against two workers dequeuing the same
// message after a redelivery.
func (r *TaskRepository) Claim(ctx context.Context, taskID string) (*domain.Task, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE tasks
SET state = 'processing', updated_at = $2
WHERE id = $1 AND state IN ('queued','retrying')
RETURNING id, tenant_id, chatbot_id, document_id, config_snapshot, generation, priority, state,
	retry_count, max_retries, current_step, chunks_processed, total_chunks, cancel_requested, last_error,
	created_at, updated_at
`, taskID, time.Now().UTC())

	task, err := scanTask(row)
	if err == nil {
		return &task, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim task: %w", err)
	}

	// The task exists but is held or terminal, or it does not exist at all.
	var state string
	err = r.db.QueryRowContext(ctx, `SELECT state FROM tasks WHERE id = $1`, taskID).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("claim task state lookup: %w", err)
	}
	return nil, fmt.Errorf("task %s in state %s: %w", taskID, state, domain.ErrTaskNotClaimable)
}

func (r *TaskRepository) UpdateState(ctx context.Context, taskID string, state domain.TaskState, lastError string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET state = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND state NOT IN ('completed','failed','cancelled')
`, taskID, string(state), lastError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update task state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task state rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	return nil
}

func (r *TaskRepository) RecordProgress(ctx context.Context, taskID, step string, processed, total int) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET current_step = $2, chunks_processed = $3, total_chunks = $4, updated_at = $5
WHERE id = $1
`, taskID, step, processed, total, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record task progress: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("record task progress rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	return nil
}

func (r *TaskRepository) IncrementRetry(ctx context.Context, taskID string) (int, error) {
	var retryCount int
	err := r.db.QueryRowContext(ctx, `
UPDATE tasks
SET retry_count = retry_count + 1, updated_at = $2
WHERE id = $1
RETURNING retry_count
`, taskID, time.Now().UTC()).Scan(&retryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("increment task retry: %w", err)
	}
	return retryCount, nil
}

func (r *TaskRepository) RequestCancel(ctx context.Context, tenantID, taskID string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE tasks
SET cancel_requested = TRUE, updated_at = $3
WHERE id = $2 AND tenant_id = $1
`, tenantID, taskID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("request task cancel: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("request task cancel rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrTaskNotFound)
	}
	return nil
}

// NextGeneration reserves the next ingestion generation for a document. The
// counter lives on the document row so concurrent reingests of the same
// document serialize on the row lock.
func (r *TaskRepository) NextGeneration(ctx context.Context, documentID string) (int64, error) {
	var gen int64
	err := r.db.QueryRowContext(ctx, `
UPDATE documents
SET last_generation = last_generation + 1, updated_at = $2
WHERE id = $1
RETURNING last_generation
`, documentID, time.Now().UTC()).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("document %s: %w", documentID, domain.ErrDocumentNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("next generation: %w", err)
	}
	return gen, nil
}

type taskScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row taskScanner) (domain.Task, error) {
	var task domain.Task
	var state string
	var snapshot []byte
	err := row.Scan(
		&task.ID,
		&task.TenantID,
		&task.ChatbotID,
		&task.DocumentID,
		&snapshot,
		&task.Generation,
		&task.Priority,
		&state,
		&task.RetryCount,
		&task.MaxRetries,
		&task.CurrentStep,
		&task.ChunksProcessed,
		&task.TotalChunks,
		&task.CancelRequested,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return domain.Task{}, err
	}
	if err := json.Unmarshal(snapshot, &task.ConfigSnapshot); err != nil {
		return domain.Task{}, fmt.Errorf("unmarshal config snapshot: %w", err)
	}
	task.State = domain.TaskState(state)
	return task, nil
}
