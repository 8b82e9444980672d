package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// IngestUseCase accepts a document upload, snapshots the active config and
// enqueues the ingestion task.
type IngestUseCase struct {
	configs ports.ConfigRepository
	docs    ports.DocumentRepository
	tasks   ports.TaskRepository
	storage ports.ObjectStorage
	queue   ports.QueueTransport
	logger  *slog.Logger
}

func NewIngestUseCase(
	configs ports.ConfigRepository,
	docs ports.DocumentRepository,
	tasks ports.TaskRepository,
	storage ports.ObjectStorage,
	queue ports.QueueTransport,
	logger *slog.Logger,
) *IngestUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestUseCase{
		configs: configs,
		docs:    docs,
		tasks:   tasks,
		storage: storage,
		queue:   queue,
		logger:  logger,
	}
}

func (uc *IngestUseCase) Upload(ctx context.Context, tenantID, chatbotID, tier, filename, mimeType string, body io.Reader) (*domain.Task, error) {
	if tenantID == "" || chatbotID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("tenant and chatbot ids are required"))
	}
	if filename == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload",
			fmt.Errorf("filename is required"))
	}

	cfg, err := uc.configs.GetActive(ctx, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolve active config: %w", err)
	}

	docID := uuid.NewString()
	storageKey := path.Join(tenantID, chatbotID, docID+path.Ext(filename))
	if err := uc.storage.Save(ctx, storageKey, body); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	now := time.Now().UTC()
	doc := &domain.Document{
		ID:          docID,
		TenantID:    tenantID,
		ChatbotID:   chatbotID,
		Filename:    filename,
		MimeType:    mimeType,
		StoragePath: storageKey,
		Status:      domain.DocumentUploaded,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	return uc.enqueue(ctx, cfg, doc, tier)
}

// Reingest enqueues a fresh ingestion run for an already stored document,
// snapshotting the current active config. Used after a config change that
// requires reprocessing.
func (uc *IngestUseCase) Reingest(ctx context.Context, tenantID, documentID, tier string) (*domain.Task, error) {
	doc, err := uc.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.TenantID != tenantID {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "reingest",
			fmt.Errorf("document %s not owned by tenant", documentID))
	}
	cfg, err := uc.configs.GetActive(ctx, doc.ChatbotID)
	if err != nil {
		return nil, fmt.Errorf("resolve active config: %w", err)
	}
	return uc.enqueue(ctx, cfg, doc, tier)
}

func (uc *IngestUseCase) enqueue(ctx context.Context, cfg *domain.PipelineConfig, doc *domain.Document, tier string) (*domain.Task, error) {
	gen, err := uc.tasks.NextGeneration(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("allocate generation: %w", err)
	}

	now := time.Now().UTC()
	task := &domain.Task{
		ID:             uuid.NewString(),
		TenantID:       doc.TenantID,
		ChatbotID:      doc.ChatbotID,
		DocumentID:     doc.ID,
		ConfigSnapshot: *cfg,
		Generation:     gen,
		Priority:       domain.PriorityForTier(tier),
		State:          domain.TaskQueued,
		MaxRetries:     domain.DefaultMaxRetries,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := uc.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	msg := ports.TaskMessage{
		TaskID:     task.ID,
		Priority:   task.Priority,
		Attempt:    1,
		EnqueuedAt: now,
	}
	if err := uc.queue.Enqueue(ctx, msg); err != nil {
		if stateErr := uc.tasks.UpdateState(ctx, task.ID, domain.TaskFailed, err.Error()); stateErr != nil {
			uc.logger.Error("mark unqueued task failed", "task_id", task.ID, "error", stateErr)
		}
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	uc.logger.Info("ingestion task enqueued",
		"task_id", task.ID, "document_id", doc.ID,
		"generation", gen, "priority", task.Priority)
	return task, nil
}
