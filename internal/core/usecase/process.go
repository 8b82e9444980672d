package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
	"github.com/mkropachev/ragpipe/internal/strategy"
)

// Step names surfaced through task status.
const (
	StepExtract = "extract"
	StepChunk   = "chunk"
	StepEmbed   = "embed"
	StepIndex   = "index"
	StepDone    = "done"
)

// ProcessTaskUseCase runs one ingestion attempt: extract, chunk, embed,
// write+tombstone. Strategies come exclusively from the task's config
// snapshot, so a concurrent config edit cannot touch a dispatched task.
// Cancellation is cooperative and observed at step boundaries.
type ProcessTaskUseCase struct {
	tasks     ports.TaskRepository
	docs      ports.DocumentRepository
	extractor ports.TextExtractor
	index     ports.ChunkIndex
	factory   *strategy.Factory
	cache     ports.EmbeddingCache
	logger    *slog.Logger
}

func NewProcessTaskUseCase(
	tasks ports.TaskRepository,
	docs ports.DocumentRepository,
	extractor ports.TextExtractor,
	index ports.ChunkIndex,
	factory *strategy.Factory,
	cache ports.EmbeddingCache,
	logger *slog.Logger,
) *ProcessTaskUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessTaskUseCase{
		tasks:     tasks,
		docs:      docs,
		extractor: extractor,
		index:     index,
		factory:   factory,
		cache:     cache,
		logger:    logger,
	}
}

func (uc *ProcessTaskUseCase) Process(ctx context.Context, task *domain.Task) error {
	snapshot := task.ConfigSnapshot

	doc, err := uc.docs.GetByID(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if err := uc.docs.UpdateStatus(ctx, doc.ID, domain.DocumentProcessing, ""); err != nil {
		return fmt.Errorf("set document status: %w", err)
	}

	if err := uc.checkpoint(ctx, task, StepExtract, 0, 0); err != nil {
		return err
	}
	text, err := uc.extractor.Extract(ctx, doc)
	if err != nil {
		return uc.failDocument(ctx, doc.ID, fmt.Errorf("extract text: %w", err))
	}
	if err := uc.docs.SetExtractedSize(ctx, doc.ID, int64(utf8.RuneCountInString(text))); err != nil {
		return fmt.Errorf("record extracted size: %w", err)
	}

	if err := uc.checkpoint(ctx, task, StepChunk, 0, 0); err != nil {
		return err
	}
	chunker, err := uc.factory.MakeChunker(ctx, snapshot.Chunking, snapshot.Embedding)
	if err != nil {
		return uc.failDocument(ctx, doc.ID, err)
	}
	chunks, err := chunker.Split(ctx, text, &domain.StructureHints{MimeType: doc.MimeType})
	if err != nil {
		return uc.failDocument(ctx, doc.ID, fmt.Errorf("chunk document: %w", err))
	}
	// Whitespace-only documents legitimately chunk to nothing; the run
	// completes and supersedes any previous generation's chunks.
	if len(chunks) == 0 {
		return uc.finishGeneration(ctx, task, doc, nil)
	}

	if err := uc.checkpoint(ctx, task, StepEmbed, 0, len(chunks)); err != nil {
		return err
	}
	embedder, err := uc.factory.MakeEmbedder(ctx, snapshot.Embedding)
	if err != nil {
		return uc.failDocument(ctx, doc.ID, err)
	}
	if snapshot.Performance.CacheEmbeddings {
		embedder = strategy.NewCachedEmbedder(embedder, uc.cache)
	}

	vectors, err := uc.embedInBatches(ctx, task, embedder, chunks, snapshot.Embedding.BatchSize)
	if err != nil {
		return uc.failDocument(ctx, doc.ID, err)
	}

	if err := uc.checkpoint(ctx, task, StepIndex, len(chunks), len(chunks)); err != nil {
		return err
	}
	docChunks := buildGenerationChunks(task, doc, chunks, vectors)
	return uc.finishGeneration(ctx, task, doc, docChunks)
}

// embedInBatches embeds chunk texts respecting the configured batch size,
// recording progress after every batch.
func (uc *ProcessTaskUseCase) embedInBatches(ctx context.Context, task *domain.Task, embedder ports.Embedder, chunks []domain.Chunk, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 32
	}
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		if err := uc.checkCancelled(ctx, task); err != nil {
			return nil, err
		}
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		batch, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(batch) != len(texts) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "embed batch",
				fmt.Errorf("vectors/texts mismatch: %d/%d", len(batch), len(texts)))
		}
		vectors = append(vectors, batch...)
		if err := uc.tasks.RecordProgress(ctx, task.ID, StepEmbed, len(vectors), len(chunks)); err != nil {
			return nil, fmt.Errorf("record progress: %w", err)
		}
	}
	return vectors, nil
}

// finishGeneration writes the new generation, activates it by advancing the
// per-document watermark, then tombstones superseded chunks. Written chunks
// are invisible to queries until the watermark advance commits, so the
// advance is the single atomic switch between generations; tombstoning only
// reclaims space. Chunk ids are derived from (document, generation, offset),
// so a retried attempt overwrites its own partial writes instead of
// duplicating them.
func (uc *ProcessTaskUseCase) finishGeneration(ctx context.Context, task *domain.Task, doc *domain.Document, chunks []domain.DocumentChunk) error {
	if len(chunks) > 0 {
		if err := uc.index.WriteGeneration(ctx, chunks); err != nil {
			return uc.failDocument(ctx, doc.ID, domain.WrapError(domain.ErrIndexWrite, "write generation", err))
		}
	}

	active, err := uc.docs.AdvanceActiveGeneration(ctx, doc.ID, task.Generation)
	if err != nil {
		return uc.failDocument(ctx, doc.ID, fmt.Errorf("advance active generation: %w", err))
	}
	filter := domain.SearchFilter{TenantID: task.TenantID, ChatbotID: task.ChatbotID, DocumentID: doc.ID}
	if err := uc.index.Tombstone(ctx, filter, active); err != nil {
		return uc.failDocument(ctx, doc.ID, domain.WrapError(domain.ErrIndexWrite, "tombstone old generations", err))
	}
	if task.Generation < active {
		uc.logger.Info("generation superseded before completion",
			"task_id", task.ID, "document_id", doc.ID,
			"generation", task.Generation, "active", active)
	}

	if err := uc.docs.UpdateStatus(ctx, doc.ID, domain.DocumentReady, ""); err != nil {
		return fmt.Errorf("set document ready: %w", err)
	}
	return uc.tasks.RecordProgress(ctx, task.ID, StepDone, len(chunks), len(chunks))
}

func buildGenerationChunks(task *domain.Task, doc *domain.Document, chunks []domain.Chunk, vectors [][]float32) []domain.DocumentChunk {
	now := time.Now().UTC()
	out := make([]domain.DocumentChunk, 0, len(chunks))
	for i, chunk := range chunks {
		out = append(out, domain.DocumentChunk{
			ChunkID:    generationChunkID(doc.ID, task.Generation, chunk.Offset),
			TenantID:   task.TenantID,
			ChatbotID:  task.ChatbotID,
			DocumentID: doc.ID,
			Generation: task.Generation,
			Text:       chunk.Text,
			Vector:     vectors[i],
			Offset:     chunk.Offset,
			Index:      chunk.Index,
			ParentPath: chunk.ParentPath,
			Source:     doc.Filename,
			IndexedAt:  now,
		})
	}
	return out
}

// generationChunkID is deterministic over (document, generation, offset).
func generationChunkID(documentID string, generation int64, offset int) string {
	name := fmt.Sprintf("%s:%d:%d", documentID, generation, offset)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// checkpoint records the current step and checks for cooperative
// cancellation.
func (uc *ProcessTaskUseCase) checkpoint(ctx context.Context, task *domain.Task, step string, processed, total int) error {
	if err := uc.checkCancelled(ctx, task); err != nil {
		return err
	}
	if err := uc.tasks.RecordProgress(ctx, task.ID, step, processed, total); err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	return nil
}

func (uc *ProcessTaskUseCase) checkCancelled(ctx context.Context, task *domain.Task) error {
	if err := ctx.Err(); err != nil {
		return domain.WrapError(domain.ErrProviderTransient, "task interrupted", err)
	}
	fresh, err := uc.tasks.GetByID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("refresh task: %w", err)
	}
	if fresh.CancelRequested {
		return domain.ErrTaskCancelled
	}
	return nil
}

// failDocument marks the document failed but returns the original error so
// the pipeline's retry accounting sees it.
func (uc *ProcessTaskUseCase) failDocument(ctx context.Context, documentID string, cause error) error {
	if err := uc.docs.UpdateStatus(ctx, documentID, domain.DocumentFailed, cause.Error()); err != nil {
		return fmt.Errorf("%w; mark document failed: %v", cause, err)
	}
	return cause
}
