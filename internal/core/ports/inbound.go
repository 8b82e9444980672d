package ports

import (
	"context"
	"io"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// ConfigService is the inbound contract for pipeline configuration changes.
type ConfigService interface {
	Validate(ctx context.Context, proposed domain.PipelineConfig) (domain.ValidationResult, error)
	// Save validates and persists a config. When the change requires
	// reprocessing of existing documents, confirmToken must echo the token
	// returned by Validate or the ACTIVE transition is refused. The returned
	// result carries field-attributed errors when the save is rejected; err
	// is reserved for internal failures.
	Save(ctx context.Context, proposed domain.PipelineConfig, confirmToken string) (domain.ValidationResult, *domain.PipelineConfig, error)
}

// QueryService is the inbound contract for retrieval.
type QueryService interface {
	Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResult, error)
}

// DocumentIntake accepts an upload and enqueues its ingestion task.
type DocumentIntake interface {
	Upload(ctx context.Context, tenantID, chatbotID, tier, filename, mimeType string, body io.Reader) (*domain.Task, error)
}

// TaskStatusService exposes task state to callers.
type TaskStatusService interface {
	Status(ctx context.Context, taskID string) (*domain.Task, error)
	Cancel(ctx context.Context, tenantID, taskID string) error
}

// TaskProcessor runs one ingestion attempt to completion.
type TaskProcessor interface {
	Process(ctx context.Context, task *domain.Task) error
}
