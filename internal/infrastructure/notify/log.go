package notify

import (
	"context"
	"log/slog"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// LogNotifier records dead-lettered tasks to the structured log. A webhook or
// email notifier would satisfy the same port.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyTaskFailed(_ context.Context, task *domain.Task) error {
	n.logger.Error("task dead-lettered",
		"task_id", task.ID,
		"tenant_id", task.TenantID,
		"chatbot_id", task.ChatbotID,
		"document_id", task.DocumentID,
		"generation", task.Generation,
		"retry_count", task.RetryCount,
		"last_error", task.LastError,
	)
	return nil
}
