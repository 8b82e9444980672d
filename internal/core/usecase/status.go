package usecase

import (
	"context"
	"fmt"

	"github.com/mkropachev/ragpipe/internal/core/domain"
	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// TaskStatusUseCase reads and cancels tasks on behalf of API callers.
type TaskStatusUseCase struct {
	tasks ports.TaskRepository
}

func NewTaskStatusUseCase(tasks ports.TaskRepository) *TaskStatusUseCase {
	return &TaskStatusUseCase{tasks: tasks}
}

func (uc *TaskStatusUseCase) Status(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := uc.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

// Cancel flags a task for cooperative cancellation. A queued task is
// cancelled immediately; a processing task observes the flag at its next
// step boundary. Terminal tasks are rejected by the repository.
func (uc *TaskStatusUseCase) Cancel(ctx context.Context, tenantID, taskID string) error {
	task, err := uc.tasks.GetByID(ctx, taskID)
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}
	if task.TenantID != tenantID {
		return domain.WrapError(domain.ErrTaskNotFound, "cancel",
			fmt.Errorf("task %s not owned by tenant", taskID))
	}
	if task.State.Terminal() {
		return domain.WrapError(domain.ErrInvalidInput, "cancel",
			fmt.Errorf("task already %s", task.State))
	}
	if err := uc.tasks.RequestCancel(ctx, tenantID, taskID); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	if task.State == domain.TaskQueued {
		return uc.tasks.UpdateState(ctx, taskID, domain.TaskCancelled, "")
	}
	return nil
}
