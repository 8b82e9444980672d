package domain

import "time"

type TaskState string

const (
	TaskQueued     TaskState = "queued"
	TaskProcessing TaskState = "processing"
	TaskRetrying   TaskState = "retrying"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskCancelled  TaskState = "cancelled"
)

// Terminal states are immutable once reached.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// DefaultMaxRetries bounds attempts before a task is dead-lettered.
const DefaultMaxRetries = 3

// Task is one document-ingestion attempt. It owns an immutable snapshot of
// the pipeline config in force at enqueue time, so a concurrent config edit
// never affects an in-flight task.
type Task struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	ChatbotID  string `json:"chatbot_id"`
	DocumentID string `json:"document_id"`

	ConfigSnapshot PipelineConfig `json:"config_snapshot"`

	// Generation orders ingestion runs per document; a completed newer
	// generation supersedes an older one even if the older is still retrying.
	Generation int64 `json:"generation"`

	Priority   int       `json:"priority"`
	State      TaskState `json:"state"`
	RetryCount int       `json:"retry_count"`
	MaxRetries int       `json:"max_retries"`

	CurrentStep     string `json:"current_step,omitempty"`
	ChunksProcessed int    `json:"chunks_processed"`
	TotalChunks     int    `json:"total_chunks"`

	CancelRequested bool   `json:"cancel_requested"`
	LastError       string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressPercentage derives task progress from the chunk counters; a
// completed task always reports 100.
func (t Task) ProgressPercentage() int {
	if t.State == TaskCompleted {
		return 100
	}
	if t.TotalChunks <= 0 {
		return 0
	}
	pct := t.ChunksProcessed * 100 / t.TotalChunks
	if pct > 99 {
		pct = 99
	}
	return pct
}

// TaskOutcome is the result of one processing attempt.
type TaskOutcome struct {
	Err       error
	Cancelled bool
}

// NextTaskState is the pure transition function of the pipeline state
// machine. retryCount is the count after the attempt being resolved.
func NextTaskState(current TaskState, outcome TaskOutcome, retryCount, maxRetries int) TaskState {
	if current.Terminal() {
		return current
	}
	if outcome.Cancelled {
		return TaskCancelled
	}
	if outcome.Err == nil {
		return TaskCompleted
	}
	if !Retryable(outcome.Err) {
		return TaskFailed
	}
	if retryCount < maxRetries {
		return TaskRetrying
	}
	return TaskFailed
}

// Tenant tiers map onto queue priorities; higher dequeues first.
const (
	PriorityLow      = 1
	PriorityStandard = 5
	PriorityPremium  = 9
)

// PriorityForTier derives a task priority from a tenant tier name.
func PriorityForTier(tier string) int {
	switch tier {
	case "premium", "enterprise":
		return PriorityPremium
	case "free":
		return PriorityLow
	default:
		return PriorityStandard
	}
}
