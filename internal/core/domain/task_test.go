package domain

import (
	"errors"
	"testing"
)

func TestNextTaskStateSuccess(t *testing.T) {
	state := NextTaskState(TaskProcessing, TaskOutcome{}, 0, DefaultMaxRetries)
	if state != TaskCompleted {
		t.Fatalf("expected completed, got %s", state)
	}
}

func TestNextTaskStateRetryableWithinBudget(t *testing.T) {
	outcome := TaskOutcome{Err: WrapError(ErrProviderTransient, "embed", errors.New("timeout"))}
	state := NextTaskState(TaskProcessing, outcome, 1, 3)
	if state != TaskRetrying {
		t.Fatalf("expected retrying, got %s", state)
	}
}

func TestNextTaskStateExhaustedRetries(t *testing.T) {
	outcome := TaskOutcome{Err: WrapError(ErrProviderTransient, "embed", errors.New("timeout"))}
	state := NextTaskState(TaskProcessing, outcome, 3, 3)
	if state != TaskFailed {
		t.Fatalf("expected failed after exhausted retries, got %s", state)
	}
}

func TestNextTaskStateFatalErrorSkipsRetry(t *testing.T) {
	outcome := TaskOutcome{Err: WrapError(ErrProviderFatal, "embed", errors.New("unknown model"))}
	state := NextTaskState(TaskProcessing, outcome, 0, 3)
	if state != TaskFailed {
		t.Fatalf("expected failed for fatal error, got %s", state)
	}
}

func TestNextTaskStateCancelled(t *testing.T) {
	state := NextTaskState(TaskProcessing, TaskOutcome{Cancelled: true}, 0, 3)
	if state != TaskCancelled {
		t.Fatalf("expected cancelled, got %s", state)
	}
}

func TestNextTaskStateTerminalIsSticky(t *testing.T) {
	for _, terminal := range []TaskState{TaskCompleted, TaskFailed, TaskCancelled} {
		state := NextTaskState(terminal, TaskOutcome{Err: errors.New("late failure")}, 0, 3)
		if state != terminal {
			t.Fatalf("terminal state %s mutated to %s", terminal, state)
		}
	}
}

func TestProgressPercentage(t *testing.T) {
	task := Task{State: TaskProcessing, ChunksProcessed: 25, TotalChunks: 50}
	if got := task.ProgressPercentage(); got != 50 {
		t.Fatalf("expected 50%%, got %d", got)
	}

	task.State = TaskCompleted
	if got := task.ProgressPercentage(); got != 100 {
		t.Fatalf("completed task must report 100%%, got %d", got)
	}

	inFlight := Task{State: TaskProcessing, ChunksProcessed: 50, TotalChunks: 50}
	if got := inFlight.ProgressPercentage(); got != 99 {
		t.Fatalf("in-flight task must cap at 99%%, got %d", got)
	}
}

func TestPriorityForTier(t *testing.T) {
	if PriorityForTier("premium") <= PriorityForTier("free") {
		t.Fatal("premium tier must outrank free tier")
	}
	if PriorityForTier("unknown") != PriorityStandard {
		t.Fatal("unknown tiers fall back to standard priority")
	}
}
