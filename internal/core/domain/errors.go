package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks user-fixable configuration problems. A config that
	// fails validation is rejected whole, never partially applied.
	ErrValidation = errors.New("validation failed")

	// ErrCredential marks a missing or invalid secret. Blocks the ACTIVE
	// transition of a config.
	ErrCredential = errors.New("credential error")

	// ErrProviderTransient marks timeouts and rate limits from an external
	// provider. Retried with backoff.
	ErrProviderTransient = errors.New("provider temporarily unavailable")

	// ErrProviderFatal marks an unsupported model or capability. Never retried.
	ErrProviderFatal = errors.New("provider rejected request")

	// ErrIndexWrite marks a failed chunk index write, retried as part of the
	// owning task's retry budget.
	ErrIndexWrite = errors.New("index write failed")

	// ErrRerankerUnavailable degrades a query, it never fails one.
	ErrRerankerUnavailable = errors.New("reranker unavailable")

	// ErrConfigNotResolvable marks an unknown provider/model identifier.
	// Strategy resolution fails fast instead of substituting silently.
	ErrConfigNotResolvable = errors.New("configuration not resolvable")

	ErrTaskNotFound     = errors.New("task not found")
	// ErrTaskNotClaimable marks a dequeue for a task another worker holds or
	// that already reached a terminal state. The message is acked and dropped.
	ErrTaskNotClaimable = errors.New("task not claimable")
	ErrConfigNotFound   = errors.New("config not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrTaskCancelled    = errors.New("task cancelled")
	ErrInvalidInput     = errors.New("invalid input")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Retryable reports whether an error is worth another pipeline attempt.
// Unknown errors are treated as retryable so that infrastructure hiccups get
// the full retry budget before dead-lettering.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrProviderFatal),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrConfigNotResolvable),
		errors.Is(err, ErrTaskCancelled):
		return false
	default:
		return true
	}
}
