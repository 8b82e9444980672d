package resilience

import (
	"context"
	"errors"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

// ClassifyDomainError maps pipeline error kinds onto retry/breaker behavior.
// Context cancellation is neither retried nor held against the breaker;
// fatal provider and input errors fail immediately but still count as
// failures so a misconfigured provider eventually trips its circuit.
func ClassifyDomainError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	if domain.Retryable(err) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
