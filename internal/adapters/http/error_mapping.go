package httpadapter

import (
	"net/http"

	"github.com/mkropachev/ragpipe/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrValidation),
		domain.IsKind(err, domain.ErrConfigNotResolvable):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrCredential):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrTaskNotFound),
		domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrConfigNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrProviderTransient),
		domain.IsKind(err, domain.ErrIndexWrite):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
