package services

import (
	"errors"
	"net/http"

	domainagg "github.com/gonasi/gonasi-backend/internal/domain/aggregates"
	"github.com/gonasi/gonasi-backend/internal/platform/apierr"
)

// aggregateAPIError maps an aggregate failure onto an HTTP status.
func aggregateAPIError(code string, err error) *apierr.Error {
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	status := http.StatusInternalServerError
	switch domainagg.CodeOf(err) {
	case domainagg.CodeValidation:
		status = http.StatusBadRequest
	case domainagg.CodeNotFound:
		status = http.StatusNotFound
	case domainagg.CodeConflict, domainagg.CodeRetryable:
		status = http.StatusConflict
	case domainagg.CodePreconditionFailed, domainagg.CodeInvariantViolation:
		status = http.StatusUnprocessableEntity
	}
	return apierr.New(status, code, err)
}
