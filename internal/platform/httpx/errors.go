// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	Problem(w, StatusFor(err), titleFor(err), detailFor(err))
}

// StatusFor resolves the HTTP status for a domain error.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrAlreadyVoided),
		errors.Is(err, shared.ErrNoOpenRegister),
		errors.Is(err, shared.ErrConflict),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func titleFor(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "Not Found"
	case errors.Is(err, shared.ErrValidation):
		return "Validation Failed"
	case errors.Is(err, shared.ErrPermissionDenied):
		return "Permission Denied"
	case errors.Is(err, shared.ErrAlreadyVoided):
		return "Already Voided"
	case errors.Is(err, shared.ErrNoOpenRegister):
		return "No Open Register"
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		return "Conflict"
	default:
		return "Internal Error"
	}
}

// detailFor hides internal failures from clients.
func detailFor(err error) string {
	if StatusFor(err) == http.StatusInternalServerError {
		return ""
	}
	return err.Error()
}
