package httpx

import (
	"errors"
	"net/http"

	"github.com/beacon-erp/beacon-payments/internal/shared"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
// Coded errors keep their code in the payload; stack traces never surface.
func RespondError(w http.ResponseWriter, err error) {
	switch shared.CodeOf(err) {
	case shared.CodeInvalidTransition:
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error(), string(shared.CodeInvalidTransition))
		return
	case shared.CodeInsufficientAuthority:
		Problem(w, http.StatusForbidden, "Insufficient Authority", err.Error(), string(shared.CodeInsufficientAuthority))
		return
	case shared.CodeMissingField:
		Problem(w, http.StatusUnprocessableEntity, "Missing Field", err.Error(), string(shared.CodeMissingField))
		return
	case shared.CodePostingFailed:
		Problem(w, http.StatusBadGateway, "Posting Failed", err.Error(), string(shared.CodePostingFailed))
		return
	case shared.CodeRateLimited:
		Problem(w, http.StatusTooManyRequests, "Rate Limited", err.Error(), string(shared.CodeRateLimited))
		return
	case shared.CodeTokenNotFound:
		Problem(w, http.StatusNotFound, "Token Not Found", err.Error(), string(shared.CodeTokenNotFound))
		return
	case shared.CodeTokenExpired:
		Problem(w, http.StatusGone, "Token Expired", err.Error(), string(shared.CodeTokenExpired))
		return
	case shared.CodeConfigurationMissing:
		Problem(w, http.StatusConflict, "Configuration Missing", err.Error(), string(shared.CodeConfigurationMissing))
		return
	case shared.CodeNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error(), string(shared.CodeNotFound))
		return
	case shared.CodeValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), string(shared.CodeValidation))
		return
	case shared.CodeForbidden:
		Problem(w, http.StatusForbidden, "Forbidden", err.Error(), string(shared.CodeForbidden))
		return
	}

	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error(), "")
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error(), "")
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error(), "")
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error(), "")
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error(), "")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "", "")
	}
}
