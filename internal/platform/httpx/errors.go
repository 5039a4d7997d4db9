// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/replenish/internal/shared"
)

// ErrConflict marks a request that is valid but clashes with current state.
var ErrConflict = errors.New("conflict with current state")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
		return
	}
	switch shared.KindOf(err) {
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindInvalid:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.KindFatal:
		Problem(w, http.StatusConflict, "Rejected", err.Error())
	case shared.KindDataQuality:
		Problem(w, http.StatusUnprocessableEntity, "Data Quality", err.Error())
	case shared.KindRetryable:
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusServiceUnavailable, "Retry", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
