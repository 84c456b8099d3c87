// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/advance-ops/backoffice/internal/shared"
)

// StatusCoder is implemented by errors that carry their own HTTP status, such as
// gateway rejections passed through to the caller.
type StatusCoder interface {
	HTTPStatus() int
}

// StatusFor maps domain errors onto HTTP status codes.
func StatusFor(err error) int {
	var coder StatusCoder
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &coder):
		return coder.HTTPStatus()
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden), errors.Is(err, shared.ErrMembershipMismatch):
		return http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrDuplicateEmail),
		errors.Is(err, shared.ErrDuplicateTransaction),
		errors.Is(err, shared.ErrTransitionRejected),
		errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict
	case errors.Is(err, shared.ErrGatewayUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrGatewayRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes the failure envelope for err. Internal errors never leak
// their message.
func RespondError(w http.ResponseWriter, err error, extra map[string]any) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, shared.ErrGatewayProtocol) && !errors.Is(err, shared.ErrAccountCreationFailed) {
		message = http.StatusText(status)
	}
	body := map[string]any{"success": false, "error": message}
	for k, v := range extra {
		body[k] = v
	}
	JSON(w, status, body)
}
