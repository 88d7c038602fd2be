package httpx

import (
	"context"
	"errors"
	"net/http"

	"github.com/vendorhub/vendor-portal/internal/auth"
	"github.com/vendorhub/vendor-portal/internal/vendors"
	"github.com/vendorhub/vendor-portal/internal/workflow"
)

var (
	// ErrUnauthorized marks admin-only requests from non-admin sessions.
	ErrUnauthorized = errors.New("admin session required")
	// ErrBadRequest marks malformed request bodies.
	ErrBadRequest = errors.New("malformed request")
)

// Classify maps a domain error to an HTTP status and a short title.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, vendors.ErrValidation), errors.Is(err, vendors.ErrInvalidCoordinate):
		return http.StatusUnprocessableEntity, "Validation Failed"
	case errors.Is(err, vendors.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, ErrBadRequest), errors.Is(err, vendors.ErrUnknownPlan), errors.Is(err, vendors.ErrInvalidStatus):
		return http.StatusBadRequest, "Bad Request"
	case errors.Is(err, workflow.ErrPaymentInProgress):
		return http.StatusConflict, "Payment In Progress"
	case errors.Is(err, workflow.ErrInvalidTransition):
		return http.StatusConflict, "Invalid Transition"
	case errors.Is(err, workflow.ErrPaymentFailed):
		return http.StatusPaymentRequired, "Payment Failed"
	case errors.Is(err, workflow.ErrLocationUnavailable):
		return http.StatusServiceUnavailable, "Location Unavailable"
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, vendors.ErrSaveFailed):
		return http.StatusServiceUnavailable, "Could Not Save"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Request Abandoned"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807. Field
// errors are included under "errors". Internal errors carry no detail.
func RespondError(w http.ResponseWriter, err error) {
	status, title := Classify(err)
	problem := ProblemDetail{Title: title, Status: status}
	if status != http.StatusInternalServerError {
		problem.Detail = err.Error()
	}
	if fe, ok := vendors.AsFieldErrors(err); ok {
		problem.Detail = vendors.ErrValidation.Error()
		problem.Errors = fe
	}
	JSON(w, status, problem)
}
