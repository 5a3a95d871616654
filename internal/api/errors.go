package api

import (
	"errors"
	"net/http"

	"therapyline/internal/identity"
	"therapyline/internal/request"
)

var (
	ErrForbidden   = errors.New("your role cannot perform this operation")
	ErrRateLimited = errors.New("too many requests, slow down")
	ErrBadRequest  = errors.New("malformed request body")
)

// Error codes returned in ErrorResponse.Error.
const (
	CodeConflict      = "conflict"
	CodeInvalidState  = "invalid_state"
	CodeNotOwner      = "not_owner"
	CodeNotFound      = "not_found"
	CodeNoChildLinked = "no_child_linked"
	CodeInvalidInput  = "invalid_input"
	CodeForbidden     = "forbidden"
	CodeUnauthorized  = "unauthorized"
	CodeRateLimited   = "rate_limited"
	CodeInternal      = "internal_error"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// classify maps an error to its HTTP status and code. Unknown errors are
// internal and their text is not exposed.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, request.ErrConflict):
		return http.StatusConflict, CodeConflict, request.ErrConflict.Error()
	case errors.Is(err, request.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState, request.ErrInvalidState.Error()
	case errors.Is(err, request.ErrNotOwner):
		return http.StatusForbidden, CodeNotOwner, request.ErrNotOwner.Error()
	case errors.Is(err, request.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, request.ErrNotFound.Error()
	case errors.Is(err, request.ErrNoChildLinked):
		return http.StatusBadRequest, CodeNoChildLinked, request.ErrNoChildLinked.Error()
	case errors.Is(err, request.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput, err.Error()
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, CodeInvalidInput, ErrBadRequest.Error()
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, CodeForbidden, ErrForbidden.Error()
	case errors.Is(err, identity.ErrMissingCaller), errors.Is(err, identity.ErrUnknownCaller):
		return http.StatusUnauthorized, CodeUnauthorized, err.Error()
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited, ErrRateLimited.Error()
	default:
		return http.StatusInternalServerError, CodeInternal, "something went wrong, please try again"
	}
}
