package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/flowforge/internal/core"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Category  string `json:"category,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// errorResponse maps an error onto an HTTP status and response body.
func errorResponse(err error) (int, errorBody) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return http.StatusInternalServerError, errorBody{Error: "internal server error"}
	}
	return statusForCategory(domErr.Category), errorBody{
		Error:     domErr.Message,
		Code:      domErr.Code,
		Category:  string(domErr.Category),
		Retryable: domErr.Retryable,
	}
}

func statusForCategory(cat core.ErrorCategory) int {
	switch cat {
	case core.ErrCatValidation:
		return http.StatusUnprocessableEntity
	case core.ErrCatNotFound:
		return http.StatusNotFound
	case core.ErrCatConflict:
		return http.StatusConflict
	case core.ErrCatState:
		return http.StatusConflict
	case core.ErrCatAuth:
		return http.StatusUnauthorized
	case core.ErrCatRateLimit:
		return http.StatusTooManyRequests
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
