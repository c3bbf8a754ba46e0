package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/payflow/internal/apperr"
)

type errorPayload struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var ErrServiceUnavailable = errors.New("service_unavailable")

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case err == nil:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "service unavailable"}
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, errorPayload{Type: "validation_error", Code: apperr.Code(err), Message: "validation error"}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Code: apperr.Code(err), Message: "not found"}
	case errors.Is(err, apperr.ErrIllegalTransition):
		return http.StatusUnprocessableEntity, errorPayload{Type: "illegal_transition", Code: apperr.Code(err), Message: "operation not allowed"}
	case errors.Is(err, apperr.ErrConcurrencyConflict):
		return http.StatusConflict, errorPayload{Type: "conflict", Code: apperr.Code(err), Message: "conflict"}
	case errors.Is(err, apperr.ErrSequenceExhausted):
		return http.StatusConflict, errorPayload{Type: "sequence_exhausted", Code: apperr.Code(err), Message: "numbering exhausted"}
	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}

func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
