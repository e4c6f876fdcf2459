package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ragrelay/ragrelay/pkg/errors"
	"github.com/ragrelay/ragrelay/pkg/resilience"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success:   true,
		Data:      data,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

// ErrorResponseFrom maps an error to the appropriate HTTP status and body
func ErrorResponseFrom(c *gin.Context, err error) {
	status, apiErr := mapError(err)
	c.JSON(status, APIResponse{
		Success:   false,
		Error:     apiErr,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}

func requestID(c *gin.Context) string {
	if id, exists := c.Get("request_id"); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

func mapError(err error) (int, *APIError) {
	if resilience.IsCircuitOpen(err) {
		return http.StatusServiceUnavailable, &APIError{
			Code:    "CIRCUIT_OPEN",
			Message: err.Error(),
		}
	}
	if resilience.IsServiceDegraded(err) {
		return http.StatusServiceUnavailable, &APIError{
			Code:    "SERVICE_DEGRADED",
			Message: err.Error(),
		}
	}

	if appErr, ok := err.(*errors.AppError); ok {
		status := statusForType(appErr.Type)
		return status, &APIError{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	return http.StatusInternalServerError, &APIError{
		Code:    "INTERNAL_ERROR",
		Message: err.Error(),
	}
}

func statusForType(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeNetwork:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
