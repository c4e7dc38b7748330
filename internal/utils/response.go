// internal/utils/response.go
package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Card reader error codes. They refine the generic status code so POS
// front ends can tell a busy reader from a bad request.
const (
	CodeValidation      = "VALIDATION_ERROR"
	CodeInvalidSession  = "INVALID_SESSION_REQUEST"
	CodeReaderBusy      = "READER_BUSY"
	CodeNoActiveSession = "NO_ACTIVE_SESSION"
	CodeReaderScan      = "READER_SCAN_FAILED"
)

var statusCodes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
	http.StatusServiceUnavailable:  "SERVICE_UNAVAILABLE",
}

// APIResponse is the envelope of every JSON response
type APIResponse struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError carries a machine readable code and the underlying cause
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse sends a successful response
func SuccessResponse(c *gin.Context, statusCode int, message string, data interface{}) {
	c.JSON(statusCode, newResponse(c, true, message, data, nil))
}

// ErrorResponse sends an error response coded after the HTTP status
func ErrorResponse(c *gin.Context, statusCode int, message string, err error) {
	CodedErrorResponse(c, statusCode, statusErrorCode(statusCode), message, err)
}

// CodedErrorResponse sends an error response with an explicit error code
func CodedErrorResponse(c *gin.Context, statusCode int, code, message string, err error) {
	apiError := &APIError{Code: code, Message: message}
	if err != nil {
		apiError.Details = err.Error()
	}

	c.JSON(statusCode, newResponse(c, false, message, nil, apiError))
}

// ValidationErrorResponse reports invalid request parameters keyed by name
func ValidationErrorResponse(c *gin.Context, invalid map[string]string) {
	apiError := &APIError{
		Code:    CodeValidation,
		Message: "Request validation failed",
	}

	c.JSON(http.StatusBadRequest, newResponse(c, false, "Validation failed",
		gin.H{"validation_errors": invalid}, apiError))
}

func newResponse(c *gin.Context, success bool, message string, data interface{}, apiError *APIError) APIResponse {
	return APIResponse{
		Success:   success,
		Message:   message,
		Data:      data,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: c.GetString("request_id"),
	}
}

func statusErrorCode(statusCode int) string {
	if code, ok := statusCodes[statusCode]; ok {
		return code
	}
	return "UNKNOWN_ERROR"
}
