// Package respond writes the API's JSON envelopes.
package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// ErrorBody is the error object every failed request returns.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps ErrorBody under "error".
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// FieldIssue names the input field a validation error refers to.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func JSON(c *gin.Context, status int, payload any) {
	c.JSON(status, payload)
}

func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Accepted reports work that continues after the response.
func Accepted(c *gin.Context, payload any) {
	JSON(c, http.StatusAccepted, payload)
}

// Error aborts the request with an error envelope. Client errors log at warn
// level, server errors at error level.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"route":      c.FullPath(),
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if userID := c.GetString("userId"); userID != "" {
		fields["user_id"] = userID
	}
	if id := c.GetString("submissionId"); id != "" {
		fields["submission_id"] = id
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}

// Invalid reports a 400 validation_error about one field.
func Invalid(c *gin.Context, field, issue string) {
	Error(c, http.StatusBadRequest, "validation_error", issue, FieldIssue{Field: field, Issue: issue})
}
