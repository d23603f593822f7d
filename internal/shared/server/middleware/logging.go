package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// Logging writes one request.complete entry per request. Server errors log
// at error level so they stand out from the submit and list traffic.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":        RequestIDFromContext(c),
			"method":            c.Request.Method,
			"route":             c.FullPath(),
			"status":            c.Writer.Status(),
			"bytes":             c.Writer.Size(),
			"duration_ms":       float64(time.Since(start).Microseconds()) / 1000.0,
			"user_id":           UserIDFromContext(c),
			"is_guest":          IsGuest(c),
			"submission_id":     c.GetString("submissionId"),
			"status_transition": c.GetString("statusTransition"),
			"client_ip":         c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			telemetry.Error("request.complete", fields)
			return
		}
		telemetry.Info("request.complete", fields)
	}
}
