package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/vriksha-code/verisure/internal/shared/server/respond"
	"github.com/vriksha-code/verisure/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 internal_error envelope. A panic
// after the response started (an open event stream) only gets logged.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			telemetry.Error("http.panic", map[string]any{
				"request_id":    RequestIDFromContext(c),
				"route":         c.FullPath(),
				"method":        c.Request.Method,
				"submission_id": c.GetString("submissionId"),
				"panic":         fmt.Sprint(rec),
				"stack":         string(debug.Stack()),
			})
			if c.Writer.Written() {
				c.Abort()
				return
			}
			respond.Error(c, http.StatusInternalServerError, "internal_error", "Unexpected server error", nil)
		}()
		c.Next()
	}
}
