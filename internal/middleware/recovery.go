package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrorResponse is returned when a handler panics
type ErrorResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// Recovery turns a handler panic into a logged 500 with a correlation ID.
// The panic value never reaches the client.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			correlationID := GetRequestID(c)
			if correlationID == "" {
				correlationID = uuid.New().String()
			}

			logger.Error("Panic recovered",
				zap.String("correlation_id", correlationID),
				zap.String("panic", fmt.Sprintf("%v", r)),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path),
				zap.String("stack_trace", string(debug.Stack())))

			c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
				Error:         "internal server error",
				CorrelationID: correlationID,
				Timestamp:     time.Now().UTC().Format(time.RFC3339),
			})
		}()

		c.Next()
	}
}
