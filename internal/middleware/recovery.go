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

// recoveryResponse is the JSON body returned when a handler panics.
type recoveryResponse struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id"`
	Timestamp     string `json:"timestamp"`
}

// Recovery recovers handler panics, logs the stack trace with a correlation
// id, and returns a 500 JSON body. Panic details never reach the response.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				correlationID := GetRequestID(c)
				if correlationID == "" {
					correlationID = uuid.New().String()
				}

				logger.Error("Panic recovered",
					zap.String("correlation_id", correlationID),
					zap.String("panic", fmt.Sprintf("%v", err)),
					zap.String("method", c.Request.Method),
					zap.String("path", c.Request.URL.Path),
					zap.String("ip", c.ClientIP()),
					zap.String("stack_trace", string(debug.Stack())),
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, recoveryResponse{
					Error:         "internal server error",
					CorrelationID: correlationID,
					Timestamp:     time.Now().UTC().Format(time.RFC3339),
				})
			}
		}()

		c.Next()
	}
}
