package logging

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// GinLogger returns a gin.HandlerFunc middleware that logs requests using our logger
func GinLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		statusCode := c.Writer.Status()
		msg := fmt.Sprintf("%s %s - %d (%v, %d bytes) - %s",
			c.Request.Method,
			path,
			statusCode,
			time.Since(start),
			c.Writer.Size(),
			c.ClientIP(),
		)

		switch {
		case statusCode >= 500:
			Error("%s", msg)
		case statusCode >= 400:
			Warn("%s", msg)
		default:
			Debug("%s", msg) // HTTP requests are debug level
		}
	}
}

// GinRecovery returns a gin.HandlerFunc middleware that recovers from panics
func GinRecovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				Crit("PANIC recovered on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}
