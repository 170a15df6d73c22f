package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/organlink/core/errs"
	"github.com/kilianp07/organlink/infra/logger"
)

// AccessLog logs one line per request with its status and latency.
func AccessLog(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := map[string]any{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			fields["error"] = err.Error()
			fields["kind"] = errs.KindOf(err).String()
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			log.Errorf("%s %s %d: %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), fields["error"])
			return
		}
		log.Debugw("request", fields)
	}
}

// Recovery turns a handler panic into a 500 envelope.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		log.Errorf("panic serving %s: %v", c.Request.URL.Path, recovered)
		respond(c, http.StatusInternalServerError, "internal error", nil)
		c.Abort()
	})
}

// BearerAuth rejects requests without the expected bearer token. An empty
// token disables the check.
func BearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		if c.GetHeader("Authorization") != "Bearer "+token {
			respond(c, http.StatusUnauthorized, "unauthorized", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
