package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// LoggingMiddleware emits one structured log line per request after the
// handler chain completes. Level follows the response status: 5xx logs at
// error, 4xx at warn, everything else at info.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()

		event := log.Info()
		msg := "request"
		switch {
		case status >= 500:
			event = log.Error()
			msg = "server error"
		case status >= 400:
			event = log.Warn()
			msg = "client error"
		}

		event.
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", c.Writer.Size()).
			Str("client_ip", c.ClientIP())

		if query != "" {
			event.Str("query", query)
		}
		if len(c.Errors) > 0 {
			event.Str("error", c.Errors.String())
		}

		event.Msg(msg)
	}
}
