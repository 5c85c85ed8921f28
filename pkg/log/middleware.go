// This middleware is used to integrate zerolog extension created in logger.go into gin server.

package log

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// LoggerGinExtension forces gin to log requests through Logger instead of its default writer.
// Paths listed in skip (health probes, mostly) are not logged.
func LoggerGinExtension(logger Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}
	return func(gctx *gin.Context) {
		start := time.Now()
		path := gctx.Request.URL.Path
		query := gctx.Request.URL.Query()
		if query.Has("token") {
			// identity tokens must never reach the logs
			query.Set("token", "REDACTED")
		}
		raw := query.Encode()

		// Process request
		gctx.Next()

		if _, ok := skipped[path]; ok {
			return
		}
		latency := time.Since(start)
		if latency > time.Minute {
			latency = latency.Truncate(time.Second)
		}
		if raw != "" {
			path = path + "?" + raw
		}

		status := gctx.Writer.Status()
		var event *zerolog.Event
		switch {
		case status >= 500:
			event = logger.WithCtx(gctx).Error()
		case status >= 400:
			event = logger.WithCtx(gctx).Warn()
		default:
			event = logger.WithCtx(gctx).Info()
		}
		event.
			Str("client_ip", gctx.ClientIP()).
			Str("method", gctx.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Int("body_size", gctx.Writer.Size()).
			Str("errors", gctx.Errors.ByType(gin.ErrorTypePrivate).String()).
			Msg("request served")
	}
}
