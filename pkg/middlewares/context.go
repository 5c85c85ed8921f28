package middlewares

import (
	"Tidewatch/pkg/log"

	"github.com/gin-gonic/gin"
	"github.com/rs/xid"
)

// This middleware will be used to populate every incoming request's context with an Unique CorrelationID.
// Which will help to debug an issue which happened between a chain of events during handling a request.
// A correlation id sent by the caller in X-Correlation-ID is kept as is.
func CorrelationMiddleware(logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		correlationID := gctx.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = xid.New().String()
		} else if _, err := xid.FromString(correlationID); err != nil {
			logger.WithCtx(gctx).Debug().Str("correlation_id", correlationID).Msg("Caller sent a non-xid correlation id")
		}
		// Setting the correlationID in request's context
		gctx.Set("correlation_id", correlationID)
		// Setting the correlationID to response header
		gctx.Writer.Header().Set("X-Correlation-ID", correlationID)
		gctx.Next()
	}
}
