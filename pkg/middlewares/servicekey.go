package middlewares

import (
	"Tidewatch/internal/errors"
	"crypto/subtle"

	"github.com/gin-gonic/gin"
)

const ServiceKeyHeader = "X-Service-Key"

// This middleware guards the collaborator endpoints with a shared key.
// An empty key disables the check.
func ServiceKeyMiddleware(key string) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		if key == "" {
			gctx.Next()
			return
		}
		given := gctx.GetHeader(ServiceKeyHeader)
		if given == "" {
			resp := errors.Unauthorized("Missing service key.")
			gctx.AbortWithStatusJSON(resp.StatusCode(), resp)
			return
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(key)) != 1 {
			resp := errors.Forbidden("Invalid service key.")
			gctx.AbortWithStatusJSON(resp.StatusCode(), resp)
			return
		}
		gctx.Next()
	}
}
