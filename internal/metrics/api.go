// Exposes the live metrics of Tidewatch.

package metrics

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Registers the metrics handler onto the gin server.
func APIHandlers(router *gin.Engine, aggregator *Aggregator, guard gin.HandlerFunc) {
	router.GET("/api/metrics", guard, getMetrics(aggregator))
}

// getMetrics returns a handler which serves the current metrics snapshot.
func getMetrics(aggregator *Aggregator) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, aggregator.Snapshot())
	}
}
