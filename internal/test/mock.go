// Mock methods required in Tidewatch tests are all here.

package test

import (
	"Tidewatch/pkg/middlewares"
	"net/http"

	"github.com/gin-gonic/gin"
)

// NewRouter returns a fresh gin engine in test mode.
// Every test gets its own engine so handler registration never collides.
func NewRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middlewares.CORSMiddleware("*")) // CORS middleware which allows request from all origin
	return router
}

// MockIdentityMiddleware trusts the user_id query parameter, or the "user" cookie,
// and aborts with 401 when neither is present.
func MockIdentityMiddleware() gin.HandlerFunc {
	return func(gctx *gin.Context) {
		userID := gctx.Query("user_id")
		if userID == "" {
			if cookie, err := gctx.Request.Cookie("user"); err == nil {
				userID = cookie.Value
			}
		}
		if userID == "" {
			gctx.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		// Set UserID in request's context
		// This pair will be used further down in the handler chain
		gctx.Set("UserID", userID)
		gctx.Next()
	}
}
