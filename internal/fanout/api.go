// Exposes the REST API through which collaborators push system notifications.

package fanout

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
)

// Request body of POST /api/notifications.
type notificationRequest struct {
	Severity      string `json:"severity" valid:"required,severity"`
	Message       string `json:"message" valid:"required"`
	ExcludeUserID string `json:"exclude_user_id" valid:"optional"`
}

// Registers the notification handler onto the gin server.
// guard protects the endpoint, it's meant for trusted collaborators only.
func APIHandlers(router *gin.Engine, fanout *Router, guard gin.HandlerFunc, logger log.Logger) {
	notificationGroup := router.Group("/api/notifications", guard)
	{
		notificationGroup.POST("", notify(fanout, logger.With("fanout_api")))
	}
}

// notify returns a handler which broadcasts a system notification to live sessions.
func notify(fanout *Router, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		var req notificationRequest
		if binderr := gctx.ShouldBindJSON(&req); binderr != nil {
			logger.WithCtx(gctx).Debug().Err(binderr).Msg("Binding error occured with notification request.")
			gctx.JSON(http.StatusUnprocessableEntity, errors.UnprocessableEntity(""))
			return
		}
		if _, valerr := govalidator.ValidateStruct(req); valerr != nil {
			resp := errors.FromValidation(valerr)
			gctx.JSON(resp.StatusCode(), resp)
			return
		}

		event := entity.NewSystemNotification(entity.Severity(req.Severity), req.Message, fanout.clock.Now())
		delivered := fanout.Broadcast(event, req.ExcludeUserID)
		logger.WithCtx(gctx).Info().Str("severity", req.Severity).Int("delivered", delivered).Msg("System notification broadcast.")
		gctx.JSON(http.StatusOK, gin.H{"delivered": delivered})
	}
}
