// Exposes the REST APIs through which collaborators submit and report transactions.

package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"encoding/json"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/gin-gonic/gin"
)

// Request body of POST /api/transactions.
type monitorRequest struct {
	UserID        string          `json:"user_id" valid:"required"`
	OperationType string          `json:"operation_type" valid:"required,nospace"`
	Payload       json.RawMessage `json:"payload" valid:"-"`
}

// Request body of POST /api/transactions/:id/status.
type statusRequest struct {
	State  string          `json:"state" valid:"required,reportedstate"`
	Result json.RawMessage `json:"result" valid:"-"`
	Error  string          `json:"error" valid:"optional"`
}

// Registers all of the REST API handlers related to internal package transaction onto the gin server.
// repo serves records which already left the live table.
func APIHandlers(router *gin.Engine, monitor *Monitor, repo Repository, guard gin.HandlerFunc, logger log.Logger) {
	logger = logger.With("transaction_api")
	if repo == nil {
		repo = NopRepository{}
	}
	txGroup := router.Group("/api/transactions", guard)
	{
		txGroup.POST("", monitorTransaction(monitor, logger))
		txGroup.POST("/:id/status", updateStatus(monitor, logger))
		txGroup.GET("/:id", getTransaction(monitor, repo, logger))
	}
}

// monitorTransaction returns a handler which starts tracking a new transaction.
func monitorTransaction(monitor *Monitor, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		var req monitorRequest
		if binderr := gctx.ShouldBindJSON(&req); binderr != nil {
			logger.WithCtx(gctx).Debug().Err(binderr).Msg("Binding error occured with monitor request.")
			gctx.JSON(http.StatusUnprocessableEntity, errors.UnprocessableEntity(""))
			return
		}
		if _, valerr := govalidator.ValidateStruct(req); valerr != nil {
			resp := errors.FromValidation(valerr)
			gctx.JSON(resp.StatusCode(), resp)
			return
		}

		transactionID := monitor.Monitor(req.UserID, req.OperationType, req.Payload)
		gctx.JSON(http.StatusCreated, gin.H{"transaction_id": transactionID})
	}
}

// pathTransactionID reads the :id path parameter, every id handed out is a UUID.
func pathTransactionID(gctx *gin.Context) (string, bool) {
	id := gctx.Param("id")
	if !govalidator.IsUUID(id) {
		resp := errors.BadRequest("Transaction id must be a UUID.")
		gctx.JSON(resp.StatusCode(), resp)
		return "", false
	}
	return id, true
}

// updateStatus returns a handler which applies a reported outcome.
// Reports for unknown or finished transactions are accepted and ignored.
func updateStatus(monitor *Monitor, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		id, ok := pathTransactionID(gctx)
		if !ok {
			return
		}
		var req statusRequest
		if binderr := gctx.ShouldBindJSON(&req); binderr != nil {
			logger.WithCtx(gctx).Debug().Err(binderr).Msg("Binding error occured with status request.")
			gctx.JSON(http.StatusUnprocessableEntity, errors.UnprocessableEntity(""))
			return
		}
		if _, valerr := govalidator.ValidateStruct(req); valerr != nil {
			resp := errors.FromValidation(valerr)
			gctx.JSON(resp.StatusCode(), resp)
			return
		}

		applied := monitor.UpdateStatus(id, entity.TransactionState(req.State), req.Result, req.Error)
		gctx.JSON(http.StatusAccepted, gin.H{"applied": applied})
	}
}

// getTransaction returns a handler which serves a live transaction,
// falling back on storage once it reached a terminal state.
func getTransaction(monitor *Monitor, repo Repository, logger log.Logger) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		transactionID, ok := pathTransactionID(gctx)
		if !ok {
			return
		}
		if tx, ok := monitor.Get(transactionID); ok {
			gctx.JSON(http.StatusOK, tx)
			return
		}
		tx, err := repo.GetTransaction(gctx, transactionID)
		if err != nil {
			resp := errors.From(err)
			if resp.Status == http.StatusInternalServerError {
				logger.WithCtx(gctx).Error().Stack().Err(err).Str("transaction", transactionID).Msg("Couldn't load persisted transaction.")
			}
			gctx.JSON(resp.StatusCode(), resp)
			return
		}
		gctx.JSON(http.StatusOK, tx)
	}
}
