// List of all REST API endpoints being used by Tidewatch can be found here.

package main

import (
	"Tidewatch/internal/auth"
	"Tidewatch/internal/config"
	"Tidewatch/internal/fanout"
	"Tidewatch/internal/metrics"
	"Tidewatch/internal/session"
	"Tidewatch/internal/transaction"
	"Tidewatch/pkg/globalcontext"
	"Tidewatch/pkg/log"
	"Tidewatch/pkg/middlewares"
	"Tidewatch/pkg/validations"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Router(router *gin.Engine, a *app, cfg *config.Config, logger log.Logger) {
	// Forcing gin to use custom Logger instead of the default one.
	router.Use(log.LoggerGinExtension(logger, "/health"))
	router.Use(gin.Recovery())
	// Global middlewares
	router.Use(globalcontext.UniqueIDMiddleware(logger))
	router.Use(middlewares.CorrelationMiddleware(logger))
	router.Use(middlewares.CORSMiddleware(cfg.Server.AllowedOrigin))

	// Register custom validations used by request bodies.
	validations.RegisterCustomValidations()

	// This is the route used by load balancers and orchestrators
	router.GET("/health", func(gctx *gin.Context) {
		gctx.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"version":      cfg.Version,
			"connections":  a.registry.Count(),
			"transactions": a.monitor.Stats(),
		})
	})

	identify := auth.IdentityMiddleware(cfg.Auth.JWTSecret, cfg.IsDev() && cfg.Auth.AllowInsecureIdentity, logger)
	serviceKey := middlewares.ServiceKeyMiddleware(cfg.Server.ServiceKey)

	session.APIHandlers(router, a.registry, session.HandlerConfig{
		SendBuffer:    cfg.Heartbeat.SendBuffer,
		WriteTimeout:  cfg.Heartbeat.WriteTimeout,
		AllowedOrigin: cfg.Server.AllowedOrigin,
	}, identify, logger)
	transaction.APIHandlers(router, a.monitor, a.repo, serviceKey, logger)
	fanout.APIHandlers(router, a.fanout, serviceKey, logger)
	metrics.APIHandlers(router, a.aggregator, serviceKey)
}
