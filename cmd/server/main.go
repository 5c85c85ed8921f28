// The main file of Tidewatch.

package main

import (
	"Tidewatch/internal/config"
	"Tidewatch/pkg/cleanup"
	"Tidewatch/pkg/log"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
)

// Indicates the current version of Tidewatch.
var Version = "1.0.0"

// Helper to read an environment variable with a fallback.
func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	// Loading up environment variables before anything reads them.
	if err := config.LoadEnv(getenv("TIDEWATCH_ENV_FILE", ".env")); err != nil {
		log.New(Version).Fatal().Err(err).Msg("Couldn't load env file.")
	}
	logger := log.New(Version)

	cfg, err := config.Load(getenv("TIDEWATCH_CONFIG", "config/tidewatch.yaml"))
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't load Tidewatch configuration.")
	}
	if cfg.Version != "" {
		Version = cfg.Version
	}
	logger.Info().Msg(fmt.Sprintf("Welcome to Tidewatch: v%s", Version))
	logger.Info().Msg(fmt.Sprintf("Tidewatch Environment: %s", cfg.Env))

	// This is the preferred mode used by gin server in DEV environment.
	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("Couldn't open transaction storage.")
	}

	app := newApp(cfg, store.repo, clock.New(), logger)
	app.start(ctx)

	// Initializing the gin server.
	server := gin.New()
	Router(server, app, cfg, logger)

	// Running the server with defined addr and port.
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Addr, cfg.Server.Port),
		Handler: server,
	}

	// ListenAndServe is a blocking operation, putting it a goroutine
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Tidewatch is listening.")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Tidewatch server stopped unexpectedly.")
		}
	}()

	// Graceful shutdown of Tidewatch server triggered due to system interruptions.
	wait := cleanup.GracefulShutdown(ctx, logger, cfg.Server.ShutdownTimeout, map[string]cleanup.Operation{
		"Tidewatch": func(ctx context.Context) error {
			return app.shutdown(ctx, srv, cancel, store, logger)
		},
	})
	<-wait
}
