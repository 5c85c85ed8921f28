package main

import (
	"Tidewatch/internal/config"
	"Tidewatch/internal/fanout"
	"Tidewatch/internal/metrics"
	"Tidewatch/internal/session"
	"Tidewatch/internal/transaction"
	"Tidewatch/pkg/db"
	"Tidewatch/pkg/log"
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// app holds the long lived components of Tidewatch.
type app struct {
	registry   *session.Registry
	heartbeat  *session.Heartbeat
	fanout     *fanout.Router
	monitor    *transaction.Monitor
	aggregator *metrics.Aggregator
	repo       transaction.Repository
}

// newApp wires every component, the aggregator listens to all of them.
func newApp(cfg *config.Config, repo transaction.Repository, clk clock.Clock, logger log.Logger) *app {
	aggregator := metrics.NewAggregator(clk, cfg.Metrics.Window, cfg.Metrics.SignalBuffer, logger)
	registry := session.NewRegistry(clk, aggregator, logger)
	router := fanout.NewRouter(registry, clk, aggregator, logger)
	monitor := transaction.NewMonitor(transaction.Config{
		MaxAttempts:         cfg.Monitor.MaxAttempts,
		RetryDelay:          cfg.Monitor.RetryDelay,
		StaleAfter:          cfg.Monitor.StaleAfter,
		SweepInterval:       cfg.Monitor.SweepInterval,
		ExecutorTimeout:     cfg.Monitor.ExecutorTimeout,
		PersistTimeout:      cfg.Monitor.PersistTimeout,
		MaxScheduledRetries: cfg.Monitor.MaxScheduledRetries,
	}, router, repo, clk, aggregator, logger)

	for operationType, ex := range cfg.Executors {
		monitor.RegisterExecutor(operationType, transaction.NewHTTPExecutor(ex.URL, ex.Timeout))
		logger.Info().Str("operation", operationType).Str("url", ex.URL).Msg("Registered retry executor.")
	}

	return &app{
		registry:   registry,
		heartbeat:  session.NewHeartbeat(registry, clk, cfg.Heartbeat.Interval, cfg.Heartbeat.Deadline, logger),
		fanout:     router,
		monitor:    monitor,
		aggregator: aggregator,
		repo:       repo,
	}
}

// start launches the background loops, they stop with ctx.
func (a *app) start(ctx context.Context) {
	go a.aggregator.Run(ctx)
	go a.heartbeat.Run(ctx)
	go a.monitor.RunSweeper(ctx)
}

// shutdown tears Tidewatch down in dependency order: intake first, then the
// background loops and the monitor, storage last. Terminal records produced while
// draining still reach an open store. Every step runs even when an earlier one fails.
func (a *app) shutdown(ctx context.Context, srv *http.Server, stopLoops context.CancelFunc, store *storage, logger log.Logger) error {
	var errs []error
	step := func(name string, fn func(context.Context) error) {
		logger.Info().Msgf("Shutting down: %s", name)
		if err := fn(ctx); err != nil {
			logger.Error().Err(err).Msgf("%s shutdown failed.", name)
			errs = append(errs, errors.Wrapf(err, "shutdown %s", name))
			return
		}
		logger.Info().Msgf("%s shutdown completed.", name)
	}

	// SSE streams are plain handlers, they end once their session is removed
	a.registry.CloseAll()
	if srv != nil {
		step("Gin", srv.Shutdown)
	}
	// sessions accepted while the listener was closing
	a.registry.CloseAll()
	step("Workers", func(ctx context.Context) error {
		stopLoops()
		return a.monitor.Stop(ctx)
	})
	step("Storage", store.close)
	return stderrors.Join(errs...)
}

// storage is the transaction repository picked by storage.backend and its teardown.
type storage struct {
	repo  transaction.Repository
	close func(ctx context.Context) error
}

func openStorage(ctx context.Context, cfg *config.Config, logger log.Logger) (*storage, error) {
	switch cfg.Storage.Backend {
	case "redis":
		client, err := db.NewDbConnection(ctx, db.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			TxMaxRetries: cfg.Redis.TxMaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		// Sending a PING request to DB for connection status check.
		if err := client.CheckDbConnection(ctx, logger); err != nil {
			return nil, err
		}
		return &storage{
			repo:  transaction.NewRepository(client, cfg.Redis.RecordTTL, logger),
			close: client.CloseDbConnection,
		}, nil
	case "postgres":
		pool, err := db.ConnectPostgres(ctx, db.PostgresConfig{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			Name:     cfg.Postgres.Name,
			SSLMode:  cfg.Postgres.SSLMode,
			MinConns: cfg.Postgres.MinConns,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		repo := transaction.NewPostgresRepository(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &storage{
			repo: repo,
			close: func(context.Context) error {
				pool.Close()
				return nil
			},
		}, nil
	case "none":
		logger.Warn().Msg("Storage backend is none, terminal transactions won't be persisted.")
		return &storage{
			repo:  transaction.NopRepository{},
			close: func(context.Context) error { return nil },
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
