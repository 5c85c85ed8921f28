package config

import (
	"fmt"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultEnv                 = "PROD"
	DefaultVersion             = "1.0.0"
	DefaultServerPort          = 8080
	DefaultAllowedOrigin       = "*"
	DefaultShutdownTimeout     = 5 * time.Second
	DefaultStorageBackend      = "redis"
	DefaultRedisPort           = 6379
	DefaultRedisTxMaxRetries   = 3
	DefaultRedisRecordTTL      = 7 * 24 * time.Hour
	DefaultPostgresPort        = 5432
	DefaultPostgresSSLMode     = "prefer"
	DefaultPostgresMaxConns    = 10
	DefaultPostgresMinConns    = 2
	DefaultMaxAttempts         = 3
	DefaultRetryDelay          = 5 * time.Second
	DefaultStaleAfter          = 5 * time.Minute
	DefaultSweepInterval       = 30 * time.Second
	DefaultExecutorTimeout     = 30 * time.Second
	DefaultPersistTimeout      = 10 * time.Second
	DefaultMaxScheduledRetries = 10000
	DefaultHeartbeatInterval   = 30 * time.Second
	DefaultHeartbeatDeadline   = 60 * time.Second
	DefaultWriteTimeout        = 10 * time.Second
	DefaultSendBuffer          = 64
	DefaultMetricsWindow       = time.Minute
	DefaultSignalBuffer        = 4096
)

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnv
	}
	if c.Version == "" {
		c.Version = DefaultVersion
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultServerPort
	}
	if c.Server.AllowedOrigin == "" {
		c.Server.AllowedOrigin = DefaultAllowedOrigin
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = DefaultStorageBackend
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
	if c.Redis.TxMaxRetries == 0 {
		c.Redis.TxMaxRetries = DefaultRedisTxMaxRetries
	}
	if c.Redis.RecordTTL == 0 {
		c.Redis.RecordTTL = DefaultRedisRecordTTL
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = DefaultPostgresPort
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = DefaultPostgresSSLMode
	}
	if c.Postgres.MaxConns == 0 {
		c.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if c.Postgres.MinConns == 0 {
		c.Postgres.MinConns = DefaultPostgresMinConns
	}

	if c.Monitor.MaxAttempts == 0 {
		c.Monitor.MaxAttempts = DefaultMaxAttempts
	}
	if c.Monitor.RetryDelay == 0 {
		c.Monitor.RetryDelay = DefaultRetryDelay
	}
	if c.Monitor.StaleAfter == 0 {
		c.Monitor.StaleAfter = DefaultStaleAfter
	}
	if c.Monitor.SweepInterval == 0 {
		c.Monitor.SweepInterval = DefaultSweepInterval
	}
	if c.Monitor.ExecutorTimeout == 0 {
		c.Monitor.ExecutorTimeout = DefaultExecutorTimeout
	}
	if c.Monitor.PersistTimeout == 0 {
		c.Monitor.PersistTimeout = DefaultPersistTimeout
	}
	if c.Monitor.MaxScheduledRetries == 0 {
		c.Monitor.MaxScheduledRetries = DefaultMaxScheduledRetries
	}

	if c.Heartbeat.Interval == 0 {
		c.Heartbeat.Interval = DefaultHeartbeatInterval
	}
	if c.Heartbeat.Deadline == 0 {
		c.Heartbeat.Deadline = DefaultHeartbeatDeadline
	}
	if c.Heartbeat.WriteTimeout == 0 {
		c.Heartbeat.WriteTimeout = DefaultWriteTimeout
	}
	if c.Heartbeat.SendBuffer == 0 {
		c.Heartbeat.SendBuffer = DefaultSendBuffer
	}

	if c.Metrics.Window == 0 {
		c.Metrics.Window = DefaultMetricsWindow
	}
	if c.Metrics.SignalBuffer == 0 {
		c.Metrics.SignalBuffer = DefaultSignalBuffer
	}

	for name, ex := range c.Executors {
		if ex.Timeout == 0 {
			ex.Timeout = c.Monitor.ExecutorTimeout
			c.Executors[name] = ex
		}
	}
}

// Validate checks the loaded configuration for values Tidewatch cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for storage backend %q", c.Storage.Backend)
		}
	case "postgres":
		if c.Postgres.Host == "" || c.Postgres.Name == "" {
			return fmt.Errorf("postgres.host and postgres.name are required for storage backend %q", c.Storage.Backend)
		}
	case "none":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if c.Monitor.MaxAttempts < 1 {
		return fmt.Errorf("monitor.max_attempts must be at least 1, got %d", c.Monitor.MaxAttempts)
	}
	if c.Monitor.RetryDelay < 0 || c.Monitor.StaleAfter < 0 || c.Monitor.SweepInterval < 0 {
		return fmt.Errorf("monitor durations must not be negative")
	}
	if c.Heartbeat.Deadline < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.deadline (%s) must not be shorter than heartbeat.interval (%s)",
			c.Heartbeat.Deadline, c.Heartbeat.Interval)
	}
	if c.Auth.JWTSecret == "" && !(c.IsDev() && c.Auth.AllowInsecureIdentity) {
		return fmt.Errorf("auth.jwt_secret is required unless running DEV with allow_insecure_identity")
	}
	for name, ex := range c.Executors {
		if ex.URL == "" {
			return fmt.Errorf("executors.%s.url is required", name)
		}
	}
	return nil
}
