// Loads up the .env and YAML configuration used internally by Tidewatch.

package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the root of Tidewatch configuration.
type Config struct {
	Env       string                    `yaml:"env"`
	Version   string                    `yaml:"version"`
	Server    ServerConfig              `yaml:"server"`
	Auth      AuthConfig                `yaml:"auth"`
	Storage   StorageConfig             `yaml:"storage"`
	Redis     RedisConfig               `yaml:"redis"`
	Postgres  PostgresConfig            `yaml:"postgres"`
	Monitor   MonitorConfig             `yaml:"monitor"`
	Heartbeat HeartbeatConfig           `yaml:"heartbeat"`
	Metrics   MetricsConfig             `yaml:"metrics"`
	Executors map[string]ExecutorConfig `yaml:"executors"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	Port            int           `yaml:"port"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	ServiceKey      string        `yaml:"service_key"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// Accept a bare user_id query parameter as identity. Only honoured in DEV.
	AllowInsecureIdentity bool `yaml:"allow_insecure_identity"`
}

type StorageConfig struct {
	// One of "redis", "postgres" or "none".
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	TxMaxRetries int           `yaml:"tx_max_retries"`
	RecordTTL    time.Duration `yaml:"record_ttl"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MinConns int    `yaml:"min_conns"`
	MaxConns int    `yaml:"max_conns"`
}

type MonitorConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	RetryDelay          time.Duration `yaml:"retry_delay"`
	StaleAfter          time.Duration `yaml:"stale_after"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	ExecutorTimeout     time.Duration `yaml:"executor_timeout"`
	PersistTimeout      time.Duration `yaml:"persist_timeout"`
	MaxScheduledRetries int           `yaml:"max_scheduled_retries"`
}

type HeartbeatConfig struct {
	Interval     time.Duration `yaml:"interval"`
	Deadline     time.Duration `yaml:"deadline"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	SendBuffer   int           `yaml:"send_buffer"`
}

type MetricsConfig struct {
	Window       time.Duration `yaml:"window"`
	SignalBuffer int           `yaml:"signal_buffer"`
}

// ExecutorConfig points an operation type at the HTTP endpoint which retries it.
type ExecutorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadEnv uses go package: godotenv to load up environment variables from envFile.
// A missing file is not an error, the process environment is used as is.
func LoadEnv(envFile string) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		return nil
	}
	return errors.Wrapf(godotenv.Load(envFile), "load env file %s", envFile)
}

// Load reads a YAML config file and expands ${VAR} environment variables in it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return Parse(data)
}

// Parse decodes raw YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config yaml")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// IsDev reports whether Tidewatch runs in the DEV environment.
func (c *Config) IsDev() bool {
	return c.Env == "DEV"
}
