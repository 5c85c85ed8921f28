// Initialization of Redis client to be used internally in Tidewatch.

package db

import (
	"Tidewatch/pkg/log"
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisConfig carries what NewDbConnection needs to reach a redis-server.
type RedisConfig struct {
	Addr     string
	Port     int
	Password string
	DB       int
	// Number of allowed retries in a watched redis transaction
	TxMaxRetries int
}

// RedisDB represents a redis client connection to be used internally in Tidewatch.
type RedisDB struct {
	client       *redis.Client
	txMaxRetries int
}

// Client returns the redis client wrapped by RedisDB.
func (db *RedisDB) Client() *redis.Client {
	return db.client
}

// GetMaxRetries returns the number of allowed retries in a watched redis transaction
func (db *RedisDB) GetMaxRetries() int {
	return db.txMaxRetries
}

// Returns a new Redis DB connection wrapped up by RedisDB struct.
func NewDbConnection(ctx context.Context, cfg RedisConfig, logger log.Logger) (*RedisDB, error) {
	if cfg.Addr == "" || cfg.Port == 0 {
		return nil, errors.New("redis address and port are required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr + ":" + strconv.Itoa(cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	logger.WithCtx(ctx).Info().Str("addr", client.Options().Addr).Int("db", cfg.DB).Msg("Initialized redis client.")
	return &RedisDB{client: client, txMaxRetries: cfg.TxMaxRetries}, nil
}

// Helper to check connection status of redis client to redis-server.
// Equivalent to a PING request on redis-server, returns PONG on success.
func (db *RedisDB) CheckDbConnection(ctx context.Context, logger log.Logger) error {
	logger.WithCtx(ctx).Info().Msg("Checking DB Connection . . .")
	if cnterr := db.Client().Ping(ctx).Err(); cnterr != nil {
		// Most likely, DB connection failure
		return errors.Wrap(cnterr, "redis client couldn't PING the redis-server")
	}
	logger.WithCtx(ctx).Info().Msg("Connection to DB Successful")
	return nil
}

// Helper to clean up test db after finishing Tidewatch tests.
// Only ever flushes DB 1, which is reserved for tests.
func (db *RedisDB) CleanTestDbData(ctx context.Context, logger log.Logger) {
	if db.Client().Options().DB == 1 {
		if dberr := db.Client().FlushDB(ctx).Err(); dberr != nil {
			logger.Error().Err(dberr).Msg("Error occured during the execution of FlushDB() in db.CleanTestDbData")
		}
	}
}

// Helper to close the RedisDB client, should be called before closing the server.
func (db *RedisDB) CloseDbConnection(ctx context.Context) error {
	return db.Client().Close()
}
