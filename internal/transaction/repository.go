// Transaction repository encapsulates the storage of terminal transactions in Tidewatch.

package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/db"
	"Tidewatch/pkg/log"
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	pkgerrors "github.com/pkg/errors"
)

// Repository stores transactions once they reach a terminal state.
type Repository interface {
	// Persist a terminal transaction, saving the same id twice keeps the first copy
	SaveTransaction(ctx context.Context, tx entity.Transaction) error
	// Fetch a persisted transaction, errors.NotFound when it was never saved
	GetTransaction(ctx context.Context, transactionID string) (entity.Transaction, error)
}

// NopRepository discards terminal transactions, used with storage backend "none".
type NopRepository struct{}

func (NopRepository) SaveTransaction(context.Context, entity.Transaction) error { return nil }

func (NopRepository) GetTransaction(context.Context, string) (entity.Transaction, error) {
	return entity.Transaction{}, errors.NotFound("")
}

func transactionKey(transactionID string) string {
	return "transaction:" + transactionID
}

func userTransactionsKey(userID string) string {
	return "transactions:" + userID
}

// repository struct of transaction Repository backed by redis.
type repository struct {
	db     *db.RedisDB
	ttl    time.Duration
	logger log.Logger
}

// Returns a new instance of the redis transaction repository.
// Records expire after ttl, a zero ttl keeps them forever.
func NewRepository(dbwrp *db.RedisDB, ttl time.Duration, logger log.Logger) Repository {
	return repository{db: dbwrp, ttl: ttl, logger: logger.With("transaction_repository")}
}

func (r repository) SaveTransaction(ctx context.Context, tx entity.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal transaction")
	}
	key := transactionKey(tx.ID)
	userKey := userTransactionsKey(tx.UserID)

	// The document, its index fields and the expiry land in one MULTI so a
	// failed save leaves nothing behind and can simply be retried.
	kept := false
	txf := func(rtx *redis.Tx) error {
		exists, err := rtx.HExists(ctx, key, "data").Result()
		if err != nil {
			return err
		}
		if exists {
			kept = true
			return nil
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, map[string]interface{}{
				"data":           data,
				"user_id":        tx.UserID,
				"operation_type": tx.OperationType,
				"state":          string(tx.State),
				"attempt":        tx.Attempt,
			})
			pipe.ZAdd(ctx, userKey, &redis.Z{
				Score:  float64(tx.LastUpdatedAt.UnixMilli()),
				Member: tx.ID,
			})
			if r.ttl > 0 {
				pipe.Expire(ctx, key, r.ttl)
				pipe.Expire(ctx, userKey, r.ttl)
			}
			return nil
		})
		return err
	}

	retries := r.db.GetMaxRetries()
	if retries < 1 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		dberr := r.db.Client().Watch(ctx, txf, key)
		if dberr == nil {
			if kept {
				r.logger.WithCtx(ctx).Warn().Str("transaction", tx.ID).Msg("Transaction already persisted, keeping first copy.")
			}
			return nil
		} else if dberr == redis.TxFailedErr {
			// Optimistic lock lost. Retry.
			continue
		}
		return pkgerrors.Wrapf(dberr, "redis save transaction %s", tx.ID)
	}
	return pkgerrors.Errorf("redis save transaction %s reached maximum number of retries", tx.ID)
}

func (r repository) GetTransaction(ctx context.Context, transactionID string) (entity.Transaction, error) {
	data, dberr := r.db.Client().HGet(ctx, transactionKey(transactionID), "data").Bytes()
	if dberr == redis.Nil {
		return entity.Transaction{}, errors.NotFound("")
	} else if dberr != nil {
		return entity.Transaction{}, pkgerrors.Wrapf(dberr, "redis HGET %s", transactionKey(transactionID))
	}
	var tx entity.Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return entity.Transaction{}, pkgerrors.Wrap(err, "unmarshal transaction")
	}
	return tx, nil
}
