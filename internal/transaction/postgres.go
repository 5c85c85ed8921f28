package transaction

import (
	"Tidewatch/internal/entity"
	"Tidewatch/internal/errors"
	"Tidewatch/pkg/log"
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pkgerrors "github.com/pkg/errors"
)

const createTransactionsTable = `
CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	operation_type  TEXT NOT NULL,
	state           TEXT NOT NULL,
	attempt         INTEGER NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	last_updated_at TIMESTAMPTZ NOT NULL,
	payload         JSONB,
	result          JSONB,
	error           TEXT
);
CREATE INDEX IF NOT EXISTS transactions_user_id_idx ON transactions (user_id, last_updated_at DESC);
`

// PostgresRepository stores terminal transactions in the transactions table.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

func NewPostgresRepository(pool *pgxpool.Pool, logger log.Logger) *PostgresRepository {
	return &PostgresRepository{pool: pool, logger: logger.With("transaction_repository")}
}

// EnsureSchema creates the transactions table when it doesn't exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createTransactionsTable); err != nil {
		return pkgerrors.Wrap(err, "create transactions table")
	}
	return nil
}

func (r *PostgresRepository) SaveTransaction(ctx context.Context, tx entity.Transaction) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, operation_type, state, attempt, created_at, last_updated_at, payload, result, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''))
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.UserID, tx.OperationType, string(tx.State), tx.Attempt,
		tx.CreatedAt, tx.LastUpdatedAt, nullableJSON(tx.Payload), nullableJSON(tx.Result), tx.Error,
	)
	if err != nil {
		return pkgerrors.Wrapf(err, "insert transaction %s", tx.ID)
	}
	if tag.RowsAffected() == 0 {
		r.logger.WithCtx(ctx).Warn().Str("transaction", tx.ID).Msg("Transaction already persisted, keeping first copy.")
	}
	return nil
}

func (r *PostgresRepository) GetTransaction(ctx context.Context, transactionID string) (entity.Transaction, error) {
	var (
		tx              entity.Transaction
		state           string
		payload, result []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, operation_type, state, attempt, created_at, last_updated_at, payload, result, COALESCE(error, '')
		FROM transactions WHERE id = $1`, transactionID,
	).Scan(&tx.ID, &tx.UserID, &tx.OperationType, &state, &tx.Attempt, &tx.CreatedAt, &tx.LastUpdatedAt, &payload, &result, &tx.Error)
	if err == pgx.ErrNoRows {
		return entity.Transaction{}, errors.NotFound("")
	} else if err != nil {
		return entity.Transaction{}, pkgerrors.Wrapf(err, "select transaction %s", transactionID)
	}
	tx.State = entity.TransactionState(state)
	tx.Payload = payload
	tx.Result = result
	return tx, nil
}

// nullableJSON keeps empty documents as SQL NULL.
func nullableJSON(doc []byte) any {
	if len(doc) == 0 {
		return nil
	}
	return string(doc)
}
