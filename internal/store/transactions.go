package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neotix/rentald/pkg/types"
)

// TransactionStore handles ledger transaction operations
type TransactionStore struct {
	pool *pgxpool.Pool
}

// CreateTx inserts a ledger transaction inside the caller's transaction.
// Ledger rows are only ever written in the same atomic unit as the balance
// change they describe.
func (s *TransactionStore) CreateTx(ctx context.Context, tx pgx.Tx, txn *types.LedgerTransaction) error {
	query := `
		INSERT INTO transactions (id, user_id, amount, status, description, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := tx.Exec(ctx, query,
		txn.ID,
		txn.UserID,
		txn.Amount,
		txn.Status,
		txn.Description,
		txn.IdempotencyKey,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

// GetByIdempotencyKey returns the transaction previously written under a key,
// or ErrNotFound
func (s *TransactionStore) GetByIdempotencyKey(ctx context.Context, key string) (*types.LedgerTransaction, error) {
	query := `
		SELECT id, user_id, amount, status, description, idempotency_key, created_at
		FROM transactions
		WHERE idempotency_key = $1
	`

	var txn types.LedgerTransaction
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&txn.ID,
		&txn.UserID,
		&txn.Amount,
		&txn.Status,
		&txn.Description,
		&txn.IdempotencyKey,
		&txn.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction by idempotency key: %w", err)
	}

	return &txn, nil
}

// GetByID retrieves a transaction by ID
func (s *TransactionStore) GetByID(ctx context.Context, id string) (*types.LedgerTransaction, error) {
	query := `
		SELECT id, user_id, amount, status, description, idempotency_key, created_at
		FROM transactions
		WHERE id = $1
	`

	var txn types.LedgerTransaction
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&txn.ID,
		&txn.UserID,
		&txn.Amount,
		&txn.Status,
		&txn.Description,
		&txn.IdempotencyKey,
		&txn.CreatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}

	return &txn, nil
}

// ListByUser retrieves all transactions for a user, newest first
func (s *TransactionStore) ListByUser(ctx context.Context, userID string) ([]*types.LedgerTransaction, error) {
	query := `
		SELECT id, user_id, amount, status, description, idempotency_key, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	txns := []*types.LedgerTransaction{}
	for rows.Next() {
		var txn types.LedgerTransaction
		err := rows.Scan(
			&txn.ID,
			&txn.UserID,
			&txn.Amount,
			&txn.Status,
			&txn.Description,
			&txn.IdempotencyKey,
			&txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txns = append(txns, &txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return txns, nil
}
