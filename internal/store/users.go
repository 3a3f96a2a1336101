package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/pkg/types"
)

// UserStore handles user database operations
type UserStore struct {
	pool *pgxpool.Pool
}

// Create creates a new user
func (s *UserStore) Create(ctx context.Context, user *types.User) error {
	query := `
		INSERT INTO users (id, email, name, balance)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query,
		user.ID,
		user.Email,
		user.Name,
		user.Balance,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("create user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by ID
func (s *UserStore) GetByID(ctx context.Context, id string) (*types.User, error) {
	query := `
		SELECT id, email, name, balance, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	var user types.User
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &user, nil
}

// GetByIDForUpdate retrieves a user by ID with a row lock. Must run inside the
// transaction that will change the balance.
func (s *UserStore) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (*types.User, error) {
	query := `
		SELECT id, email, name, balance, created_at, updated_at
		FROM users
		WHERE id = $1
		FOR UPDATE
	`

	var user types.User
	err := tx.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.Balance,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user for update: %w", err)
	}

	return &user, nil
}

// UpdateBalance sets a user's balance. Only callable inside a transaction that
// also writes the ledger row; the balance never moves on its own.
func (s *UserStore) UpdateBalance(ctx context.Context, tx pgx.Tx, id string, balance decimal.Decimal) error {
	query := `
		UPDATE users
		SET balance = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := tx.Exec(ctx, query, balance, id)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
