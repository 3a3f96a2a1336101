package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations
type Store struct {
	pool *pgxpool.Pool

	Users        *UserStore
	Clusters     *ClusterStore
	Rentals      *RentalStore
	CostRecords  *CostRecordStore
	Transactions *TransactionStore
	RentalLocks  *RentalLockStore
	Idempotency  *IdempotencyStore
}

// New creates a new Store with all sub-stores initialized
func New(pool *pgxpool.Pool) *Store {
	s := &Store{
		pool: pool,
	}

	s.Users = &UserStore{pool: pool}
	s.Clusters = &ClusterStore{pool: pool}
	s.Rentals = &RentalStore{pool: pool}
	s.CostRecords = &CostRecordStore{pool: pool}
	s.Transactions = &TransactionStore{pool: pool}
	s.RentalLocks = &RentalLockStore{pool: pool}
	s.Idempotency = &IdempotencyStore{pool: pool}

	return s
}

// BeginTx starts a new transaction
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// WithTx executes a function within a transaction
// If the function returns an error, the transaction is rolled back
// Otherwise, the transaction is committed
func (s *Store) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	err = fn(tx)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the database connection is alive
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats returns database pool statistics
func (s *Store) Stats() *pgxpool.Stat {
	return s.pool.Stat()
}

// NewStore creates a new Store from a database URL
func NewStore(databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, err
	}
	return New(pool), nil
}
