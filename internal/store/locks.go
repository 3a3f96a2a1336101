package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RentalLockStore serializes the deploy/terminate sagas per cluster. Locks
// carry a TTL so a crashed saga cannot wedge its cluster forever.
type RentalLockStore struct {
	pool *pgxpool.Pool
}

// Acquire attempts to take the per-cluster lock. Returns false if the lock is
// already held (and unexpired) by someone else.
func (s *RentalLockStore) Acquire(ctx context.Context, clusterID, holder string, ttl time.Duration) (bool, error) {
	// An expired row may be claimed in place.
	query := `
		INSERT INTO rental_locks (cluster_id, holder, expires_at)
		VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (cluster_id) DO UPDATE
		SET holder = EXCLUDED.holder,
			acquired_at = NOW(),
			expires_at = EXCLUDED.expires_at
		WHERE rental_locks.expires_at < NOW()
		RETURNING cluster_id
	`

	var returnedID string
	err := s.pool.QueryRow(ctx, query, clusterID, holder, ttl).Scan(&returnedID)

	if err == pgx.ErrNoRows {
		// Lock held by a live saga
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire rental lock: %w", err)
	}

	return true, nil
}

// Release removes the lock if the holder still owns it
func (s *RentalLockStore) Release(ctx context.Context, clusterID, holder string) error {
	query := `
		DELETE FROM rental_locks
		WHERE cluster_id = $1 AND holder = $2
	`

	_, err := s.pool.Exec(ctx, query, clusterID, holder)
	if err != nil {
		return fmt.Errorf("release rental lock: %w", err)
	}

	return nil
}

// IsLocked checks if a cluster currently has a live lock
func (s *RentalLockStore) IsLocked(ctx context.Context, clusterID string) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM rental_locks
			WHERE cluster_id = $1 AND expires_at > NOW()
		)
	`

	var locked bool
	err := s.pool.QueryRow(ctx, query, clusterID).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("check rental lock: %w", err)
	}

	return locked, nil
}

// CleanupExpired removes expired locks and returns how many were reaped
func (s *RentalLockStore) CleanupExpired(ctx context.Context) (int64, error) {
	query := `DELETE FROM rental_locks WHERE expires_at < NOW()`

	result, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired rental locks: %w", err)
	}

	return result.RowsAffected(), nil
}
