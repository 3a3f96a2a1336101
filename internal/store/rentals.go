package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neotix/rentald/pkg/types"
)

const uniqueViolation = "23505"

const rentalColumns = `id, cluster_id, owner_id, configuration, status, hourly_price,
	instance_id, instance_ip, instance_dns, instance_type, credentials,
	ssh_keys, email_enabled, start_time, end_time, created_at, updated_at`

// RentalStore handles rental database operations
type RentalStore struct {
	pool *pgxpool.Pool
}

func scanRental(row pgx.Row) (*types.Rental, error) {
	var rental types.Rental
	err := row.Scan(
		&rental.ID,
		&rental.ClusterID,
		&rental.OwnerID,
		&rental.Configuration,
		&rental.Status,
		&rental.HourlyPrice,
		&rental.InstanceID,
		&rental.InstanceIP,
		&rental.InstanceDNS,
		&rental.InstanceType,
		&rental.Credentials,
		&rental.SSHKeys,
		&rental.EmailEnabled,
		&rental.StartTime,
		&rental.EndTime,
		&rental.CreatedAt,
		&rental.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rental, nil
}

// Create inserts a new rental record in ACTIVE status, reserving the
// cluster's single rental slot. A second ACTIVE rental on the same cluster
// violates the partial unique index and comes back as ErrConflict.
func (s *RentalStore) Create(ctx context.Context, rental *types.Rental) error {
	query := `
		INSERT INTO rentals (
			id, cluster_id, owner_id, configuration, status, hourly_price,
			ssh_keys, email_enabled, start_time, end_time
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := s.pool.Exec(ctx, query,
		rental.ID,
		rental.ClusterID,
		rental.OwnerID,
		rental.Configuration,
		rental.Status,
		rental.HourlyPrice,
		rental.SSHKeys,
		rental.EmailEnabled,
		rental.StartTime,
		rental.EndTime,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert rental: %w", err)
	}

	return nil
}

// GetByID retrieves a rental by ID
func (s *RentalStore) GetByID(ctx context.Context, id string) (*types.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1`

	rental, err := scanRental(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query rental: %w", err)
	}

	return rental, nil
}

// GetActiveByCluster returns the cluster's live rental: the most recent
// ACTIVE rental whose end time is open or in the future. The one predicate
// serves both fixed-duration and on-demand rentals.
func (s *RentalStore) GetActiveByCluster(ctx context.Context, clusterID string) (*types.Rental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM rentals
		WHERE cluster_id = $1
			AND status = 'ACTIVE'
			AND (end_time IS NULL OR end_time > NOW())
		ORDER BY start_time DESC
		LIMIT 1
	`

	rental, err := scanRental(s.pool.QueryRow(ctx, query, clusterID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active rental: %w", err)
	}

	return rental, nil
}

// GetLatestByCluster returns the most recent rental regardless of status
func (s *RentalStore) GetLatestByCluster(ctx context.Context, clusterID string) (*types.Rental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM rentals
		WHERE cluster_id = $1
		ORDER BY start_time DESC
		LIMIT 1
	`

	rental, err := scanRental(s.pool.QueryRow(ctx, query, clusterID))
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query latest rental: %w", err)
	}

	return rental, nil
}

// ListByCluster retrieves the full rental history for a cluster
func (s *RentalStore) ListByCluster(ctx context.Context, clusterID string) ([]*types.Rental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM rentals
		WHERE cluster_id = $1
		ORDER BY start_time DESC
	`

	rows, err := s.pool.Query(ctx, query, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query rental history: %w", err)
	}
	defer rows.Close()

	rentals := []*types.Rental{}
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rental: %w", err)
		}
		rentals = append(rentals, rental)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rentals: %w", err)
	}

	return rentals, nil
}

// SetInstanceDetails stores the provisioned instance handle, connection
// details and credentials on the rental
func (s *RentalStore) SetInstanceDetails(ctx context.Context, id string, instanceID, instanceIP, instanceDNS, instanceType string, credentials types.Credentials) error {
	query := `
		UPDATE rentals
		SET instance_id = $1, instance_ip = $2, instance_dns = $3,
			instance_type = $4, credentials = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := s.pool.Exec(ctx, query, instanceID, instanceIP, instanceDNS, instanceType, credentials, id)
	if err != nil {
		return fmt.Errorf("set instance details: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// ClearInstanceHandle removes the instance handle after a successful
// out-of-band termination of an orphaned instance
func (s *RentalStore) ClearInstanceHandle(ctx context.Context, id string) error {
	query := `
		UPDATE rentals
		SET instance_id = NULL, updated_at = NOW()
		WHERE id = $1
	`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("clear instance handle: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Complete flips an ACTIVE rental to COMPLETED with the given end time.
// Completing an already-COMPLETED rental is a no-op that returns the stored
// record unchanged.
func (s *RentalStore) Complete(ctx context.Context, id string, endTime time.Time) (*types.Rental, error) {
	query := `
		UPDATE rentals
		SET status = 'COMPLETED', end_time = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'ACTIVE'
	`

	result, err := s.pool.Exec(ctx, query, endTime, id)
	if err != nil {
		return nil, fmt.Errorf("complete rental: %w", err)
	}

	if result.RowsAffected() == 0 {
		// Already completed (or missing); return what is stored.
		return s.GetByID(ctx, id)
	}

	return s.GetByID(ctx, id)
}

// Delete removes a rental row. Used only as deploy-saga compensation before
// any money has moved.
func (s *RentalStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM rentals WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete rental: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// GetExpired returns fixed-duration rentals still ACTIVE past their end time,
// due to be settled by the expiry sweep
func (s *RentalStore) GetExpired(ctx context.Context) ([]*types.Rental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM rentals
		WHERE status = 'ACTIVE'
			AND end_time IS NOT NULL
			AND end_time <= NOW()
		ORDER BY end_time ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query expired rentals: %w", err)
	}
	defer rows.Close()

	rentals := []*types.Rental{}
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired rental: %w", err)
		}
		rentals = append(rentals, rental)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired rentals: %w", err)
	}

	return rentals, nil
}

// GetOrphaned returns completed rentals that still hold an instance handle,
// candidates for the out-of-band orphan sweep
func (s *RentalStore) GetOrphaned(ctx context.Context) ([]*types.Rental, error) {
	query := `
		SELECT ` + rentalColumns + `
		FROM rentals
		WHERE status = 'COMPLETED'
			AND instance_id IS NOT NULL
		ORDER BY updated_at ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query orphaned rentals: %w", err)
	}
	defer rows.Close()

	rentals := []*types.Rental{}
	for rows.Next() {
		rental, err := scanRental(rows)
		if err != nil {
			return nil, fmt.Errorf("scan orphaned rental: %w", err)
		}
		rentals = append(rentals, rental)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orphaned rentals: %w", err)
	}

	return rentals, nil
}
