package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neotix/rentald/pkg/types"
)

// ClusterStore handles cluster database operations
type ClusterStore struct {
	pool *pgxpool.Pool
}

// Create inserts a new cluster record
func (s *ClusterStore) Create(ctx context.Context, cluster *types.Cluster) error {
	query := `
		INSERT INTO clusters (id, owner_id, name, description, current_configuration_id)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query,
		cluster.ID,
		cluster.OwnerID,
		cluster.Name,
		cluster.Description,
		cluster.CurrentConfigurationID,
	)

	if err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}

	return nil
}

// GetByID retrieves a cluster by ID
func (s *ClusterStore) GetByID(ctx context.Context, id string) (*types.Cluster, error) {
	query := `
		SELECT id, owner_id, name, description, current_configuration_id,
			created_at, updated_at
		FROM clusters
		WHERE id = $1
	`

	var cluster types.Cluster
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&cluster.ID,
		&cluster.OwnerID,
		&cluster.Name,
		&cluster.Description,
		&cluster.CurrentConfigurationID,
		&cluster.CreatedAt,
		&cluster.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cluster: %w", err)
	}

	return &cluster, nil
}

// ListByOwner retrieves all clusters belonging to a user
func (s *ClusterStore) ListByOwner(ctx context.Context, ownerID string) ([]*types.Cluster, error) {
	query := `
		SELECT id, owner_id, name, description, current_configuration_id,
			created_at, updated_at
		FROM clusters
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	clusters := []*types.Cluster{}
	for rows.Next() {
		var cluster types.Cluster
		err := rows.Scan(
			&cluster.ID,
			&cluster.OwnerID,
			&cluster.Name,
			&cluster.Description,
			&cluster.CurrentConfigurationID,
			&cluster.CreatedAt,
			&cluster.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cluster: %w", err)
		}
		clusters = append(clusters, &cluster)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}

	return clusters, nil
}

// SetConfiguration assigns (or clears) the chosen GPU configuration
func (s *ClusterStore) SetConfiguration(ctx context.Context, id string, configurationID *string) error {
	query := `
		UPDATE clusters
		SET current_configuration_id = $1, updated_at = NOW()
		WHERE id = $2
	`

	result, err := s.pool.Exec(ctx, query, configurationID, id)
	if err != nil {
		return fmt.Errorf("set cluster configuration: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a cluster
func (s *ClusterStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM clusters WHERE id = $1`

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete cluster: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
