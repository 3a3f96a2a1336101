package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neotix/rentald/pkg/types"
)

// CostRecordStore handles cost record operations
type CostRecordStore struct {
	pool *pgxpool.Pool
}

// Create inserts the deposit-time cost record for a rental
func (s *CostRecordStore) Create(ctx context.Context, record *types.CostRecord) error {
	query := `
		INSERT INTO cost_records (
			id, rental_id, transaction_id, base_cost, tax_rate, tax_amount,
			platform_fee_rate, platform_fee_amount, total_cost
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := s.pool.Exec(ctx, query,
		record.ID,
		record.RentalID,
		record.TransactionID,
		record.BaseCost,
		record.TaxRate,
		record.TaxAmount,
		record.PlatformFeeRate,
		record.PlatformFeeAmount,
		record.TotalCost,
	)

	if err != nil {
		return fmt.Errorf("insert cost record: %w", err)
	}

	return nil
}

// GetByRental retrieves the cost record for a rental
func (s *CostRecordStore) GetByRental(ctx context.Context, rentalID string) (*types.CostRecord, error) {
	query := `
		SELECT id, rental_id, transaction_id, base_cost, tax_rate, tax_amount,
			platform_fee_rate, platform_fee_amount, total_cost,
			created_at, updated_at
		FROM cost_records
		WHERE rental_id = $1
	`

	var record types.CostRecord
	err := s.pool.QueryRow(ctx, query, rentalID).Scan(
		&record.ID,
		&record.RentalID,
		&record.TransactionID,
		&record.BaseCost,
		&record.TaxRate,
		&record.TaxAmount,
		&record.PlatformFeeRate,
		&record.PlatformFeeAmount,
		&record.TotalCost,
		&record.CreatedAt,
		&record.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query cost record: %w", err)
	}

	return &record, nil
}

// UpdateFinal overwrites the record in place with the settlement figures. The
// record keeps its identity; a rental owns exactly one cost record for its
// whole life.
func (s *CostRecordStore) UpdateFinal(ctx context.Context, record *types.CostRecord) error {
	query := `
		UPDATE cost_records
		SET base_cost = $1, tax_amount = $2, platform_fee_amount = $3,
			total_cost = $4, updated_at = NOW()
		WHERE rental_id = $5
	`

	result, err := s.pool.Exec(ctx, query,
		record.BaseCost,
		record.TaxAmount,
		record.PlatformFeeAmount,
		record.TotalCost,
		record.RentalID,
	)

	if err != nil {
		return fmt.Errorf("update cost record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}
