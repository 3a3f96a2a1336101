package store

import (
	"context"
	"fmt"
)

// schema is applied statement by statement at startup. The partial unique
// index on rentals is load-bearing: it is what turns two concurrent deploys
// on one cluster into exactly one success.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		balance NUMERIC(18,6) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS clusters (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL REFERENCES users(id),
		name TEXT NOT NULL,
		description TEXT,
		current_configuration_id TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rentals (
		id TEXT PRIMARY KEY,
		cluster_id TEXT NOT NULL REFERENCES clusters(id),
		owner_id TEXT NOT NULL REFERENCES users(id),
		configuration JSONB NOT NULL,
		status TEXT NOT NULL,
		hourly_price NUMERIC(18,6) NOT NULL,
		instance_id TEXT,
		instance_ip TEXT,
		instance_dns TEXT,
		instance_type TEXT,
		credentials JSONB,
		ssh_keys JSONB,
		email_enabled BOOLEAN NOT NULL DEFAULT TRUE,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS rentals_one_active_per_cluster
		ON rentals (cluster_id) WHERE status = 'ACTIVE'`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount NUMERIC(18,6) NOT NULL,
		status TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS cost_records (
		id TEXT PRIMARY KEY,
		rental_id TEXT NOT NULL UNIQUE REFERENCES rentals(id),
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		base_cost NUMERIC(18,6) NOT NULL,
		tax_rate NUMERIC(8,6) NOT NULL,
		tax_amount NUMERIC(18,6) NOT NULL,
		platform_fee_rate NUMERIC(8,6) NOT NULL,
		platform_fee_amount NUMERIC(18,6) NOT NULL,
		total_cost NUMERIC(18,6) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS rental_locks (
		cluster_id TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys (
		id TEXT PRIMARY KEY,
		key TEXT NOT NULL UNIQUE,
		request_hash TEXT NOT NULL,
		response_status_code INT NOT NULL,
		response_body BYTEA,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate applies the schema
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
