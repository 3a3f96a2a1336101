package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// User represents an account holder with a prepaid balance
type User struct {
	ID        string          `db:"id" json:"id"`
	Email     string          `db:"email" json:"email"`
	Name      string          `db:"name" json:"name"`
	Balance   decimal.Decimal `db:"balance" json:"balance"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TransactionStatus represents the state of a ledger transaction
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "PENDING"
	TransactionStatusCompleted TransactionStatus = "COMPLETED"
	TransactionStatusFailed    TransactionStatus = "FAILED"
)

// LedgerTransaction is an immutable record of money moving against a user's
// balance. Amount is signed: negative for debits, positive for credits.
// Only the status may change after the row is written.
type LedgerTransaction struct {
	ID             string            `db:"id" json:"id"`
	UserID         string            `db:"user_id" json:"user_id"`
	Amount         decimal.Decimal   `db:"amount" json:"amount"`
	Status         TransactionStatus `db:"status" json:"status"`
	Description    string            `db:"description" json:"description"`
	IdempotencyKey *string           `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}
