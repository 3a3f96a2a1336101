// Package ledger records balance movements as an append-only transaction
// log with idempotency-key replay protection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// Service posts debits and credits against user balances. Every posting
// runs in a single database transaction: the balance row is locked, the
// ledger entry is inserted, and the balance is updated together.
type Service struct {
	store *store.Store
}

// NewService creates a ledger service backed by the given store
func NewService(s *store.Store) *Service {
	return &Service{store: s}
}

// Debit removes amount from the user's balance and records a negative
// ledger entry. Amount must be positive. If idempotencyKey has already
// been posted, the stored transaction is returned and the balance is
// not touched again.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, description, idempotencyKey string) (*types.LedgerTransaction, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, types.NewDomainError(types.ErrKindValidation, "debit amount must be positive")
	}
	return s.post(ctx, userID, amount.Neg(), description, idempotencyKey)
}

// Credit adds amount to the user's balance and records a positive
// ledger entry. Same idempotency semantics as Debit.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, description, idempotencyKey string) (*types.LedgerTransaction, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, types.NewDomainError(types.ErrKindValidation, "credit amount must be positive")
	}
	return s.post(ctx, userID, amount, description, idempotencyKey)
}

// post applies a signed amount to the user's balance. Negative amounts
// are debits and must be covered by the current balance.
func (s *Service) post(ctx context.Context, userID string, amount decimal.Decimal, description, idempotencyKey string) (*types.LedgerTransaction, error) {
	// Replay check outside the transaction keeps the common retry path
	// off the balance row lock
	existing, err := s.store.Transactions.GetByIdempotencyKey(ctx, idempotencyKey)
	if err == nil {
		log.Printf("Ledger: replaying transaction %s for key %s", existing.ID, idempotencyKey)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check idempotency key: %w", err)
	}

	txn := &types.LedgerTransaction{
		ID:             types.GenerateTransactionID(),
		UserID:         userID,
		Amount:         amount,
		Status:         types.TransactionStatusCompleted,
		Description:    description,
		IdempotencyKey: &idempotencyKey,
	}

	err = s.store.WithTx(ctx, func(tx pgx.Tx) error {
		user, err := s.store.Users.GetByIDForUpdate(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("lock user balance: %w", err)
		}

		newBalance := user.Balance.Add(amount)
		if newBalance.IsNegative() {
			return types.NewInsufficientBalanceError(amount.Neg(), user.Balance)
		}

		if err := s.store.Transactions.CreateTx(ctx, tx, txn); err != nil {
			return err
		}

		return s.store.Users.UpdateBalance(ctx, tx, userID, newBalance)
	})

	if errors.Is(err, store.ErrConflict) {
		// Lost a race on the idempotency key: another caller posted the
		// same operation first. Return what they wrote.
		stored, gerr := s.store.Transactions.GetByIdempotencyKey(ctx, idempotencyKey)
		if gerr != nil {
			return nil, fmt.Errorf("fetch racing transaction for key %s: %w", idempotencyKey, gerr)
		}
		return stored, nil
	}
	if err != nil {
		return nil, err
	}

	return txn, nil
}

// Balance returns the user's current balance
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	user, err := s.store.Users.GetByID(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

// ByKey returns the transaction posted under an idempotency key, or
// store.ErrNotFound
func (s *Service) ByKey(ctx context.Context, idempotencyKey string) (*types.LedgerTransaction, error) {
	return s.store.Transactions.GetByIdempotencyKey(ctx, idempotencyKey)
}

// History returns the user's ledger entries, newest first
func (s *Service) History(ctx context.Context, userID string) ([]*types.LedgerTransaction, error) {
	return s.store.Transactions.ListByUser(ctx, userID)
}
