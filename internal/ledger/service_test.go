package ledger_test

import (
	"context"
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

func testService(t *testing.T) (*ledger.Service, *store.Store) {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	s, err := store.NewStore(dbURL)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Migrate(context.Background()))

	return ledger.NewService(s), s
}

func seedUser(t *testing.T, s *store.Store, balance decimal.Decimal) *types.User {
	t.Helper()
	user := &types.User{
		ID:      types.GenerateUserID(),
		Email:   types.GenerateID() + "@test.example",
		Name:    "Ledger Test",
		Balance: balance,
	}
	require.NoError(t, s.Users.Create(context.Background(), user))
	return user
}

func TestServiceDebit(t *testing.T) {
	svc, s := testService(t)
	ctx := context.Background()

	t.Run("moves balance and records a negative entry", func(t *testing.T) {
		user := seedUser(t, s, decimal.NewFromInt(10))

		txn, err := svc.Debit(ctx, user.ID, decimal.RequireFromString("1.13"), "deposit", user.ID+":d1")
		require.NoError(t, err)
		assert.Equal(t, "-1.13", txn.Amount.StringFixed(2))

		balance, err := svc.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "8.87", balance.StringFixed(2))
	})

	t.Run("replaying the key moves no more money", func(t *testing.T) {
		user := seedUser(t, s, decimal.NewFromInt(10))

		first, err := svc.Debit(ctx, user.ID, decimal.NewFromInt(3), "deposit", user.ID+":d2")
		require.NoError(t, err)

		second, err := svc.Debit(ctx, user.ID, decimal.NewFromInt(3), "deposit", user.ID+":d2")
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		balance, err := svc.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "7.00", balance.StringFixed(2))
	})

	t.Run("rejects a debit the balance cannot cover", func(t *testing.T) {
		user := seedUser(t, s, decimal.NewFromInt(1))

		_, err := svc.Debit(ctx, user.ID, decimal.NewFromInt(5), "deposit", user.ID+":d3")
		assert.True(t, types.IsKind(err, types.ErrKindInsufficientBalance))

		balance, err := svc.Balance(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "1.00", balance.StringFixed(2))
	})

	t.Run("rejects non-positive amounts", func(t *testing.T) {
		user := seedUser(t, s, decimal.NewFromInt(1))

		_, err := svc.Debit(ctx, user.ID, decimal.Zero, "noop", user.ID+":d4")
		assert.True(t, types.IsKind(err, types.ErrKindValidation))
	})
}

func TestServiceCredit(t *testing.T) {
	svc, s := testService(t)
	ctx := context.Background()

	user := seedUser(t, s, decimal.Zero)

	_, err := svc.Credit(ctx, user.ID, decimal.RequireFromString("25.50"), "top-up", user.ID+":c1")
	require.NoError(t, err)

	balance, err := svc.Balance(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "25.50", balance.StringFixed(2))

	history, err := svc.History(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "25.50", history[0].Amount.StringFixed(2))
}
