package store_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// Integration tests run against a real PostgreSQL pointed to by
// TEST_DATABASE_URL and are skipped otherwise.

func testStore(t *testing.T) *store.Store {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	s, err := store.NewStore(dbURL)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func seedUserAndCluster(t *testing.T, s *store.Store) (*types.User, *types.Cluster) {
	t.Helper()
	ctx := context.Background()

	user := &types.User{
		ID:      types.GenerateUserID(),
		Email:   types.GenerateID() + "@test.example",
		Name:    "Test User",
		Balance: decimal.NewFromInt(100),
	}
	require.NoError(t, s.Users.Create(ctx, user))

	cluster := &types.Cluster{
		ID:      types.GenerateClusterID(),
		OwnerID: user.ID,
		Name:    "test-cluster",
	}
	require.NoError(t, s.Clusters.Create(ctx, cluster))

	return user, cluster
}

func activeRental(user *types.User, cluster *types.Cluster) *types.Rental {
	return &types.Rental{
		ID:        types.GenerateRentalID(),
		ClusterID: cluster.ID,
		OwnerID:   user.ID,
		Configuration: types.ConfigurationSnapshot{
			ConfigurationID: "nvidia-t4",
			Vendor:          "NVIDIA",
			Model:           "T4",
			MemoryGB:        16,
			Count:           1,
		},
		Status:      types.RentalStatusActive,
		HourlyPrice: decimal.RequireFromString("0.53"),
		StartTime:   time.Now().UTC(),
	}
}

func TestRentalStore_Create(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user, cluster := seedUserAndCluster(t, s)

	t.Run("creates and reads back", func(t *testing.T) {
		rental := activeRental(user, cluster)
		require.NoError(t, s.Rentals.Create(ctx, rental))

		got, err := s.Rentals.GetByID(ctx, rental.ID)
		require.NoError(t, err)
		assert.Equal(t, rental.ClusterID, got.ClusterID)
		assert.Equal(t, "T4", got.Configuration.Model)
		assert.True(t, got.HourlyPrice.Equal(rental.HourlyPrice))
	})

	t.Run("second active rental on the same cluster conflicts", func(t *testing.T) {
		err := s.Rentals.Create(ctx, activeRental(user, cluster))
		assert.ErrorIs(t, err, store.ErrConflict)
	})
}

func TestRentalStore_GetActiveByCluster(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user, cluster := seedUserAndCluster(t, s)

	// A one-hour fixed rental whose window closed an hour ago
	rental := activeRental(user, cluster)
	rental.StartTime = rental.StartTime.Add(-2 * time.Hour)
	end := rental.StartTime.Add(time.Hour)
	rental.EndTime = &end
	require.NoError(t, s.Rentals.Create(ctx, rental))

	t.Run("expired ACTIVE row no longer reads as active", func(t *testing.T) {
		_, err := s.Rentals.GetActiveByCluster(ctx, cluster.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("latest still surfaces the open row for settlement", func(t *testing.T) {
		latest, err := s.Rentals.GetLatestByCluster(ctx, cluster.ID)
		require.NoError(t, err)
		assert.Equal(t, rental.ID, latest.ID)
		assert.Equal(t, types.RentalStatusActive, latest.Status)
	})
}

func TestRentalStore_Complete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user, cluster := seedUserAndCluster(t, s)

	rental := activeRental(user, cluster)
	require.NoError(t, s.Rentals.Create(ctx, rental))

	end := time.Now().UTC()
	completed, err := s.Rentals.Complete(ctx, rental.ID, end)
	require.NoError(t, err)
	assert.Equal(t, types.RentalStatusCompleted, completed.Status)
	require.NotNil(t, completed.EndTime)

	t.Run("completing again returns the stored record unchanged", func(t *testing.T) {
		again, err := s.Rentals.Complete(ctx, rental.ID, end.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, completed.EndTime.Unix(), again.EndTime.Unix())
	})

	t.Run("completed rental frees the active slot", func(t *testing.T) {
		_, err := s.Rentals.GetActiveByCluster(ctx, cluster.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.Rentals.Create(ctx, activeRental(user, cluster)))
	})
}

func TestRentalLockStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	_, cluster := seedUserAndCluster(t, s)

	t.Run("lock is exclusive until released", func(t *testing.T) {
		ok, err := s.RentalLocks.Acquire(ctx, cluster.ID, "holder-a", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.RentalLocks.Acquire(ctx, cluster.ID, "holder-b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.RentalLocks.Release(ctx, cluster.ID, "holder-a"))

		ok, err = s.RentalLocks.Acquire(ctx, cluster.ID, "holder-b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, s.RentalLocks.Release(ctx, cluster.ID, "holder-b"))
	})

	t.Run("expired lock can be taken over", func(t *testing.T) {
		ok, err := s.RentalLocks.Acquire(ctx, cluster.ID, "crashed", time.Millisecond)
		require.NoError(t, err)
		require.True(t, ok)

		time.Sleep(50 * time.Millisecond)

		ok, err = s.RentalLocks.Acquire(ctx, cluster.ID, "successor", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, s.RentalLocks.Release(ctx, cluster.ID, "successor"))
	})
}
