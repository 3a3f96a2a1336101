package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/internal/api/middleware"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// Handler tests that need a real store run against the PostgreSQL
// pointed to by TEST_DATABASE_URL and are skipped otherwise.

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

func seedOwnedCluster(t *testing.T, s *store.Store) (*types.User, *types.Cluster) {
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
		Name:    "api-test-cluster",
	}
	require.NoError(t, s.Clusters.Create(ctx, cluster))

	return user, cluster
}

func sshKeyContext(clusterID, userID string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(clusterID)
	c.Set(middleware.UserIDKey, userID)
	return c, rec
}

func TestClusterHandler_SSHKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	handler := NewClusterHandler(s, nil, nil, nil, nil)

	t.Run("returns the stored key for the active rental", func(t *testing.T) {
		user, cluster := seedOwnedCluster(t, s)

		rental := &types.Rental{
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
		require.NoError(t, s.Rentals.Create(ctx, rental))
		require.NoError(t, s.Rentals.SetInstanceDetails(ctx, rental.ID,
			"i-0123456789", "198.51.100.7", "ec2-test.example.com", "g4dn.xlarge",
			types.Credentials{"key_name": "rentald-" + rental.ID, "private_key": "test-key-material"}))

		c, rec := sshKeyContext(cluster.ID, user.ID)
		require.NoError(t, handler.SSHKey(c))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, rental.ID, body["rental_id"])
		assert.Equal(t, "rentald-"+rental.ID, body["key_name"])
		assert.Equal(t, "test-key-material", body["private_key"])
		assert.Equal(t, "198.51.100.7", body["instance_ip"])
	})

	t.Run("no active rental", func(t *testing.T) {
		user, cluster := seedOwnedCluster(t, s)

		c, rec := sshKeyContext(cluster.ID, user.ID)
		require.NoError(t, handler.SSHKey(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("someone else's cluster reads as not found", func(t *testing.T) {
		_, cluster := seedOwnedCluster(t, s)
		stranger, _ := seedOwnedCluster(t, s)

		c, rec := sshKeyContext(cluster.ID, stranger.ID)
		require.NoError(t, handler.SSHKey(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
