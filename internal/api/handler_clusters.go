package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/api/middleware"
	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/catalog"
	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/rental"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// ClusterHandler handles cluster lifecycle API endpoints
type ClusterHandler struct {
	store        *store.Store
	catalog      *catalog.Registry
	orchestrator *rental.Orchestrator
	resolver     *billing.Resolver
	ledger       *ledger.Service
}

// NewClusterHandler creates a new cluster handler
func NewClusterHandler(s *store.Store, reg *catalog.Registry, orch *rental.Orchestrator, resolver *billing.Resolver, led *ledger.Service) *ClusterHandler {
	return &ClusterHandler{
		store:        s,
		catalog:      reg,
		orchestrator: orch,
		resolver:     resolver,
		ledger:       led,
	}
}

// ownedCluster loads a cluster and verifies the caller owns it. Clusters
// belonging to someone else read as not found.
func (h *ClusterHandler) ownedCluster(c echo.Context, id string) (*types.Cluster, error) {
	cluster, err := h.store.Clusters.GetByID(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrorNotFound(c, "Cluster not found")
	}
	if err != nil {
		return nil, ErrorInternal(c, "Failed to load cluster")
	}
	if cluster.OwnerID != middleware.UserID(c) {
		return nil, ErrorNotFound(c, "Cluster not found")
	}
	return cluster, nil
}

// Create handles POST /api/v1/clusters
func (h *ClusterHandler) Create(c echo.Context) error {
	var req types.CreateClusterRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	cluster := &types.Cluster{
		ID:          types.GenerateClusterID(),
		OwnerID:     middleware.UserID(c),
		Name:        req.Name,
		Description: req.Description,
	}

	if err := h.store.Clusters.Create(c.Request().Context(), cluster); err != nil {
		return ErrorInternal(c, "Failed to create cluster")
	}

	return SuccessCreated(c, cluster)
}

// List handles GET /api/v1/clusters
func (h *ClusterHandler) List(c echo.Context) error {
	clusters, err := h.store.Clusters.ListByOwner(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return ErrorInternal(c, "Failed to list clusters")
	}
	return SuccessOK(c, clusters)
}

// Get handles GET /api/v1/clusters/:id
func (h *ClusterHandler) Get(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}
	return SuccessOK(c, cluster)
}

// Delete handles DELETE /api/v1/clusters/:id
func (h *ClusterHandler) Delete(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	ctx := c.Request().Context()
	if _, err := h.store.Rentals.GetActiveByCluster(ctx, cluster.ID); err == nil {
		return ErrorConflict(c, "Cluster has an active rental, terminate it first")
	} else if !errors.Is(err, store.ErrNotFound) {
		return ErrorInternal(c, "Failed to check active rental")
	}

	if err := h.store.Clusters.Delete(ctx, cluster.ID); err != nil {
		return ErrorInternal(c, "Failed to delete cluster")
	}
	return SuccessNoContent(c)
}

// SetConfiguration handles POST /api/v1/clusters/:id/configuration
func (h *ClusterHandler) SetConfiguration(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	var req types.SetConfigurationRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	config, err := h.catalog.Get(req.ConfigurationID)
	if err != nil {
		return ErrorValidation(c, err.Error())
	}

	ctx := c.Request().Context()
	if _, err := h.store.Rentals.GetActiveByCluster(ctx, cluster.ID); err == nil {
		return ErrorConflict(c, "Cannot change configuration while a rental is active")
	} else if !errors.Is(err, store.ErrNotFound) {
		return ErrorInternal(c, "Failed to check active rental")
	}

	if err := h.store.Clusters.SetConfiguration(ctx, cluster.ID, &config.ID); err != nil {
		return ErrorInternal(c, "Failed to set configuration")
	}

	cluster.CurrentConfigurationID = &config.ID
	return SuccessOK(c, cluster)
}

// Deploy handles POST /api/v1/clusters/:id/deploy
func (h *ClusterHandler) Deploy(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	var req types.DeployRequest
	if err := c.Bind(&req); err != nil {
		return ErrorBadRequest(c, "Invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	return h.withReplay(c, http.StatusCreated, func() (interface{}, error) {
		return h.orchestrator.Deploy(c.Request().Context(), cluster.ID, &req)
	})
}

// Terminate handles DELETE /api/v1/clusters/:id/rental
func (h *ClusterHandler) Terminate(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	return h.withReplay(c, http.StatusOK, func() (interface{}, error) {
		return h.orchestrator.Terminate(c.Request().Context(), cluster.ID)
	})
}

// replayTTL bounds how long a stored deploy/terminate response answers
// retries carrying the same Idempotency-Key header
const replayTTL = 24 * time.Hour

// withReplay runs fn once per Idempotency-Key header value and replays
// the stored response for retries of that key. Requests without the
// header run unconditionally; the sagas underneath are keyed too, so
// the header only short-circuits the round trip.
func (h *ClusterHandler) withReplay(c echo.Context, successStatus int, fn func() (interface{}, error)) error {
	key := c.Request().Header.Get("Idempotency-Key")
	if key == "" {
		resp, err := fn()
		if err != nil {
			return ErrorDomain(c, err)
		}
		return c.JSON(successStatus, resp)
	}

	ctx := c.Request().Context()
	scoped := middleware.UserID(c) + ":" + key
	if stored, err := h.store.Idempotency.Get(ctx, scoped); err == nil {
		return c.JSONBlob(stored.ResponseStatusCode, stored.ResponseBody)
	}

	resp, err := fn()
	if err != nil {
		return ErrorDomain(c, err)
	}

	body, merr := json.Marshal(resp)
	if merr != nil {
		return c.JSON(successStatus, resp)
	}
	record := types.IdempotencyKey{
		ID:                 types.GenerateID(),
		Key:                scoped,
		RequestHash:        c.Request().Method + " " + c.Request().URL.Path,
		ResponseStatusCode: successStatus,
		ResponseBody:       body,
		ExpiresAt:          time.Now().UTC().Add(replayTTL),
	}
	if serr := h.store.Idempotency.Store(ctx, record); serr != nil {
		log.Printf("API: failed to store idempotency key %s: %v", scoped, serr)
	}
	return c.JSONBlob(successStatus, body)
}

// SSHKey handles GET /api/v1/clusters/:id/rental/ssh-key. The key pair
// is generated by the provider at deploy and stored on the rental; this
// is the only place the private key leaves the system.
func (h *ClusterHandler) SSHKey(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	active, err := h.store.Rentals.GetActiveByCluster(c.Request().Context(), cluster.ID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrorNotFound(c, "No active rental for this cluster")
	}
	if err != nil {
		return ErrorInternal(c, "Failed to load active rental")
	}
	if len(active.Credentials) == 0 {
		return ErrorNotFound(c, "No credentials stored for this rental")
	}

	resp := map[string]interface{}{
		"rental_id":   active.ID,
		"key_name":    active.Credentials["key_name"],
		"private_key": active.Credentials["private_key"],
	}
	if active.InstanceIP != nil {
		resp["instance_ip"] = *active.InstanceIP
	}
	if active.InstanceDNS != nil {
		resp["instance_dns"] = *active.InstanceDNS
	}
	return SuccessOK(c, resp)
}

// History handles GET /api/v1/clusters/:id/history
func (h *ClusterHandler) History(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}

	rentals, err := h.store.Rentals.ListByCluster(c.Request().Context(), cluster.ID)
	if err != nil {
		return ErrorInternal(c, "Failed to load rental history")
	}
	return SuccessOK(c, map[string]interface{}{
		"cluster_id": cluster.ID,
		"rentals":    rentals,
	})
}

// Status handles GET /api/v1/clusters/:id/status
func (h *ClusterHandler) Status(c echo.Context) error {
	cluster, errResp := h.ownedCluster(c, c.Param("id"))
	if cluster == nil {
		return errResp
	}
	return SuccessOK(c, h.statusFor(c, cluster, time.Now().UTC()))
}

// AllStatus handles GET /api/v1/clusters/status
func (h *ClusterHandler) AllStatus(c echo.Context) error {
	clusters, err := h.store.Clusters.ListByOwner(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return ErrorInternal(c, "Failed to list clusters")
	}

	now := time.Now().UTC()
	statuses := make([]*types.ClusterStatus, 0, len(clusters))
	for _, cluster := range clusters {
		statuses = append(statuses, h.statusFor(c, cluster, now))
	}
	return SuccessOK(c, map[string]interface{}{
		"timestamp": now,
		"clusters":  statuses,
	})
}

// statusFor builds the advisory live-cost view of one cluster. The
// figures use exact fractional hours and never touch the ledger; real
// billing happens only at terminate.
func (h *ClusterHandler) statusFor(c echo.Context, cluster *types.Cluster, now time.Time) *types.ClusterStatus {
	status := &types.ClusterStatus{
		Timestamp: now,
		ClusterID: cluster.ID,
		Name:      cluster.Name,
	}

	ctx := c.Request().Context()
	active, err := h.store.Rentals.GetActiveByCluster(ctx, cluster.ID)
	if err != nil {
		return status
	}

	deposit := decimal.Zero
	if txn, err := h.ledger.ByKey(ctx, active.ID+":deposit"); err == nil {
		deposit = txn.Amount.Neg()
	}

	est := h.resolver.Resolve(active, deposit, now)

	status.IsActive = true
	status.RentalID = active.ID
	status.GPUModel = active.Configuration.Model
	status.GPUVendor = active.Configuration.Vendor
	if active.InstanceID != nil {
		status.InstanceID = *active.InstanceID
	}
	status.StartTime = &active.StartTime
	status.RunningTimeSeconds = est.ElapsedSeconds
	status.RunningTimeHours = est.RunningHours.StringFixed(2)
	status.HourlyRate = est.HourlyRate.StringFixed(2)
	status.CurrentCost = est.EstimatedTotal.StringFixed(2)
	status.InitialDeposit = deposit.StringFixed(2)
	status.AdditionalCharges = est.AdditionalCharges.StringFixed(2)
	return status
}
