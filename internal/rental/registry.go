// Package rental implements the deploy and terminate sagas that tie
// provisioning, billing, and the rental records together.
package rental

import (
	"context"
	"time"

	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// Registry is the store-backed source of truth for rental rows. The
// partial unique index on active rentals makes BeginDeploy the point
// where concurrent deploys collide.
type Registry struct {
	store *store.Store
}

// NewRegistry creates a registry over the given store
func NewRegistry(s *store.Store) *Registry {
	return &Registry{store: s}
}

// ActiveRentalFor returns the cluster's live rental, or store.ErrNotFound
func (r *Registry) ActiveRentalFor(ctx context.Context, clusterID string) (*types.Rental, error) {
	return r.store.Rentals.GetActiveByCluster(ctx, clusterID)
}

// LatestFor returns the cluster's most recent rental regardless of status
func (r *Registry) LatestFor(ctx context.Context, clusterID string) (*types.Rental, error) {
	return r.store.Rentals.GetLatestByCluster(ctx, clusterID)
}

// GetByID returns a rental by its ID
func (r *Registry) GetByID(ctx context.Context, id string) (*types.Rental, error) {
	return r.store.Rentals.GetByID(ctx, id)
}

// History returns all of the cluster's rentals, newest first
func (r *Registry) History(ctx context.Context, clusterID string) ([]*types.Rental, error) {
	return r.store.Rentals.ListByCluster(ctx, clusterID)
}

// BeginDeploy reserves the cluster's rental slot by inserting the ACTIVE
// row. A concurrent deploy loses with store.ErrConflict.
func (r *Registry) BeginDeploy(ctx context.Context, rental *types.Rental) error {
	return r.store.Rentals.Create(ctx, rental)
}

// SetInstanceDetails attaches the provisioned instance to the rental
func (r *Registry) SetInstanceDetails(ctx context.Context, rentalID string, inst *provision.Instance) error {
	return r.store.Rentals.SetInstanceDetails(ctx, rentalID, inst.ID, inst.IP, inst.DNS, inst.InstanceType, inst.Credentials)
}

// Complete closes the rental. Completing an already completed rental
// returns the stored record unchanged.
func (r *Registry) Complete(ctx context.Context, rentalID string, endTime time.Time) (*types.Rental, error) {
	return r.store.Rentals.Complete(ctx, rentalID, endTime)
}

// Abort removes a reserved rental row whose deploy did not finish
func (r *Registry) Abort(ctx context.Context, rentalID string) error {
	return r.store.Rentals.Delete(ctx, rentalID)
}
