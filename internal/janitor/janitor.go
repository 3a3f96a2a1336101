// Package janitor runs the periodic reconciliation sweeps: settling
// expired fixed-duration rentals, reaping orphaned instances, and
// clearing expired locks and idempotency keys.
package janitor

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/rental"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// Config holds janitor configuration
type Config struct {
	CheckInterval      time.Duration
	ExpiredLockCleanup bool
	ExpiredKeyCleanup  bool
}

// DefaultConfig returns default janitor configuration
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:      5 * time.Minute,
		ExpiredLockCleanup: true,
		ExpiredKeyCleanup:  true,
	}
}

// Janitor performs the periodic cleanup sweeps
type Janitor struct {
	config       *Config
	store        *store.Store
	orchestrator *rental.Orchestrator
	provisioner  provision.Provisioner
	cancel       context.CancelFunc
}

// NewJanitor creates a new janitor instance
func NewJanitor(config *Config, st *store.Store, orch *rental.Orchestrator, prov provision.Provisioner) *Janitor {
	if config == nil {
		config = DefaultConfig()
	}

	return &Janitor{
		config:       config,
		store:        st,
		orchestrator: orch,
		provisioner:  prov,
	}
}

// Start starts the janitor loop
func (j *Janitor) Start(ctx context.Context) error {
	ctx, j.cancel = context.WithCancel(ctx)

	log.Printf("Janitor starting (check_interval=%s)", j.config.CheckInterval)

	// Run immediately on start
	j.run(ctx)

	ticker := time.NewTicker(j.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("Janitor shutting down")
			return ctx.Err()

		case <-ticker.C:
			j.run(ctx)
		}
	}
}

// Stop stops the janitor gracefully
func (j *Janitor) Stop() {
	if j.cancel != nil {
		j.cancel()
	}
}

// run performs all sweeps
func (j *Janitor) run(ctx context.Context) {
	if err := j.settleExpiredRentals(ctx); err != nil {
		log.Printf("Janitor: expiry sweep failed: %v", err)
	}

	if err := j.reapOrphanedInstances(ctx); err != nil {
		log.Printf("Janitor: orphan sweep failed: %v", err)
	}

	if j.config.ExpiredLockCleanup {
		if err := j.cleanupExpiredLocks(ctx); err != nil {
			log.Printf("Janitor: lock cleanup failed: %v", err)
		}
	}

	if j.config.ExpiredKeyCleanup {
		if err := j.cleanupExpiredKeys(ctx); err != nil {
			log.Printf("Janitor: idempotency key cleanup failed: %v", err)
		}
	}
}

// settleExpiredRentals closes fixed-duration rentals whose window has
// passed, running the full terminate saga so billing is settled exactly
// as if the owner had terminated on time
func (j *Janitor) settleExpiredRentals(ctx context.Context) error {
	expired, err := j.store.Rentals.GetExpired(ctx)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	log.Printf("Janitor: found %d expired rentals", len(expired))

	for _, r := range expired {
		_, err := j.orchestrator.TerminateRental(ctx, r.ID)
		if err != nil {
			// Another saga may hold the cluster lock right now; the next
			// sweep picks this rental up again
			if types.IsKind(err, types.ErrKindConflict) {
				continue
			}
			log.Printf("Janitor: failed to settle expired rental %s: %v", r.ID, err)
			continue
		}
		log.Printf("Janitor: settled expired rental %s on cluster %s", r.ID, r.ClusterID)
	}

	return nil
}

// reapOrphanedInstances retries instance termination for completed
// rentals still holding a provider handle, the leftovers of terminate
// sagas whose provider call failed
func (j *Janitor) reapOrphanedInstances(ctx context.Context) error {
	orphans, err := j.store.Rentals.GetOrphaned(ctx)
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		return nil
	}

	log.Printf("Janitor: found %d orphaned instances", len(orphans))

	for _, r := range orphans {
		instanceID := *r.InstanceID

		if _, err := j.provisioner.Inspect(ctx, instanceID); err != nil {
			if errors.Is(err, provision.ErrInstanceNotFound) {
				// Gone on the provider side, just drop the handle
				if err := j.store.Rentals.ClearInstanceHandle(ctx, r.ID); err != nil {
					log.Printf("Janitor: failed to clear handle on rental %s: %v", r.ID, err)
				}
				continue
			}
			log.Printf("Janitor: failed to inspect instance %s: %v", instanceID, err)
			continue
		}

		if err := j.provisioner.Terminate(ctx, instanceID); err != nil {
			log.Printf("Janitor: failed to terminate orphan %s: %v", instanceID, err)
			continue
		}
		if err := j.store.Rentals.ClearInstanceHandle(ctx, r.ID); err != nil {
			log.Printf("Janitor: failed to clear handle on rental %s: %v", r.ID, err)
			continue
		}
		log.Printf("Janitor: reaped orphaned instance %s from rental %s", instanceID, r.ID)
	}

	return nil
}

// cleanupExpiredLocks removes expired rental locks
func (j *Janitor) cleanupExpiredLocks(ctx context.Context) error {
	count, err := j.store.RentalLocks.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Printf("Janitor: cleaned up %d expired rental locks", count)
	}
	return nil
}

// cleanupExpiredKeys removes expired idempotency keys
func (j *Janitor) cleanupExpiredKeys(ctx context.Context) error {
	count, err := j.store.Idempotency.CleanupExpired(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		log.Printf("Janitor: cleaned up %d expired idempotency keys", count)
	}
	return nil
}
