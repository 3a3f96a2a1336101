package rental

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

// lockTTL bounds how long a crashed saga can hold a cluster's rental
// lock before another deploy or terminate may proceed
const lockTTL = 10 * time.Minute

// Rentals is the rental record collaborator the orchestrator drives
type Rentals interface {
	ActiveRentalFor(ctx context.Context, clusterID string) (*types.Rental, error)
	LatestFor(ctx context.Context, clusterID string) (*types.Rental, error)
	GetByID(ctx context.Context, id string) (*types.Rental, error)
	BeginDeploy(ctx context.Context, rental *types.Rental) error
	SetInstanceDetails(ctx context.Context, rentalID string, inst *provision.Instance) error
	Complete(ctx context.Context, rentalID string, endTime time.Time) (*types.Rental, error)
	Abort(ctx context.Context, rentalID string) error
}

// Ledger is the billing collaborator
type Ledger interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal, description, idempotencyKey string) (*types.LedgerTransaction, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal, description, idempotencyKey string) (*types.LedgerTransaction, error)
	Balance(ctx context.Context, userID string) (decimal.Decimal, error)
	ByKey(ctx context.Context, idempotencyKey string) (*types.LedgerTransaction, error)
}

// Clusters resolves cluster records
type Clusters interface {
	GetByID(ctx context.Context, id string) (*types.Cluster, error)
}

// CostRecords persists the per-rental cost summary
type CostRecords interface {
	Create(ctx context.Context, record *types.CostRecord) error
	GetByRental(ctx context.Context, rentalID string) (*types.CostRecord, error)
	UpdateFinal(ctx context.Context, record *types.CostRecord) error
}

// Catalog resolves GPU configurations
type Catalog interface {
	Get(id string) (*types.Configuration, error)
}

// Locks serializes sagas per cluster
type Locks interface {
	Acquire(ctx context.Context, clusterID, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, clusterID, holder string) error
}

// Orchestrator runs the deploy and terminate sagas. Each saga holds the
// cluster's rental lock for its whole duration and compensates its own
// partial work on failure; there are no automatic retries, idempotency
// keys make caller retries safe.
type Orchestrator struct {
	rentals     Rentals
	clusters    Clusters
	costs       CostRecords
	ledger      Ledger
	catalog     Catalog
	locks       Locks
	provisioner provision.Provisioner
	calc        *billing.Calculator

	now func() time.Time
}

// NewOrchestrator wires the saga collaborators together
func NewOrchestrator(rentals Rentals, clusters Clusters, costs CostRecords, ledger Ledger, catalog Catalog, locks Locks, provisioner provision.Provisioner, calc *billing.Calculator) *Orchestrator {
	return &Orchestrator{
		rentals:     rentals,
		clusters:    clusters,
		costs:       costs,
		ledger:      ledger,
		catalog:     catalog,
		locks:       locks,
		provisioner: provisioner,
		calc:        calc,
		now:         time.Now,
	}
}

// Deploy provisions a GPU instance for the cluster's chosen configuration
// and charges the deposit. On any failure after the rental slot is
// reserved, the saga compensates: the instance is terminated, the row is
// removed, and the failure is surfaced; money only moves once the
// instance exists.
func (o *Orchestrator) Deploy(ctx context.Context, clusterID string, req *types.DeployRequest) (*types.DeployResponse, error) {
	holder := uuid.NewString()
	acquired, err := o.locks.Acquire(ctx, clusterID, holder, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire rental lock: %w", err)
	}
	if !acquired {
		return nil, types.NewDomainError(types.ErrKindConflict, "another operation is in progress for this cluster")
	}
	defer o.releaseLock(clusterID, holder)

	cluster, err := o.clusters.GetByID(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewDomainError(types.ErrKindNotFound, "cluster not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get cluster %s: %w", clusterID, err)
	}
	if cluster.CurrentConfigurationID == nil {
		return nil, types.NewDomainError(types.ErrKindValidation, "cluster has no GPU configuration chosen")
	}

	if _, err := o.rentals.ActiveRentalFor(ctx, clusterID); err == nil {
		return nil, types.NewDomainError(types.ErrKindConflict, "cluster already has an active rental")
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check active rental: %w", err)
	}

	// An expired fixed-duration rental no longer reads as active but its
	// ACTIVE row still occupies the cluster's rental slot. Settle it now
	// instead of bouncing the deploy until the sweep gets to it.
	latest, err := o.rentals.LatestFor(ctx, clusterID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("check latest rental: %w", err)
	}
	if err == nil && latest.Status == types.RentalStatusActive {
		if _, serr := o.settle(ctx, latest); serr != nil {
			return nil, fmt.Errorf("settle expired rental %s: %w", latest.ID, serr)
		}
	}

	config, err := o.catalog.Get(*cluster.CurrentConfigurationID)
	if err != nil {
		return nil, types.WrapDomainError(types.ErrKindValidation, "configuration unavailable", err)
	}

	depositHours := int64(req.DurationHours)
	if depositHours < 1 {
		depositHours = 1
	}
	breakdown := o.calc.QuoteHours(config.HourlyPrice, depositHours)

	balance, err := o.ledger.Balance(ctx, cluster.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance.LessThan(breakdown.TotalCost) {
		de := types.NewInsufficientBalanceError(breakdown.TotalCost, balance)
		de.Breakdown = &breakdown
		return nil, de
	}

	start := o.now()
	rental := &types.Rental{
		ID:            types.GenerateRentalID(),
		ClusterID:     clusterID,
		OwnerID:       cluster.OwnerID,
		Configuration: config.Snapshot(),
		Status:        types.RentalStatusActive,
		HourlyPrice:   config.HourlyPrice,
		SSHKeys:       types.StringList(req.SSHKeys),
		EmailEnabled:  req.EmailEnabled,
		StartTime:     start,
	}
	if req.DurationHours > 0 {
		end := start.Add(time.Duration(req.DurationHours) * time.Hour)
		rental.EndTime = &end
	}

	if err := o.rentals.BeginDeploy(ctx, rental); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, types.NewDomainError(types.ErrKindConflict, "cluster already has an active rental")
		}
		return nil, fmt.Errorf("reserve rental slot: %w", err)
	}

	instance, err := o.provisioner.Create(ctx, rental.Configuration, "rentald-"+rental.ID)
	if err != nil {
		// No money has moved yet; drop the reserved row and surface the
		// provisioning failure
		if aerr := o.rentals.Abort(ctx, rental.ID); aerr != nil {
			log.Printf("ALERT: rental %s: provisioning failed and row removal also failed: %v", rental.ID, aerr)
			return nil, types.WrapDomainError(types.ErrKindInternalInconsistency, "deploy compensation failed", aerr)
		}
		return nil, provision.AsDomainError(err)
	}

	if err := o.rentals.SetInstanceDetails(ctx, rental.ID, instance); err != nil {
		return nil, o.compensateDeploy(ctx, rental, instance, decimal.Zero, fmt.Errorf("attach instance details: %w", err))
	}

	txn, err := o.ledger.Debit(ctx, cluster.OwnerID, breakdown.TotalCost,
		fmt.Sprintf("Deposit for %s rental %s", config.Model, rental.ID),
		rental.ID+":deposit")
	if err != nil {
		cerr := o.compensateDeploy(ctx, rental, instance, decimal.Zero, err)
		var de *types.DomainError
		if errors.As(cerr, &de) && de.Kind == types.ErrKindInsufficientBalance {
			de.Breakdown = &breakdown
		}
		return nil, cerr
	}

	record := &types.CostRecord{
		ID:                types.GenerateCostRecordID(),
		RentalID:          rental.ID,
		TransactionID:     txn.ID,
		BaseCost:          breakdown.BaseCost,
		TaxRate:           breakdown.TaxRate,
		TaxAmount:         breakdown.TaxAmount,
		PlatformFeeRate:   breakdown.PlatformFeeRate,
		PlatformFeeAmount: breakdown.PlatformFeeAmount,
		TotalCost:         breakdown.TotalCost,
	}
	if err := o.costs.Create(ctx, record); err != nil {
		return nil, o.compensateDeploy(ctx, rental, instance, breakdown.TotalCost, fmt.Errorf("create cost record: %w", err))
	}

	deployed, err := o.rentals.GetByID(ctx, rental.ID)
	if err != nil {
		return nil, fmt.Errorf("reload rental %s: %w", rental.ID, err)
	}

	log.Printf("Deploy: rental %s on cluster %s, instance %s, deposit %s",
		rental.ID, clusterID, instance.ID, breakdown.TotalCost.StringFixed(2))
	return &types.DeployResponse{Rental: deployed, CostBreakdown: &breakdown}, nil
}

// compensateDeploy unwinds a partially deployed rental: refund whatever
// was debited, terminate the instance, remove the row. A compensation
// failure leaves garbage behind and is surfaced as an inconsistency for
// the janitor and operators.
func (o *Orchestrator) compensateDeploy(ctx context.Context, rental *types.Rental, instance *provision.Instance, debited decimal.Decimal, cause error) error {
	log.Printf("Deploy: rental %s failed, compensating: %v", rental.ID, cause)

	if debited.IsPositive() {
		if _, err := o.ledger.Credit(ctx, rental.OwnerID, debited,
			fmt.Sprintf("Refund for aborted rental %s", rental.ID),
			rental.ID+":refund"); err != nil {
			log.Printf("ALERT: rental %s: refund of %s failed: %v", rental.ID, debited.StringFixed(2), err)
			return types.WrapDomainError(types.ErrKindInternalInconsistency, "deploy compensation failed", err)
		}
	}

	if err := o.provisioner.Terminate(ctx, instance.ID); err != nil {
		log.Printf("ALERT: rental %s: compensating terminate of %s failed: %v", rental.ID, instance.ID, err)
		return types.WrapDomainError(types.ErrKindInternalInconsistency, "deploy compensation failed", err)
	}

	if err := o.rentals.Abort(ctx, rental.ID); err != nil {
		log.Printf("ALERT: rental %s: row removal failed after compensation: %v", rental.ID, err)
		return types.WrapDomainError(types.ErrKindInternalInconsistency, "deploy compensation failed", err)
	}

	var de *types.DomainError
	if errors.As(cause, &de) {
		return de
	}
	return types.WrapDomainError(types.ErrKindInternalInconsistency, "deploy failed", cause)
}

// Terminate settles and closes the cluster's rental. Hours are billed in
// whole ceiling hours with a one hour minimum; the deposit is never
// refunded, only topped up. A provider failure to actually stop the
// instance never blocks settlement, the janitor reaps the orphan later.
func (o *Orchestrator) Terminate(ctx context.Context, clusterID string) (*types.TerminateResponse, error) {
	holder := uuid.NewString()
	acquired, err := o.locks.Acquire(ctx, clusterID, holder, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire rental lock: %w", err)
	}
	if !acquired {
		return nil, types.NewDomainError(types.ErrKindConflict, "another operation is in progress for this cluster")
	}
	defer o.releaseLock(clusterID, holder)

	active, err := o.rentals.ActiveRentalFor(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		return o.replayTerminate(ctx, clusterID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve active rental: %w", err)
	}

	return o.settle(ctx, active)
}

// TerminateRental settles a specific rental directly, bypassing the
// active-rental lookup. Used by the expiry sweep.
func (o *Orchestrator) TerminateRental(ctx context.Context, rentalID string) (*types.TerminateResponse, error) {
	rental, err := o.rentals.GetByID(ctx, rentalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewDomainError(types.ErrKindNotFound, "rental not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get rental %s: %w", rentalID, err)
	}

	holder := uuid.NewString()
	acquired, err := o.locks.Acquire(ctx, rental.ClusterID, holder, lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire rental lock: %w", err)
	}
	if !acquired {
		return nil, types.NewDomainError(types.ErrKindConflict, "another operation is in progress for this cluster")
	}
	defer o.releaseLock(rental.ClusterID, holder)

	if rental.Status == types.RentalStatusCompleted {
		return o.replayFor(ctx, rental)
	}
	return o.settle(ctx, rental)
}

func (o *Orchestrator) settle(ctx context.Context, rental *types.Rental) (*types.TerminateResponse, error) {
	end := o.now()
	// A fixed-duration rental is prepaid through its whole window at
	// deploy; time past end_time is never billed, however late the
	// settlement runs.
	if rental.EndTime != nil && rental.EndTime.Before(end) {
		end = *rental.EndTime
	}
	deposit := o.depositFor(ctx, rental)

	billable := billing.BillableHours(rental.StartTime, end)
	final := o.calc.QuoteHours(rental.HourlyPrice, billable)
	delta := final.TotalCost.Sub(deposit)

	settlementTxnID := ""
	if delta.IsPositive() {
		txn, err := o.ledger.Debit(ctx, rental.OwnerID, delta,
			fmt.Sprintf("Settlement for rental %s (%dh)", rental.ID, billable),
			rental.ID+":settlement")
		if err != nil {
			return nil, err
		}
		settlementTxnID = txn.ID
	}

	// The instance is best-effort: settlement already happened, so a
	// provider failure must not resurrect the charge path. The janitor
	// reaps instances left behind here.
	if rental.InstanceID != nil {
		if err := o.provisioner.Terminate(ctx, *rental.InstanceID); err != nil {
			log.Printf("Terminate: rental %s: instance %s not terminated, leaving for janitor: %v",
				rental.ID, *rental.InstanceID, err)
		}
	}

	completed, err := o.rentals.Complete(ctx, rental.ID, end)
	if err != nil {
		return nil, fmt.Errorf("complete rental %s: %w", rental.ID, err)
	}

	if err := o.finalizeCostRecord(ctx, rental.ID, settlementTxnID, final); err != nil {
		log.Printf("ALERT: rental %s: cost record finalization failed: %v", rental.ID, err)
	}

	log.Printf("Terminate: rental %s settled, %dh billed, deposit %s, final %s",
		rental.ID, billable, deposit.StringFixed(2), final.TotalCost.StringFixed(2))
	return &types.TerminateResponse{
		Rental: completed,
		Usage: &types.Usage{
			HoursUsed:     billable,
			InitialCharge: deposit,
			FinalCharge:   final.TotalCost,
		},
	}, nil
}

// replayTerminate serves a terminate against a cluster with no live
// rental. A fixed-duration rental past its end_time no longer reads as
// active but is still an open ACTIVE row, so the owner's terminate must
// settle it; a completed latest rental makes this a retry and gets the
// stored outcome.
func (o *Orchestrator) replayTerminate(ctx context.Context, clusterID string) (*types.TerminateResponse, error) {
	latest, err := o.rentals.LatestFor(ctx, clusterID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.NewDomainError(types.ErrKindNotFound, "no rental to terminate")
	}
	if err != nil {
		return nil, fmt.Errorf("resolve latest rental: %w", err)
	}
	if latest.Status == types.RentalStatusActive {
		return o.settle(ctx, latest)
	}
	return o.replayFor(ctx, latest)
}

// replayFor rebuilds the terminate response for an already settled
// rental without moving any money
func (o *Orchestrator) replayFor(ctx context.Context, rental *types.Rental) (*types.TerminateResponse, error) {
	deposit := o.depositFor(ctx, rental)

	finalCharge := deposit
	if record, err := o.costs.GetByRental(ctx, rental.ID); err == nil {
		finalCharge = record.TotalCost
	}

	hours := int64(0)
	if rental.EndTime != nil {
		hours = billing.BillableHours(rental.StartTime, *rental.EndTime)
	}

	return &types.TerminateResponse{
		Rental: rental,
		Usage: &types.Usage{
			HoursUsed:     hours,
			InitialCharge: deposit,
			FinalCharge:   finalCharge,
		},
	}, nil
}

// depositFor recovers the deposit amount from the ledger entry posted at
// deploy time
func (o *Orchestrator) depositFor(ctx context.Context, rental *types.Rental) decimal.Decimal {
	txn, err := o.ledger.ByKey(ctx, rental.ID+":deposit")
	if err != nil {
		log.Printf("Terminate: rental %s: no deposit transaction found: %v", rental.ID, err)
		return decimal.Zero
	}
	return txn.Amount.Neg()
}

func (o *Orchestrator) finalizeCostRecord(ctx context.Context, rentalID, settlementTxnID string, final types.CostBreakdown) error {
	record, err := o.costs.GetByRental(ctx, rentalID)
	if err != nil {
		return fmt.Errorf("get cost record: %w", err)
	}

	record.BaseCost = final.BaseCost
	record.TaxAmount = final.TaxAmount
	record.PlatformFeeAmount = final.PlatformFeeAmount
	record.TotalCost = final.TotalCost
	if settlementTxnID != "" {
		record.TransactionID = settlementTxnID
	}
	return o.costs.UpdateFinal(ctx, record)
}

// releaseLock runs on a background context so a cancelled saga context
// cannot leave the cluster locked until the TTL expires
func (o *Orchestrator) releaseLock(clusterID, holder string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.locks.Release(ctx, clusterID, holder); err != nil {
		log.Printf("Rental: failed to release lock on cluster %s: %v", clusterID, err)
	}
}
