package rental

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/store"
	"github.com/neotix/rentald/pkg/types"
)

type fakeRentals struct {
	mu      sync.Mutex
	rentals map[string]*types.Rental
	now     func() time.Time
}

func newFakeRentals() *fakeRentals {
	return &fakeRentals{rentals: make(map[string]*types.Rental), now: time.Now}
}

// ActiveRentalFor mirrors the store predicate: an ACTIVE row past its
// end_time no longer reads as active
func (f *fakeRentals) ActiveRentalFor(ctx context.Context, clusterID string) (*types.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.now()
	for _, r := range f.rentals {
		if r.ClusterID == clusterID && r.IsActive(now) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeRentals) LatestFor(ctx context.Context, clusterID string) (*types.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *types.Rental
	for _, r := range f.rentals {
		if r.ClusterID != clusterID {
			continue
		}
		if latest == nil || r.StartTime.After(latest.StartTime) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeRentals) GetByID(ctx context.Context, id string) (*types.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rentals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRentals) BeginDeploy(ctx context.Context, rental *types.Rental) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rentals {
		if r.ClusterID == rental.ClusterID && r.Status == types.RentalStatusActive {
			return store.ErrConflict
		}
	}
	cp := *rental
	f.rentals[rental.ID] = &cp
	return nil
}

func (f *fakeRentals) SetInstanceDetails(ctx context.Context, rentalID string, inst *provision.Instance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rentals[rentalID]
	if !ok {
		return store.ErrNotFound
	}
	r.InstanceID = &inst.ID
	r.InstanceIP = &inst.IP
	r.InstanceDNS = &inst.DNS
	r.InstanceType = &inst.InstanceType
	r.Credentials = inst.Credentials
	return nil
}

func (f *fakeRentals) Complete(ctx context.Context, rentalID string, endTime time.Time) (*types.Rental, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rentals[rentalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if r.Status == types.RentalStatusActive {
		r.Status = types.RentalStatusCompleted
		end := endTime
		r.EndTime = &end
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRentals) Abort(ctx context.Context, rentalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rentals[rentalID]; !ok {
		return store.ErrNotFound
	}
	delete(f.rentals, rentalID)
	return nil
}

func (f *fakeRentals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rentals)
}

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	byKey    map[string]*types.LedgerTransaction
	debits   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: make(map[string]decimal.Decimal),
		byKey:    make(map[string]*types.LedgerTransaction),
	}
}

func (f *fakeLedger) post(userID string, amount decimal.Decimal, description, key string) (*types.LedgerTransaction, error) {
	if txn, ok := f.byKey[key]; ok {
		return txn, nil
	}
	balance := f.balances[userID]
	next := balance.Add(amount)
	if next.IsNegative() {
		return nil, types.NewInsufficientBalanceError(amount.Neg(), balance)
	}
	f.balances[userID] = next
	txn := &types.LedgerTransaction{
		ID:             types.GenerateTransactionID(),
		UserID:         userID,
		Amount:         amount,
		Status:         types.TransactionStatusCompleted,
		Description:    description,
		IdempotencyKey: &key,
	}
	f.byKey[key] = txn
	return txn, nil
}

func (f *fakeLedger) Debit(ctx context.Context, userID string, amount decimal.Decimal, description, key string) (*types.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debits++
	return f.post(userID, amount.Neg(), description, key)
}

func (f *fakeLedger) Credit(ctx context.Context, userID string, amount decimal.Decimal, description, key string) (*types.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.post(userID, amount, description, key)
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[userID], nil
}

func (f *fakeLedger) ByKey(ctx context.Context, key string) (*types.LedgerTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txn, ok := f.byKey[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return txn, nil
}

type fakeClusters struct {
	clusters map[string]*types.Cluster
}

func (f *fakeClusters) GetByID(ctx context.Context, id string) (*types.Cluster, error) {
	c, ok := f.clusters[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

type fakeCosts struct {
	mu      sync.Mutex
	records map[string]*types.CostRecord
	failOn  bool
}

func newFakeCosts() *fakeCosts {
	return &fakeCosts{records: make(map[string]*types.CostRecord)}
}

func (f *fakeCosts) Create(ctx context.Context, record *types.CostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn {
		return assert.AnError
	}
	cp := *record
	f.records[record.RentalID] = &cp
	return nil
}

func (f *fakeCosts) GetByRental(ctx context.Context, rentalID string) (*types.CostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[rentalID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCosts) UpdateFinal(ctx context.Context, record *types.CostRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.RentalID]; !ok {
		return store.ErrNotFound
	}
	cp := *record
	f.records[record.RentalID] = &cp
	return nil
}

type fakeCatalog struct {
	configs map[string]*types.Configuration
}

func (f *fakeCatalog) Get(id string) (*types.Configuration, error) {
	c, ok := f.configs[id]
	if !ok {
		return nil, types.NewDomainError(types.ErrKindValidation, "unknown configuration")
	}
	return c, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	held map[string]string
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: make(map[string]string)}
}

func (f *fakeLocks) Acquire(ctx context.Context, clusterID, holder string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[clusterID]; ok {
		return false, nil
	}
	f.held[clusterID] = holder
	return true, nil
}

func (f *fakeLocks) Release(ctx context.Context, clusterID, holder string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[clusterID] == holder {
		delete(f.held, clusterID)
	}
	return nil
}

type testEnv struct {
	orch        *Orchestrator
	rentals     *fakeRentals
	ledger      *fakeLedger
	clusters    *fakeClusters
	costs       *fakeCosts
	locks       *fakeLocks
	provisioner *provision.Fake
	now         time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	configID := "nvidia-t4"
	env := &testEnv{
		rentals: newFakeRentals(),
		ledger:  newFakeLedger(),
		clusters: &fakeClusters{clusters: map[string]*types.Cluster{
			"clu_1": {ID: "clu_1", OwnerID: "usr_1", Name: "alpha", CurrentConfigurationID: &configID},
		}},
		costs:       newFakeCosts(),
		locks:       newFakeLocks(),
		provisioner: provision.NewFake(),
		now:         time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	catalog := &fakeCatalog{configs: map[string]*types.Configuration{
		configID: {
			ID:          configID,
			Vendor:      "NVIDIA",
			Model:       "T4",
			MemoryGB:    16,
			Count:       1,
			HourlyPrice: decimal.NewFromInt(1),
			Enabled:     true,
		},
	}}

	env.ledger.balances["usr_1"] = decimal.NewFromInt(100)

	env.orch = NewOrchestrator(env.rentals, env.clusters, env.costs, env.ledger, catalog, env.locks, env.provisioner, billing.NewCalculator(billing.DefaultConfig()))
	env.orch.now = func() time.Time { return env.now }
	env.rentals.now = env.orch.now
	return env
}

func (e *testEnv) deploy(t *testing.T) *types.DeployResponse {
	t.Helper()
	resp, err := e.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})
	require.NoError(t, err)
	return resp
}

func TestDeploy(t *testing.T) {
	t.Run("happy path charges one hour deposit", func(t *testing.T) {
		env := newTestEnv(t)

		resp := env.deploy(t)

		assert.Equal(t, types.RentalStatusActive, resp.Rental.Status)
		assert.NotNil(t, resp.Rental.InstanceID)
		assert.Nil(t, resp.Rental.EndTime)
		assert.Equal(t, "1.13", resp.CostBreakdown.TotalCost.StringFixed(2))

		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "98.87", balance.StringFixed(2))

		record, err := env.costs.GetByRental(context.Background(), resp.Rental.ID)
		require.NoError(t, err)
		assert.True(t, record.TotalCost.Equal(resp.CostBreakdown.TotalCost))
	})

	t.Run("fixed duration charges the whole window up front", func(t *testing.T) {
		env := newTestEnv(t)

		resp, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{DurationHours: 3})
		require.NoError(t, err)

		assert.Equal(t, "3.39", resp.CostBreakdown.TotalCost.StringFixed(2))
		require.NotNil(t, resp.Rental.EndTime)
		assert.Equal(t, env.now.Add(3*time.Hour), *resp.Rental.EndTime)
	})

	t.Run("no configuration chosen", func(t *testing.T) {
		env := newTestEnv(t)
		env.clusters.clusters["clu_1"].CurrentConfigurationID = nil

		_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})
		assert.True(t, types.IsKind(err, types.ErrKindValidation))
	})

	t.Run("unknown cluster", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.orch.Deploy(context.Background(), "clu_missing", &types.DeployRequest{})
		assert.True(t, types.IsKind(err, types.ErrKindNotFound))
	})

	t.Run("second deploy conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)

		_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})
		assert.True(t, types.IsKind(err, types.ErrKindConflict))
	})

	t.Run("insufficient balance carries the breakdown", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.balances["usr_1"] = decimal.NewFromFloat(0.50)

		_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})

		var de *types.DomainError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, types.ErrKindInsufficientBalance, de.Kind)
		require.NotNil(t, de.Breakdown)
		assert.Equal(t, "1.13", de.RequiredAmount.StringFixed(2))
		assert.Equal(t, "0.50", de.AvailableBalance.StringFixed(2))

		// Nothing reserved, nothing provisioned
		assert.Equal(t, 0, env.rentals.count())
		assert.Empty(t, env.provisioner.CreateCalls)
	})

	t.Run("provision failure aborts the rental and leaves the ledger untouched", func(t *testing.T) {
		env := newTestEnv(t)
		env.provisioner.CreateErr = &provision.ProvisionError{Kind: types.ErrKindProvisionCapacity, Err: assert.AnError}

		_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})

		assert.True(t, types.IsKind(err, types.ErrKindProvisionCapacity))
		assert.Equal(t, 0, env.rentals.count())

		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "100.00", balance.StringFixed(2))
	})

	t.Run("post-provision failure compensates instance and row", func(t *testing.T) {
		env := newTestEnv(t)
		env.costs.failOn = true

		_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})
		require.Error(t, err)

		// Instance terminated, row dropped, deposit refunded
		assert.Equal(t, 0, env.provisioner.Running())
		assert.Equal(t, 0, env.rentals.count())
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "100.00", balance.StringFixed(2))
	})

	t.Run("redeploy after the fixed window settles the expired rental first", func(t *testing.T) {
		env := newTestEnv(t)
		first, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{DurationHours: 1})
		require.NoError(t, err)

		env.now = env.now.Add(time.Hour + 10*time.Minute)

		second := env.deploy(t)
		assert.NotEqual(t, first.Rental.ID, second.Rental.ID)

		// The expired rental was settled in passing, not left to the sweep
		old, err := env.rentals.GetByID(context.Background(), first.Rental.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RentalStatusCompleted, old.Status)

		// One prepaid hour plus the new deposit
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "97.74", balance.StringFixed(2))
	})

	t.Run("concurrent deploys produce exactly one rental", func(t *testing.T) {
		env := newTestEnv(t)

		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() {
				_, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{})
				results <- err
			}()
		}

		var failures []error
		for i := 0; i < 2; i++ {
			if err := <-results; err != nil {
				failures = append(failures, err)
			}
		}

		require.Len(t, failures, 1)
		assert.True(t, types.IsKind(failures[0], types.ErrKindConflict))
		assert.Equal(t, 1, env.rentals.count())

		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "98.87", balance.StringFixed(2))
	})
}

func TestTerminate(t *testing.T) {
	t.Run("bills ceiling hours and debits the delta", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)
		env.now = env.now.Add(3 * time.Hour)

		resp, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)

		assert.Equal(t, types.RentalStatusCompleted, resp.Rental.Status)
		assert.Equal(t, int64(3), resp.Usage.HoursUsed)
		assert.Equal(t, "1.13", resp.Usage.InitialCharge.StringFixed(2))
		assert.Equal(t, "3.39", resp.Usage.FinalCharge.StringFixed(2))

		// 100 - 1.13 - 2.26
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "96.61", balance.StringFixed(2))

		// Final figures rewrite the deposit record in place
		record, err := env.costs.GetByRental(context.Background(), resp.Rental.ID)
		require.NoError(t, err)
		assert.Equal(t, "3.39", record.TotalCost.StringFixed(2))
	})

	t.Run("partial hour bills a full hour", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)
		env.now = env.now.Add(130 * time.Minute)

		resp, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)
		assert.Equal(t, int64(3), resp.Usage.HoursUsed)
	})

	t.Run("within the deposit hour no extra money moves", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)
		env.now = env.now.Add(10 * time.Minute)

		resp, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)

		assert.Equal(t, int64(1), resp.Usage.HoursUsed)
		assert.True(t, resp.Usage.FinalCharge.Equal(resp.Usage.InitialCharge))

		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "98.87", balance.StringFixed(2))
	})

	t.Run("terminate is idempotent", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)
		env.now = env.now.Add(2 * time.Hour)

		first, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)
		debitsAfterFirst := env.ledger.debits

		second, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)

		assert.Equal(t, first.Rental.ID, second.Rental.ID)
		assert.True(t, first.Usage.FinalCharge.Equal(second.Usage.FinalCharge))
		assert.Equal(t, debitsAfterFirst, env.ledger.debits)

		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "97.74", balance.StringFixed(2))
	})

	t.Run("provider failure does not block settlement", func(t *testing.T) {
		env := newTestEnv(t)
		env.deploy(t)
		env.now = env.now.Add(2 * time.Hour)
		env.provisioner.TerminateErr = assert.AnError

		resp, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)

		assert.Equal(t, types.RentalStatusCompleted, resp.Rental.Status)
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "97.74", balance.StringFixed(2))

		// The instance is still up, left for the janitor
		assert.Equal(t, 1, env.provisioner.Running())
	})

	t.Run("terminate after the fixed window settles the expired rental", func(t *testing.T) {
		env := newTestEnv(t)
		resp, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{DurationHours: 2})
		require.NoError(t, err)
		windowEnd := *resp.Rental.EndTime

		env.now = env.now.Add(2*time.Hour + 30*time.Minute)

		settled, err := env.orch.Terminate(context.Background(), "clu_1")
		require.NoError(t, err)

		assert.Equal(t, types.RentalStatusCompleted, settled.Rental.Status)
		assert.Equal(t, int64(2), settled.Usage.HoursUsed)
		require.NotNil(t, settled.Rental.EndTime)
		assert.Equal(t, windowEnd, *settled.Rental.EndTime)

		// The deposit covered the window; nothing more is debited
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "97.74", balance.StringFixed(2))
	})

	t.Run("no rental to terminate", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.orch.Terminate(context.Background(), "clu_1")
		assert.True(t, types.IsKind(err, types.ErrKindNotFound))
	})

	t.Run("terminate while deploy holds the lock conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		ok, err := env.locks.Acquire(context.Background(), "clu_1", "someone-else", time.Minute)
		require.NoError(t, err)
		require.True(t, ok)

		_, err = env.orch.Terminate(context.Background(), "clu_1")
		assert.True(t, types.IsKind(err, types.ErrKindConflict))
	})
}

func TestTerminateRental(t *testing.T) {
	t.Run("settles an expired fixed rental without billing past the window", func(t *testing.T) {
		env := newTestEnv(t)
		resp, err := env.orch.Deploy(context.Background(), "clu_1", &types.DeployRequest{DurationHours: 2})
		require.NoError(t, err)
		windowEnd := *resp.Rental.EndTime

		// Sweep runs a few minutes after expiry
		env.now = env.now.Add(2*time.Hour + 5*time.Minute)

		settled, err := env.orch.TerminateRental(context.Background(), resp.Rental.ID)
		require.NoError(t, err)
		assert.Equal(t, types.RentalStatusCompleted, settled.Rental.Status)
		assert.Equal(t, int64(2), settled.Usage.HoursUsed)
		assert.True(t, settled.Usage.FinalCharge.Equal(settled.Usage.InitialCharge))
		require.NotNil(t, settled.Rental.EndTime)
		assert.Equal(t, windowEnd, *settled.Rental.EndTime)

		// The whole window was prepaid at deploy; nothing more moves
		balance, _ := env.ledger.Balance(context.Background(), "usr_1")
		assert.Equal(t, "97.74", balance.StringFixed(2))
	})

	t.Run("unknown rental", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.orch.TerminateRental(context.Background(), "rnt_missing")
		assert.True(t, types.IsKind(err, types.ErrKindNotFound))
	})
}
