package billing

import (
	"time"

	"github.com/neotix/rentald/pkg/types"
	"github.com/shopspring/decimal"
)

// Estimate is the advisory live-cost view of an active rental. Authoritative
// charging happens exclusively at terminate.
type Estimate struct {
	ElapsedSeconds    int64
	RunningHours      decimal.Decimal
	HourlyRate        decimal.Decimal
	Breakdown         types.CostBreakdown
	EstimatedTotal    decimal.Decimal
	InitialDeposit    decimal.Decimal
	AdditionalCharges decimal.Decimal
}

// Resolver computes live-cost estimates for display. Unlike real billing it
// uses exact fractional hours, so a rental 30 minutes in shows a half-hour
// cost rather than a full-hour one.
type Resolver struct {
	calc *Calculator
}

// NewResolver creates a resolver on top of a calculator
func NewResolver(calc *Calculator) *Resolver {
	return &Resolver{calc: calc}
}

// Resolve estimates the current total for an active rental given the deposit
// already charged for it
func (r *Resolver) Resolve(rental *types.Rental, deposit decimal.Decimal, now time.Time) Estimate {
	hours := ExactHours(rental.StartTime, now)
	breakdown := r.calc.Quote(rental.HourlyPrice, hours)

	additional := breakdown.TotalCost.Sub(deposit)
	if additional.IsNegative() {
		additional = decimal.Zero
	}

	elapsed := now.Sub(rental.StartTime)
	if elapsed < 0 {
		elapsed = 0
	}

	return Estimate{
		ElapsedSeconds:    int64(elapsed / time.Second),
		RunningHours:      hours.Round(2),
		HourlyRate:        rental.HourlyPrice,
		Breakdown:         breakdown,
		EstimatedTotal:    breakdown.TotalCost,
		InitialDeposit:    deposit,
		AdditionalCharges: additional.Round(2),
	}
}
