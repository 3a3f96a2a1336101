package billing

import (
	"time"

	"github.com/neotix/rentald/pkg/types"
	"github.com/shopspring/decimal"
)

// Config holds billing rates
type Config struct {
	TaxRate         decimal.Decimal
	PlatformFeeRate decimal.Decimal
}

// DefaultConfig returns the standard rates: 8% tax, 5% platform fee
func DefaultConfig() Config {
	return Config{
		TaxRate:         decimal.NewFromFloat(0.08),
		PlatformFeeRate: decimal.NewFromFloat(0.05),
	}
}

// Calculator turns an hourly price and a duration into an itemized cost
// breakdown. Pure, no I/O. All arithmetic is decimal; only the final total is
// rounded, to 2 places.
type Calculator struct {
	config Config
}

// NewCalculator creates a calculator with the given rates
func NewCalculator(config Config) *Calculator {
	return &Calculator{config: config}
}

// Quote computes the breakdown for renting at hourlyPrice for hours
func (c *Calculator) Quote(hourlyPrice, hours decimal.Decimal) types.CostBreakdown {
	base := hourlyPrice.Mul(hours)
	tax := base.Mul(c.config.TaxRate)
	fee := base.Mul(c.config.PlatformFeeRate)

	return types.CostBreakdown{
		BaseCost:          base,
		TaxRate:           c.config.TaxRate,
		TaxAmount:         tax,
		PlatformFeeRate:   c.config.PlatformFeeRate,
		PlatformFeeAmount: fee,
		TotalCost:         base.Add(tax).Add(fee).Round(2),
	}
}

// QuoteHours quotes for a whole number of billable hours
func (c *Calculator) QuoteHours(hourlyPrice decimal.Decimal, hours int64) types.CostBreakdown {
	return c.Quote(hourlyPrice, decimal.NewFromInt(hours))
}

// BillableHours converts elapsed wall-clock time into a billable duration:
// ceiling of elapsed hours, minimum 1. This is the authoritative rounding used
// for charging; display estimates use ExactHours instead.
func BillableHours(start, end time.Time) int64 {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 1
	}

	seconds := int64(elapsed / time.Second)
	hours := seconds / 3600
	if seconds%3600 != 0 || elapsed%time.Second != 0 {
		hours++
	}
	if hours < 1 {
		hours = 1
	}

	return hours
}

// ExactHours returns the exact fractional elapsed hours, for advisory display
// only. Never used for charging.
func ExactHours(start, end time.Time) decimal.Decimal {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return decimal.Zero
	}

	return decimal.New(int64(elapsed/time.Second), 0).
		Div(decimal.NewFromInt(3600))
}
