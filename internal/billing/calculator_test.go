package billing_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/internal/billing"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCalculator_Quote(t *testing.T) {
	calc := billing.NewCalculator(billing.DefaultConfig())

	t.Run("worked example at $1.00/hour", func(t *testing.T) {
		// deposit for 1 hour: 1.00 + 0.08 + 0.05 = 1.13
		b := calc.QuoteHours(d("1.00"), 1)

		assert.True(t, b.BaseCost.Equal(d("1.00")), "base = %s", b.BaseCost)
		assert.True(t, b.TaxAmount.Equal(d("0.08")), "tax = %s", b.TaxAmount)
		assert.True(t, b.PlatformFeeAmount.Equal(d("0.05")), "fee = %s", b.PlatformFeeAmount)
		assert.True(t, b.TotalCost.Equal(d("1.13")), "total = %s", b.TotalCost)
	})

	t.Run("3 hours at $1.00/hour totals 3.39", func(t *testing.T) {
		b := calc.QuoteHours(d("1.00"), 3)

		require.True(t, b.TotalCost.Equal(d("3.39")), "total = %s", b.TotalCost)

		// settlement delta over a 1-hour deposit
		deposit := calc.QuoteHours(d("1.00"), 1)
		delta := b.TotalCost.Sub(deposit.TotalCost)
		assert.True(t, delta.Equal(d("2.26")), "delta = %s", delta)
	})

	t.Run("total equals base times one plus rates", func(t *testing.T) {
		b := calc.QuoteHours(d("2.47"), 7)

		expected := b.BaseCost.
			Mul(decimal.NewFromInt(1).Add(b.TaxRate).Add(b.PlatformFeeRate)).
			Round(2)
		assert.True(t, b.TotalCost.Equal(expected), "total = %s, expected = %s", b.TotalCost, expected)
	})

	t.Run("only the total is rounded", func(t *testing.T) {
		// 0.333 * 1h yields unrounded base/tax/fee components
		b := calc.QuoteHours(d("0.333"), 1)

		assert.True(t, b.BaseCost.Equal(d("0.333")))
		assert.True(t, b.TaxAmount.Equal(d("0.02664")))
		assert.True(t, b.TotalCost.Equal(d("0.38")), "total = %s", b.TotalCost)
	})

	t.Run("custom rates", func(t *testing.T) {
		calc := billing.NewCalculator(billing.Config{
			TaxRate:         d("0.10"),
			PlatformFeeRate: d("0.00"),
		})

		b := calc.QuoteHours(d("10.00"), 2)
		assert.True(t, b.TotalCost.Equal(d("22.00")), "total = %s", b.TotalCost)
	})
}

func TestBillableHours(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    int64
	}{
		{"six minutes bills one hour", 6 * time.Minute, 1},
		{"zero elapsed bills minimum one hour", 0, 1},
		{"exactly one hour bills one hour", time.Hour, 1},
		{"exactly two hours bills two hours", 2 * time.Hour, 2},
		{"two hours one second bills three hours", 2*time.Hour + time.Second, 3},
		{"ninety minutes bills two hours", 90 * time.Minute, 2},
		{"clock skew before start bills one hour", -5 * time.Minute, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.BillableHours(start, start.Add(tt.elapsed))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExactHours(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("half an hour stays fractional", func(t *testing.T) {
		h := billing.ExactHours(start, start.Add(30*time.Minute))
		assert.True(t, h.Equal(d("0.5")), "hours = %s", h)
	})

	t.Run("negative elapsed is zero", func(t *testing.T) {
		h := billing.ExactHours(start, start.Add(-time.Minute))
		assert.True(t, h.IsZero())
	})
}
