package types

import "github.com/shopspring/decimal"

// CostBreakdown is the itemized result of a billing quote
type CostBreakdown struct {
	BaseCost          decimal.Decimal `json:"base_cost"`
	TaxRate           decimal.Decimal `json:"tax_rate"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	PlatformFeeRate   decimal.Decimal `json:"platform_fee_rate"`
	PlatformFeeAmount decimal.Decimal `json:"platform_fee_amount"`
	TotalCost         decimal.Decimal `json:"total_cost"`
}

// Usage summarizes billing for a finished rental
type Usage struct {
	HoursUsed     int64           `json:"hours_used"`
	InitialCharge decimal.Decimal `json:"initial_charge"`
	FinalCharge   decimal.Decimal `json:"final_charge"`
}
