package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RentalStatus represents the current state of a rental
type RentalStatus string

const (
	RentalStatusActive    RentalStatus = "ACTIVE"
	RentalStatusCompleted RentalStatus = "COMPLETED"
)

// StringList is a JSON-encoded list of strings stored as JSONB
type StringList []string

// Value implements driver.Valuer for database serialization
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner for database deserialization
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, l)
}

// Credentials holds access material for a provisioned instance, stored as
// JSONB. Never exposed in API responses.
type Credentials map[string]string

// Value implements driver.Valuer for database serialization
func (c Credentials) Value() (driver.Value, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner for database deserialization
func (c *Credentials) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, c)
}

// Rental is the record of a GPU compute resource attached to a cluster for a
// span of time. Created only by the deploy saga, closed only by the terminate
// saga or the expiry sweep.
type Rental struct {
	ID            string                `db:"id" json:"id"`
	ClusterID     string                `db:"cluster_id" json:"cluster_id"`
	OwnerID       string                `db:"owner_id" json:"owner_id"`
	Configuration ConfigurationSnapshot `db:"configuration" json:"configuration"`
	Status        RentalStatus          `db:"status" json:"status"`
	HourlyPrice   decimal.Decimal       `db:"hourly_price" json:"hourly_price"`
	InstanceID    *string               `db:"instance_id" json:"instance_id,omitempty"`
	InstanceIP    *string               `db:"instance_ip" json:"instance_ip,omitempty"`
	InstanceDNS   *string               `db:"instance_dns" json:"instance_dns,omitempty"`
	InstanceType  *string               `db:"instance_type" json:"instance_type,omitempty"`
	Credentials   Credentials           `db:"credentials" json:"-"`
	SSHKeys       StringList            `db:"ssh_keys" json:"ssh_keys,omitempty"`
	EmailEnabled  bool                  `db:"email_enabled" json:"email_enabled"`
	StartTime     time.Time             `db:"start_time" json:"start_time"`
	EndTime       *time.Time            `db:"end_time" json:"end_time,omitempty"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

// IsActive reports whether the rental is live: ACTIVE status with an open or
// future end time. The same predicate serves fixed-duration and on-demand
// rentals.
func (r *Rental) IsActive(now time.Time) bool {
	return r.Status == RentalStatusActive &&
		(r.EndTime == nil || r.EndTime.After(now))
}

// CostRecord links a rental to its money movements. Written once at deploy
// with the deposit figures and updated in place at terminate with the final
// settlement.
type CostRecord struct {
	ID                string          `db:"id" json:"id"`
	RentalID          string          `db:"rental_id" json:"rental_id"`
	TransactionID     string          `db:"transaction_id" json:"transaction_id"`
	BaseCost          decimal.Decimal `db:"base_cost" json:"base_cost"`
	TaxRate           decimal.Decimal `db:"tax_rate" json:"tax_rate"`
	TaxAmount         decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	PlatformFeeRate   decimal.Decimal `db:"platform_fee_rate" json:"platform_fee_rate"`
	PlatformFeeAmount decimal.Decimal `db:"platform_fee_amount" json:"platform_fee_amount"`
	TotalCost         decimal.Decimal `db:"total_cost" json:"total_cost"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}
