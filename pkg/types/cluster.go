package types

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Cluster represents a logical cluster a user attaches GPU hardware to.
// A cluster has at most one rental in ACTIVE status at any time.
type Cluster struct {
	ID                     string     `db:"id" json:"id"`
	OwnerID                string     `db:"owner_id" json:"owner_id"`
	Name                   string     `db:"name" json:"name"`
	Description            *string    `db:"description" json:"description,omitempty"`
	CurrentConfigurationID *string    `db:"current_configuration_id" json:"current_configuration_id,omitempty"`
	CreatedAt              time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time  `db:"updated_at" json:"updated_at"`
}

// Configuration is a GPU hardware configuration from the catalog
type Configuration struct {
	ID          string          `yaml:"id" json:"id" validate:"required"`
	Vendor      string          `yaml:"vendor" json:"vendor" validate:"required"`
	Model       string          `yaml:"model" json:"model" validate:"required"`
	MemoryGB    int             `yaml:"memory_gb" json:"memory_gb" validate:"min=1"`
	Count       int             `yaml:"count" json:"count" validate:"min=1"`
	HourlyPrice decimal.Decimal `yaml:"hourly_price" json:"hourly_price"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
}

// Snapshot copies the hardware spec into an immutable snapshot value.
// Later catalog changes never affect a rental that holds a snapshot.
func (c *Configuration) Snapshot() ConfigurationSnapshot {
	return ConfigurationSnapshot{
		ConfigurationID: c.ID,
		Vendor:          c.Vendor,
		Model:           c.Model,
		MemoryGB:        c.MemoryGB,
		Count:           c.Count,
	}
}

// ConfigurationSnapshot is the hardware spec copied onto a rental at deploy
// time, stored as JSONB
type ConfigurationSnapshot struct {
	ConfigurationID string `json:"configuration_id"`
	Vendor          string `json:"vendor"`
	Model           string `json:"model"`
	MemoryGB        int    `json:"memory_gb"`
	Count           int    `json:"count"`
}

// Value implements driver.Valuer for database serialization
func (s ConfigurationSnapshot) Value() (driver.Value, error) {
	return json.Marshal(s)
}

// Scan implements sql.Scanner for database deserialization
func (s *ConfigurationSnapshot) Scan(value interface{}) error {
	if value == nil {
		*s = ConfigurationSnapshot{}
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, s)
}
