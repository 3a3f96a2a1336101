package types

import "time"

// CreateClusterRequest represents the API request to create a cluster
type CreateClusterRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=255"`
	Description *string `json:"description,omitempty"`
}

// SetConfigurationRequest chooses a GPU configuration for a cluster
type SetConfigurationRequest struct {
	ConfigurationID string `json:"configuration_id" validate:"required"`
}

// DeployRequest represents the API request to deploy a cluster's configuration
type DeployRequest struct {
	SSHKeys      []string `json:"ssh_keys,omitempty"`
	EmailEnabled bool     `json:"email_enabled,omitempty"`
	// DurationHours > 0 selects the legacy fixed-duration mode; zero means
	// open-ended on-demand.
	DurationHours int `json:"duration_hours,omitempty" validate:"omitempty,min=1,max=720"`
}

// DeployResponse is returned by a successful deploy
type DeployResponse struct {
	Rental        *Rental        `json:"rental"`
	CostBreakdown *CostBreakdown `json:"cost_breakdown"`
}

// TerminateResponse is returned by terminate, including the idempotent replay
// of an already-completed rental
type TerminateResponse struct {
	Rental *Rental `json:"rental"`
	Usage  *Usage  `json:"usage"`
}

// ClusterStatus is the advisory live-cost view of a cluster
type ClusterStatus struct {
	Timestamp          time.Time `json:"timestamp"`
	ClusterID          string    `json:"cluster_id"`
	Name               string    `json:"name"`
	IsActive           bool      `json:"is_active"`
	RentalID           string    `json:"rental_id,omitempty"`
	GPUModel           string    `json:"gpu_model,omitempty"`
	GPUVendor          string    `json:"gpu_vendor,omitempty"`
	InstanceID         string    `json:"instance_id,omitempty"`
	StartTime          *time.Time `json:"start_time,omitempty"`
	RunningTimeSeconds int64     `json:"running_time_seconds"`
	RunningTimeHours   string    `json:"running_time_hours,omitempty"`
	HourlyRate         string    `json:"hourly_rate,omitempty"`
	CurrentCost        string    `json:"current_cost,omitempty"`
	InitialDeposit     string    `json:"initial_deposit,omitempty"`
	AdditionalCharges  string    `json:"additional_charges,omitempty"`
}
