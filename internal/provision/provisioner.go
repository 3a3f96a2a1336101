// Package provision abstracts GPU instance lifecycle behind the
// Provisioner interface so the rental saga does not depend on a
// particular cloud.
package provision

import (
	"context"
	"errors"
	"time"

	"github.com/neotix/rentald/pkg/types"
)

// DefaultProvisionTimeout bounds how long Create waits for an instance
// to become reachable before the attempt is abandoned
const DefaultProvisionTimeout = 4 * time.Minute

var (
	// ErrProvisionTimeout means the instance did not come up within the
	// provisioning deadline
	ErrProvisionTimeout = errors.New("provisioning timed out")

	// ErrInstanceNotFound means the instance ID is unknown to the provider
	ErrInstanceNotFound = errors.New("instance not found")
)

// Instance is the result of a successful provisioning run
type Instance struct {
	ID           string
	IP           string
	DNS          string
	InstanceType string
	Credentials  types.Credentials
}

// InstanceInfo describes the current provider-side state of an instance
type InstanceInfo struct {
	ID       string
	State    string
	IP       string
	DNS      string
	LaunchAt time.Time
}

// Provisioner creates and destroys GPU instances.
//
// Terminate must be idempotent: terminating an unknown or already
// terminated instance is a no-op, not an error.
type Provisioner interface {
	Create(ctx context.Context, snapshot types.ConfigurationSnapshot, keyName string) (*Instance, error)
	Terminate(ctx context.Context, instanceID string) error
	Inspect(ctx context.Context, instanceID string) (*InstanceInfo, error)
}

// ProvisionError wraps a provider failure with a classification the
// saga uses to decide what to tell the caller
type ProvisionError struct {
	Kind types.ErrKind
	Err  error
}

func (e *ProvisionError) Error() string {
	return "provision: " + e.Err.Error()
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// AsDomainError converts a provisioning failure into the typed error
// surfaced by the rental lifecycle
func AsDomainError(err error) *types.DomainError {
	if errors.Is(err, ErrProvisionTimeout) {
		return types.WrapDomainError(types.ErrKindProvisionTimeout, "instance did not become ready in time", err)
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return types.WrapDomainError(pe.Kind, "provisioning failed", err)
	}
	return types.WrapDomainError(types.ErrKindProvisionTransient, "provisioning failed", err)
}
