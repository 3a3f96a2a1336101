package provision

import (
	"context"
	"fmt"
	"sync"

	"github.com/neotix/rentald/pkg/types"
)

// Fake is an in-memory Provisioner for tests. Failures are scripted by
// setting the error fields; every call is recorded.
type Fake struct {
	mu sync.Mutex

	CreateErr    error
	TerminateErr error
	InspectErr   error

	instances map[string]*InstanceInfo
	nextID    int

	CreateCalls    []types.ConfigurationSnapshot
	TerminateCalls []string
	InspectCalls   []string
}

// NewFake creates an empty fake provisioner
func NewFake() *Fake {
	return &Fake{instances: make(map[string]*InstanceInfo)}
}

func (f *Fake) Create(ctx context.Context, snapshot types.ConfigurationSnapshot, keyName string) (*Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.CreateCalls = append(f.CreateCalls, snapshot)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.nextID++
	id := fmt.Sprintf("i-fake%06d", f.nextID)
	f.instances[id] = &InstanceInfo{ID: id, State: "running", IP: "198.51.100.1", DNS: id + ".example.com"}

	return &Instance{
		ID:           id,
		IP:           "198.51.100.1",
		DNS:          id + ".example.com",
		InstanceType: InstanceTypeFor(snapshot),
		Credentials: types.Credentials{
			"key_name":    keyName,
			"private_key": "fake-key-material",
		},
	}, nil
}

func (f *Fake) Terminate(ctx context.Context, instanceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.TerminateCalls = append(f.TerminateCalls, instanceID)
	if f.TerminateErr != nil {
		return f.TerminateErr
	}
	delete(f.instances, instanceID)
	return nil
}

func (f *Fake) Inspect(ctx context.Context, instanceID string) (*InstanceInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.InspectCalls = append(f.InspectCalls, instanceID)
	if f.InspectErr != nil {
		return nil, f.InspectErr
	}
	info, ok := f.instances[instanceID]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	return info, nil
}

// Running reports how many fake instances are still up
func (f *Fake) Running() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}
