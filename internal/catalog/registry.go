package catalog

import (
	"fmt"
	"sync"

	"github.com/neotix/rentald/pkg/types"
)

// Registry provides fast in-memory access to the GPU configuration catalog
type Registry struct {
	mu      sync.RWMutex
	configs map[string]*types.Configuration // keyed by configuration ID
	loader  *Loader
}

// NewRegistry creates a new catalog registry and loads all configurations
func NewRegistry(loader *Loader) (*Registry, error) {
	r := &Registry{
		configs: make(map[string]*types.Configuration),
		loader:  loader,
	}

	if err := r.Reload(); err != nil {
		return nil, fmt.Errorf("initial catalog load: %w", err)
	}

	return r, nil
}

// Get retrieves an enabled configuration by ID
func (r *Registry) Get(id string) (*types.Configuration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.configs[id]
	if !exists {
		return nil, fmt.Errorf("configuration not found: %s", id)
	}

	if !config.Enabled {
		return nil, fmt.Errorf("configuration disabled: %s", id)
	}

	return config, nil
}

// List returns all enabled configurations
func (r *Registry) List() []*types.Configuration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	configs := make([]*types.Configuration, 0, len(r.configs))
	for _, config := range r.configs {
		if config.Enabled {
			configs = append(configs, config)
		}
	}

	return configs
}

// Exists checks if a configuration exists and is enabled
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	config, exists := r.configs[id]
	return exists && config.Enabled
}

// Reload reloads all configurations from disk. Existing rentals are untouched;
// they carry an immutable snapshot taken at deploy time.
func (r *Registry) Reload() error {
	configs, err := r.loader.LoadAll()
	if err != nil {
		return fmt.Errorf("load configurations: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs = make(map[string]*types.Configuration)
	for _, config := range configs {
		r.configs[config.ID] = config
	}

	return nil
}

// Count returns the total number of configurations (including disabled)
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.configs)
}
