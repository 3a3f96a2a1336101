package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/neotix/rentald/pkg/types"
)

// Loader loads GPU configurations from YAML files
type Loader struct {
	catalogDir string
	validate   *validator.Validate
}

// NewLoader creates a new configuration loader
func NewLoader(catalogDir string) *Loader {
	return &Loader{
		catalogDir: catalogDir,
		validate:   validator.New(),
	}
}

// Load loads a single configuration by ID
func (l *Loader) Load(id string) (*types.Configuration, error) {
	filename := filepath.Join(l.catalogDir, id+".yaml")

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read configuration file %s: %w", filename, err)
	}

	var config types.Configuration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse configuration YAML %s: %w", filename, err)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("validate configuration %s: %w", id, err)
	}

	return &config, nil
}

// LoadAll loads all configurations from the catalog directory
func (l *Loader) LoadAll() ([]*types.Configuration, error) {
	entries, err := os.ReadDir(l.catalogDir)
	if err != nil {
		return nil, fmt.Errorf("read catalog directory: %w", err)
	}

	configs := []*types.Configuration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if !strings.HasSuffix(entry.Name(), ".yaml") && !strings.HasSuffix(entry.Name(), ".yml") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".yaml")
		id = strings.TrimSuffix(id, ".yml")

		config, err := l.Load(id)
		if err != nil {
			return nil, fmt.Errorf("load configuration %s: %w", id, err)
		}

		configs = append(configs, config)
	}

	if len(configs) == 0 {
		return nil, fmt.Errorf("no configurations found in %s", l.catalogDir)
	}

	return configs, nil
}

// Validate validates a configuration
func (l *Loader) Validate(config *types.Configuration) error {
	if err := l.validate.Struct(config); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !config.HourlyPrice.IsPositive() {
		return fmt.Errorf("hourly price must be positive, got %s", config.HourlyPrice)
	}

	return nil
}
