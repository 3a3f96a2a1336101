package api

import (
	"github.com/labstack/echo/v4"

	"github.com/neotix/rentald/internal/catalog"
)

// ConfigurationHandler serves the GPU configuration catalog
type ConfigurationHandler struct {
	catalog *catalog.Registry
}

// NewConfigurationHandler creates a new configuration handler
func NewConfigurationHandler(reg *catalog.Registry) *ConfigurationHandler {
	return &ConfigurationHandler{catalog: reg}
}

// List handles GET /api/v1/configurations
func (h *ConfigurationHandler) List(c echo.Context) error {
	configs := h.catalog.List()
	return SuccessOK(c, map[string]interface{}{
		"configurations": configs,
		"count":          len(configs),
	})
}

// Get handles GET /api/v1/configurations/:id
func (h *ConfigurationHandler) Get(c echo.Context) error {
	config, err := h.catalog.Get(c.Param("id"))
	if err != nil {
		return ErrorNotFound(c, "Configuration not found")
	}
	return SuccessOK(c, config)
}
