package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	apimiddleware "github.com/neotix/rentald/internal/api/middleware"
	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/catalog"
	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/rental"
	"github.com/neotix/rentald/internal/store"
)

// ServerConfig holds configuration for the API server
type ServerConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	EnableCORS      bool
	AllowedOrigins  []string
	MaxBodySize     string
	RequestTimeout  time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		EnableCORS:      true,
		AllowedOrigins:  []string{"http://localhost:3000"},
		MaxBodySize:     "1M",
		// Deploy holds the request open while the instance comes up
		RequestTimeout: 5 * time.Minute,
	}
}

// Server represents the HTTP API server
type Server struct {
	echo         *echo.Echo
	config       *ServerConfig
	store        *store.Store
	catalog      *catalog.Registry
	orchestrator *rental.Orchestrator
	resolver     *billing.Resolver
	ledger       *ledger.Service
}

// NewServer creates a new API server
func NewServer(
	config *ServerConfig,
	store *store.Store,
	registry *catalog.Registry,
	orchestrator *rental.Orchestrator,
	resolver *billing.Resolver,
	ledgerService *ledger.Service,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Disable Echo's default logger, we'll use our own
	e.Logger.SetOutput(io.Discard)

	e.Validator = NewValidator()

	s := &Server{
		echo:         e,
		config:       config,
		store:        store,
		catalog:      registry,
		orchestrator: orchestrator,
		resolver:     resolver,
		ledger:       ledgerService,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(apimiddleware.Logger())

	if s.config.EnableCORS {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:  s.config.AllowedOrigins,
			AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch},
			AllowHeaders:  []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, apimiddleware.UserIDHeader, "Idempotency-Key"},
			ExposeHeaders: []string{echo.HeaderContentLength},
		}))
	}

	s.echo.Use(middleware.BodyLimit(s.config.MaxBodySize))

	s.echo.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: s.config.RequestTimeout,
	}))
}

// setupRoutes configures API routes
func (s *Server) setupRoutes() {
	// Health checks (no identity required)
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/ready", s.readyCheck)

	v1 := s.echo.Group("/api/v1")

	// Catalog is public
	configHandler := NewConfigurationHandler(s.catalog)
	v1.GET("/configurations", configHandler.List)
	v1.GET("/configurations/:id", configHandler.Get)

	// Account registration is public, everything below carries identity
	userHandler := NewUserHandler(s.store, s.ledger)
	v1.POST("/users", userHandler.Create)

	identified := v1.Group("", apimiddleware.Identity())
	identified.GET("/users/me", userHandler.GetMe)
	identified.GET("/users/me/transactions", userHandler.Transactions)
	identified.POST("/users/me/credits", userHandler.AddCredits)

	clusterHandler := NewClusterHandler(s.store, s.catalog, s.orchestrator, s.resolver, s.ledger)
	identified.POST("/clusters", clusterHandler.Create)
	identified.GET("/clusters", clusterHandler.List)
	// Registered before /clusters/:id so "status" is not read as an ID
	identified.GET("/clusters/status", clusterHandler.AllStatus)
	identified.GET("/clusters/:id", clusterHandler.Get)
	identified.DELETE("/clusters/:id", clusterHandler.Delete)
	identified.POST("/clusters/:id/configuration", clusterHandler.SetConfiguration)
	identified.POST("/clusters/:id/deploy", clusterHandler.Deploy)
	identified.DELETE("/clusters/:id/rental", clusterHandler.Terminate)
	identified.GET("/clusters/:id/rental/ssh-key", clusterHandler.SSHKey)
	identified.GET("/clusters/:id/history", clusterHandler.History)
	identified.GET("/clusters/:id/status", clusterHandler.Status)
}

// healthCheck returns basic health status
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// readyCheck checks if server is ready to handle requests
func (s *Server) readyCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  "database unavailable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "ready",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	fmt.Printf("Starting API server on %s\n", addr)
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo returns the underlying Echo instance for testing
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
