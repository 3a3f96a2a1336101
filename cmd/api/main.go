package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/api"
	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/catalog"
	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/rental"
	"github.com/neotix/rentald/internal/store"
)

func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost:5432/rentald?sslmode=disable"
	}

	catalogDir := os.Getenv("CATALOG_DIR")
	if catalogDir == "" {
		catalogDir = "internal/catalog/definitions"
	}

	port := 8080
	if portStr := os.Getenv("PORT"); portStr != "" {
		fmt.Sscanf(portStr, "%d", &port)
	}

	corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if corsOrigins == "" {
		corsOrigins = "http://localhost:3000"
	}

	log.Println("Connecting to database...")
	st, err := store.NewStore(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	log.Println("Running database migrations...")
	if err := st.Migrate(context.Background()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	log.Println("Loading GPU configuration catalog...")
	registry, err := catalog.NewRegistry(catalog.NewLoader(catalogDir))
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	log.Printf("Loaded %d GPU configurations", registry.Count())

	calc := billing.NewCalculator(billingConfigFromEnv())
	ledgerService := ledger.NewService(st)

	provisioner, err := buildProvisioner()
	if err != nil {
		log.Fatalf("Failed to initialize provisioner: %v", err)
	}

	orchestrator := rental.NewOrchestrator(
		rental.NewRegistry(st),
		st.Clusters,
		st.CostRecords,
		ledgerService,
		registry,
		st.RentalLocks,
		provisioner,
		calc,
	)

	config := api.DefaultServerConfig()
	config.Port = port
	config.AllowedOrigins = []string{corsOrigins}

	log.Printf("Server configured:")
	log.Printf("  Port: %d", config.Port)
	log.Printf("  CORS origins: %v", config.AllowedOrigins)

	server := api.NewServer(config, st, registry, orchestrator, billing.NewResolver(calc), ledgerService)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// billingConfigFromEnv reads the tax and platform fee rates, falling
// back to the defaults when unset or unparsable
func billingConfigFromEnv() billing.Config {
	cfg := billing.DefaultConfig()
	if v := os.Getenv("TAX_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			cfg.TaxRate = rate
		} else {
			log.Printf("WARNING: ignoring invalid TAX_RATE %q", v)
		}
	}
	if v := os.Getenv("PLATFORM_FEE_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			cfg.PlatformFeeRate = rate
		} else {
			log.Printf("WARNING: ignoring invalid PLATFORM_FEE_RATE %q", v)
		}
	}
	return cfg
}

// buildProvisioner selects the instance backend. PROVISIONER=fake runs
// without AWS for local development.
func buildProvisioner() (provision.Provisioner, error) {
	if os.Getenv("PROVISIONER") == "fake" {
		log.Println("WARNING: using the fake provisioner, no real instances will be launched")
		return provision.NewFake(), nil
	}

	cfg := provision.DefaultEC2Config()
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Region = region
	}
	if ami := os.Getenv("EC2_AMI_ID"); ami != "" {
		cfg.AMIID = ami
	}
	if az := os.Getenv("EC2_AVAILABILITY_ZONE"); az != "" {
		cfg.AvailabilityZone = az
	}
	return provision.NewEC2Provisioner(context.Background(), cfg)
}
