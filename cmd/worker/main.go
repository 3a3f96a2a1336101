package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/neotix/rentald/internal/billing"
	"github.com/neotix/rentald/internal/catalog"
	"github.com/neotix/rentald/internal/janitor"
	"github.com/neotix/rentald/internal/ledger"
	"github.com/neotix/rentald/internal/provision"
	"github.com/neotix/rentald/internal/rental"
	"github.com/neotix/rentald/internal/store"
)

// The worker process runs the janitor sweeps out of band: settling
// expired fixed-duration rentals, reaping orphaned instances, and
// clearing expired locks and idempotency keys.
func main() {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://localhost:5432/rentald?sslmode=disable"
	}

	catalogDir := os.Getenv("CATALOG_DIR")
	if catalogDir == "" {
		catalogDir = "internal/catalog/definitions"
	}

	log.Println("Connecting to database...")
	st, err := store.NewStore(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	if err := st.Ping(context.Background()); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Database connection successful")

	registry, err := catalog.NewRegistry(catalog.NewLoader(catalogDir))
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	provisioner, err := buildProvisioner()
	if err != nil {
		log.Fatalf("Failed to initialize provisioner: %v", err)
	}

	orchestrator := rental.NewOrchestrator(
		rental.NewRegistry(st),
		st.Clusters,
		st.CostRecords,
		ledger.NewService(st),
		registry,
		st.RentalLocks,
		provisioner,
		billing.NewCalculator(billingConfigFromEnv()),
	)

	j := janitor.NewJanitor(janitor.DefaultConfig(), st, orchestrator, provisioner)

	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := j.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Janitor error: %v", err)
		}
	}()

	log.Println("Janitor started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down janitor...")
	cancel()
	log.Println("Shutdown complete")
}

// billingConfigFromEnv reads the same rate overrides the API server
// uses, so sweep settlements price identically
func billingConfigFromEnv() billing.Config {
	cfg := billing.DefaultConfig()
	if v := os.Getenv("TAX_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			cfg.TaxRate = rate
		}
	}
	if v := os.Getenv("PLATFORM_FEE_RATE"); v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			cfg.PlatformFeeRate = rate
		}
	}
	return cfg
}

// buildProvisioner selects the instance backend. PROVISIONER=fake runs
// without AWS for local development.
func buildProvisioner() (provision.Provisioner, error) {
	if os.Getenv("PROVISIONER") == "fake" {
		log.Println("WARNING: using the fake provisioner, no real instances will be touched")
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
