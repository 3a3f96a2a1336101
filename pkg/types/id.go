package types

import (
	"fmt"

	"github.com/segmentio/ksuid"
)

// GenerateClusterID generates a unique cluster ID with prefix
func GenerateClusterID() string {
	return fmt.Sprintf("clu_%s", ksuid.New().String())
}

// GenerateRentalID generates a unique rental ID with prefix
func GenerateRentalID() string {
	return fmt.Sprintf("rnt_%s", ksuid.New().String())
}

// GenerateTransactionID generates a unique ledger transaction ID with prefix
func GenerateTransactionID() string {
	return fmt.Sprintf("txn_%s", ksuid.New().String())
}

// GenerateCostRecordID generates a unique cost record ID with prefix
func GenerateCostRecordID() string {
	return fmt.Sprintf("cost_%s", ksuid.New().String())
}

// GenerateUserID generates a unique user ID with prefix
func GenerateUserID() string {
	return fmt.Sprintf("usr_%s", ksuid.New().String())
}

// GenerateID generates a generic unique ID
func GenerateID() string {
	return ksuid.New().String()
}
