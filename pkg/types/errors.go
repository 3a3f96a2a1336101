package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrKind classifies a domain error for machine-readable handling
type ErrKind string

const (
	ErrKindValidation            ErrKind = "VALIDATION"
	ErrKindNotFound              ErrKind = "NOT_FOUND"
	ErrKindConflict              ErrKind = "CONFLICT"
	ErrKindInsufficientBalance   ErrKind = "INSUFFICIENT_BALANCE"
	ErrKindProvisionTransient    ErrKind = "PROVISION_TRANSIENT"
	ErrKindProvisionCapacity     ErrKind = "PROVISION_CAPACITY"
	ErrKindProvisionQuota        ErrKind = "PROVISION_QUOTA"
	ErrKindProvisionTimeout      ErrKind = "PROVISION_TIMEOUT"
	ErrKindInternalInconsistency ErrKind = "INTERNAL_INCONSISTENCY"
)

// DomainError is the typed error surfaced by the rental lifecycle. It carries
// the numbers a caller needs to render the failure (balance shortfalls include
// the full cost breakdown).
type DomainError struct {
	Kind             ErrKind
	Message          string
	Breakdown        *CostBreakdown
	RequiredAmount   decimal.Decimal
	AvailableBalance decimal.Decimal
	Err              error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a DomainError of the given kind
func NewDomainError(kind ErrKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

// WrapDomainError creates a DomainError wrapping a cause
func WrapDomainError(kind ErrKind, message string, err error) *DomainError {
	return &DomainError{Kind: kind, Message: message, Err: err}
}

// NewInsufficientBalanceError reports a balance shortfall with the amounts
// the caller needs to render it
func NewInsufficientBalanceError(required, available decimal.Decimal) *DomainError {
	return &DomainError{
		Kind:             ErrKindInsufficientBalance,
		Message:          fmt.Sprintf("balance %s does not cover required %s", available.StringFixed(2), required.StringFixed(2)),
		RequiredAmount:   required,
		AvailableBalance: available,
	}
}

// KindOf extracts the error kind, or InternalInconsistency for untyped errors
func KindOf(err error) ErrKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindInternalInconsistency
}

// IsKind reports whether err is a DomainError of the given kind
func IsKind(err error, kind ErrKind) bool {
	var de *DomainError
	return errors.As(err, &de) && de.Kind == kind
}
