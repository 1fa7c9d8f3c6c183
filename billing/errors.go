/*
errors.go - Centralized error types for the billing engine

ERROR CATEGORIES:
  1. Validation errors - rejected before any store mutation
  2. Conflict errors   - duplicates and "needs confirmation"
  3. Store errors      - wrapped and returned, the transaction rolls back

Callers test with errors.Is / errors.As. The api package maps the helper
predicates at the bottom of this file to HTTP status codes.
*/
package billing

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrResidentNotFound      = errors.New("resident not found")
	ErrResidentExists        = errors.New("resident already exists")
	ErrPaymentPeriodNotFound = errors.New("payment period not found")

	// ErrDuplicatePeriod is returned when creating a period that already exists.
	ErrDuplicatePeriod = errors.New("payment period already exists")

	// ErrConfirmationRequired marks a generation run that found existing
	// records and was not forced. It is an outcome, not a failure.
	ErrConfirmationRequired = errors.New("records already exist for period, confirmation required")

	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidResident = errors.New("invalid resident")
	ErrInvalidMethod   = errors.New("invalid payment method")

	// ErrOverpayment is returned when a payment exceeds the amount due.
	ErrOverpayment = errors.New("amount paid exceeds amount due")

	// ErrResidentHasPayments blocks deleting a resident with ledger history.
	ErrResidentHasPayments = errors.New("resident has payment history")

	// ErrLockTimeout is returned when a per-resident lock cannot be acquired.
	ErrLockTimeout = errors.New("timed out acquiring resident lock")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	if e.Err == nil {
		return ErrInvalidAmount
	}
	return e.Err
}

// RecalculationError reports where a cascade stopped. Nothing was persisted.
type RecalculationError struct {
	ResidentID ResidentID
	Period     Period
	Err        error
}

func (e *RecalculationError) Error() string {
	return fmt.Sprintf("recalculation for %s failed at %s: %v", e.ResidentID, e.Period, e.Err)
}

func (e *RecalculationError) Unwrap() error { return e.Err }

// ResidentFailure is one resident skipped by a generation batch.
type ResidentFailure struct {
	ResidentID ResidentID `json:"resident_id"`
	Reason     string     `json:"reason"`
	Err        error      `json:"-"`
}

func (f ResidentFailure) Error() string {
	return fmt.Sprintf("%s: %s", f.ResidentID, f.Reason)
}

func (f ResidentFailure) Unwrap() error { return f.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidResident) ||
		errors.Is(err, ErrInvalidMethod) ||
		errors.Is(err, ErrOverpayment)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResidentNotFound) ||
		errors.Is(err, ErrPaymentPeriodNotFound)
}

// IsConflict returns true for duplicates and confirmation outcomes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrResidentExists) ||
		errors.Is(err, ErrConfirmationRequired) ||
		errors.Is(err, ErrResidentHasPayments) ||
		errors.Is(err, ErrLockTimeout)
}
