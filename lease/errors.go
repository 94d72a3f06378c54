/*
errors.go - Centralized error types for the lease engine

ERROR CATEGORIES:
  1. Input errors - malformed or inconsistent dates (InvalidDateError)
  2. Conflicts - duplicate periods/alerts, illegal status transitions
  3. Skips - alert types with no computable reference date
  4. Store errors - missing records, concurrent modification

PROPAGATION:
  Per-agreement and per-obligation failures are isolated. Batch runs record
  the failing unit in a RunReport and carry on with the rest.

USAGE:
  if errors.Is(err, lease.ErrIllegalTransition) {
      // 409, record untouched
  }
*/
package lease

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidDate is returned for malformed or logically inconsistent dates.
	ErrInvalidDate = errors.New("invalid date")

	// ErrInvalidAgreement is returned when an agreement is missing required fields.
	ErrInvalidAgreement = errors.New("invalid agreement")

	// ErrNoOccurrence is returned when a one-time event has no occurrence on or after the reference.
	ErrNoOccurrence = errors.New("no occurrence on or after reference date")

	// ErrDuplicatePeriod is returned when a payment record already exists for
	// the (obligation, period). Callers treat it as a no-op.
	ErrDuplicatePeriod = errors.New("payment period already exists")

	// ErrDuplicateAlert is returned when an alert already exists for the
	// (agreement, type, reference date).
	ErrDuplicateAlert = errors.New("alert already exists")

	// ErrIllegalTransition is returned for a status change outside the allowed set.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrMissingReferenceDate is returned when an alert type has no reference date.
	ErrMissingReferenceDate = errors.New("missing reference date")

	// ErrAmountRequired is returned when marking a metered record paid without an amount.
	ErrAmountRequired = errors.New("amount required for metered obligation")

	// ErrInvalidAmount is returned for a zero or negative payment amount.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAlreadyExists is returned when creating an agreement whose ID is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrConcurrentModification is returned when a compare-and-set update lost the race.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidDateError describes a bad date input.
type InvalidDateError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidDateError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid date %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid date %s=%q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidDateError) Unwrap() error { return ErrInvalidDate }

// DuplicatePeriodConflict reports a payment record that already existed at insert time.
type DuplicatePeriodConflict struct {
	ObligationID ObligationID
	Period       PeriodKey
}

func (e *DuplicatePeriodConflict) Error() string {
	return fmt.Sprintf("payment period %s already exists for obligation %s", e.Period, e.ObligationID)
}

func (e *DuplicatePeriodConflict) Unwrap() error { return ErrDuplicatePeriod }

// IllegalStatusTransition reports a rejected status change. The record is unchanged.
type IllegalStatusTransition struct {
	ID     string
	From   string
	To     string
	Action string
}

func (e *IllegalStatusTransition) Error() string {
	return fmt.Sprintf("cannot %s %s: %s -> %s not allowed", e.Action, e.ID, e.From, e.To)
}

func (e *IllegalStatusTransition) Unwrap() error { return ErrIllegalTransition }

// MissingReferenceDateError reports an alert type skipped for an agreement.
type MissingReferenceDateError struct {
	AgreementID AgreementID
	Type        AlertType
	Reason      string
}

func (e *MissingReferenceDateError) Error() string {
	return fmt.Sprintf("no %s reference date for agreement %s: %s", e.Type, e.AgreementID, e.Reason)
}

func (e *MissingReferenceDateError) Unwrap() error { return ErrMissingReferenceDate }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict returns true if the error is a benign or reportable conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrDuplicateAlert) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidDate) ||
		errors.Is(err, ErrInvalidAgreement) ||
		errors.Is(err, ErrAmountRequired) ||
		errors.Is(err, ErrInvalidAmount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
