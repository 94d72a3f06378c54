/*
store.go - Persistence interfaces for agreements, obligations, payments, and alerts

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never holds state between calls; everything it needs is read back
  through these interfaces.

KEY INTERFACES:
  AgreementStore:  Confirmed agreements and their lifecycle status
  ObligationStore: Derived obligations (deactivated, never deleted)
  PaymentStore:    Payment records, unique per (obligation, period)
  AlertStore:      Alerts, unique per (agreement, type, reference date)
  PreferenceStore: Per-organization alert lead times
  RunStore:        History of scheduled runs

INSERT-IF-NOT-EXISTS:
  InsertPaymentRecord and InsertAlert return (false, nil) when a record with
  the same natural key already exists. The existing record is left exactly
  as it was. Implementations must make the check and the write atomic, so
  that of two concurrent inserts for the same key exactly one returns true.

COMPARE-AND-SET:
  Status updates carry the status the caller read. If the stored status no
  longer matches, the update fails with ErrConcurrentModification and
  nothing is written.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite with UNIQUE indexes
  - lease/store/memory.go: In-memory for tests

SEE ALSO:
  - engine.go: The only caller
*/
package lease

import (
	"context"
	"time"
)

// =============================================================================
// STORE INTERFACES
// =============================================================================

type AgreementStore interface {
	// CreateAgreement returns ErrAlreadyExists if the ID is taken.
	CreateAgreement(ctx context.Context, a Agreement) error

	GetAgreement(ctx context.Context, id AgreementID) (Agreement, error)

	ListAgreements(ctx context.Context, filter AgreementFilter) ([]Agreement, error)

	// UpdateAgreementStatus sets the status if it is still expected.
	UpdateAgreementStatus(ctx context.Context, id AgreementID, expected, status AgreementStatus, at time.Time) error

	// UpdateAgreementTerms replaces the terms of an agreement. Status is not touched.
	UpdateAgreementTerms(ctx context.Context, a Agreement) error
}

type ObligationStore interface {
	// InsertObligations writes obligations, skipping IDs that already exist.
	InsertObligations(ctx context.Context, obs []Obligation) error

	GetObligation(ctx context.Context, id ObligationID) (Obligation, error)

	ListObligations(ctx context.Context, filter ObligationFilter) ([]Obligation, error)

	// DeactivateObligations clears the active flag on every obligation of the
	// agreement and returns how many changed.
	DeactivateObligations(ctx context.Context, agreementID AgreementID) (int, error)
}

type PaymentStore interface {
	// InsertPaymentRecord is insert-if-not-exists on (obligation, period).
	InsertPaymentRecord(ctx context.Context, r PaymentRecord) (bool, error)

	GetPaymentRecord(ctx context.Context, id PaymentID) (PaymentRecord, error)

	ListPaymentRecords(ctx context.Context, filter PaymentFilter) ([]PaymentRecord, error)

	// PeriodsFor returns the periods already materialized for an obligation.
	PeriodsFor(ctx context.Context, obligationID ObligationID) ([]PeriodKey, error)

	// UpdatePaymentRecord writes status, paid amount, paid timestamp, and notes
	// if the stored status is still expected.
	UpdatePaymentRecord(ctx context.Context, r PaymentRecord, expected PaymentStatus) error
}

type AlertStore interface {
	// InsertAlert is insert-if-not-exists on (agreement, type, reference date).
	InsertAlert(ctx context.Context, a Alert) (bool, error)

	GetAlert(ctx context.Context, id AlertID) (Alert, error)

	ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error)

	// AlertKeys returns the keys of every alert stored for the agreement, in any status.
	AlertKeys(ctx context.Context, agreementID AgreementID) (map[AlertKey]bool, error)

	// UpdateAlertStatus writes status and snooze date if the stored status is still expected.
	UpdateAlertStatus(ctx context.Context, a Alert, expected AlertStatus) error
}

type PreferenceStore interface {
	// GetLeadTimes returns the organization's overrides only; empty if none.
	GetLeadTimes(ctx context.Context, orgID string) (LeadTimes, error)

	// SetLeadTimes upserts the given overrides. Types not listed keep their value.
	SetLeadTimes(ctx context.Context, orgID string, lt LeadTimes) error
}

type RunStore interface {
	RecordRun(ctx context.Context, r RunReport) error

	// ListRuns returns the most recent runs first.
	ListRuns(ctx context.Context, limit int) ([]RunReport, error)
}

// Store is everything the engine needs.
type Store interface {
	AgreementStore
	ObligationStore
	PaymentStore
	AlertStore
	PreferenceStore
	RunStore
}

// =============================================================================
// FILTERS - Nil/empty fields match everything
// =============================================================================

type AgreementFilter struct {
	OrgID    *string
	OutletID *string
	Statuses []AgreementStatus
}

type ObligationFilter struct {
	AgreementID *AgreementID
	ActiveOnly  bool
}

type PaymentFilter struct {
	AgreementID  *AgreementID
	ObligationID *ObligationID
	OutletID     *string
	Statuses     []PaymentStatus
	DueFrom      *Date
	DueTo        *Date
	// ActiveObligationsOnly drops records whose obligation is deactivated.
	ActiveObligationsOnly bool
}

type AlertFilter struct {
	OrgID       *string
	AgreementID *AgreementID
	Statuses    []AlertStatus
	// TriggeredBy keeps alerts whose trigger date is on or before this date.
	TriggeredBy *Date
}

// Matches reports whether a passes the filter. Memory stores use it directly.
func (f AgreementFilter) Matches(a Agreement) bool {
	if f.OrgID != nil && a.OrgID != *f.OrgID {
		return false
	}
	if f.OutletID != nil && a.OutletID != *f.OutletID {
		return false
	}
	return len(f.Statuses) == 0 || contains(f.Statuses, a.Status)
}

func (f ObligationFilter) Matches(o Obligation) bool {
	if f.AgreementID != nil && o.AgreementID != *f.AgreementID {
		return false
	}
	return !f.ActiveOnly || o.Active
}

func (f PaymentFilter) Matches(r PaymentRecord) bool {
	if f.AgreementID != nil && r.AgreementID != *f.AgreementID {
		return false
	}
	if f.ObligationID != nil && r.ObligationID != *f.ObligationID {
		return false
	}
	if f.OutletID != nil && r.OutletID != *f.OutletID {
		return false
	}
	if f.DueFrom != nil && r.DueDate.Before(*f.DueFrom) {
		return false
	}
	if f.DueTo != nil && r.DueDate.After(*f.DueTo) {
		return false
	}
	return len(f.Statuses) == 0 || contains(f.Statuses, r.Status)
}

func (f AlertFilter) Matches(a Alert) bool {
	if f.OrgID != nil && a.OrgID != *f.OrgID {
		return false
	}
	if f.AgreementID != nil && a.AgreementID != *f.AgreementID {
		return false
	}
	if f.TriggeredBy != nil && a.TriggerDate.After(*f.TriggeredBy) {
		return false
	}
	return len(f.Statuses) == 0 || contains(f.Statuses, a.Status)
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
