/*
Package lease provides the obligation, payment-period, and alert engine for a
lease portfolio.

PURPOSE:
  Turns a confirmed agreement's terms (commencement dates, rent, escalation,
  lock-in, deposits) into recurring obligations, a rolling calendar of
  payment records, and time-triggered alerts. Every derivation takes an
  explicit asOf date, so the same persisted state and the same date always
  produce the same result.

KEY CONCEPTS IN THIS FILE (types.go):
  - Agreement: A confirmed lease, license, or franchise document
  - Obligation: A recurring or one-time commitment derived from an agreement
  - PaymentRecord: One dated occurrence of an obligation
  - Alert: A notification that fires lead days before a reference event

DATA FLOW:
  Agreement (confirmed)
      │
      ▼
  DeriveObligations ──▶ Obligations ──┬──▶ GeneratePeriods ──▶ PaymentRecords
                                      │
                                      └──▶ ScheduleAlerts ───▶ Alerts
  Alerts also derive directly from agreement dates (expiry, lock-in end).

IDEMPOTENCE:
  Obligations, payment records, and alerts all carry deterministic IDs and
  natural keys:
    - Obligation:    (agreement, type, derivation version)
    - PaymentRecord: (obligation, period year, period month)
    - Alert:         (agreement, type, reference date)
  Stores enforce those keys with insert-if-not-exists, so re-running any
  step converges on the same records.

SEE ALSO:
  - calendar.go: Date arithmetic and recurrence
  - obligation.go: Obligation deriver
  - payment.go: Payment period generator
  - status.go: Payment status machine
  - alert.go: Alert scheduler
  - engine.go: Orchestration over a Store
*/
package lease

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AgreementID string
type ObligationID string
type PaymentID string
type AlertID string

// =============================================================================
// AGREEMENT
// =============================================================================

type AgreementStatus string

const (
	AgreementDraft      AgreementStatus = "draft"
	AgreementActive     AgreementStatus = "active"
	AgreementExpiring   AgreementStatus = "expiring"
	AgreementExpired    AgreementStatus = "expired"
	AgreementRenewed    AgreementStatus = "renewed"
	AgreementTerminated AgreementStatus = "terminated"
)

// IsClosed reports whether obligations of an agreement in this status must be inactive.
func (s AgreementStatus) IsClosed() bool {
	return s == AgreementExpired || s == AgreementRenewed || s == AgreementTerminated
}

type DocumentType string

const (
	DocumentLease     DocumentType = "lease_loi"
	DocumentLicense   DocumentType = "license_certificate"
	DocumentFranchise DocumentType = "franchise_agreement"
)

// Agreement is a confirmed lease/license/franchise document.
// Money fields are zero when the document does not state them.
type Agreement struct {
	ID           AgreementID
	OrgID        string
	OutletID     string
	DocumentType DocumentType
	Status       AgreementStatus

	LeaseCommencement Date
	RentCommencement  Date
	LeaseExpiry       Date
	LockInEnd         Date

	MonthlyRent     decimal.Decimal
	CAMMonthly      decimal.Decimal
	HVACMonthly     decimal.Decimal
	SecurityDeposit decimal.Decimal
	CAMDeposit      decimal.Decimal

	EscalationPercent        decimal.Decimal
	EscalationFrequencyYears int

	// RentDueDay is the day of month rent falls due (0 = the start date's day).
	RentDueDay int

	// SupersedesID links a renewal to the agreement it replaced.
	SupersedesID AgreementID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RentStart is the recurrence start: rent commencement, else lease commencement.
func (a Agreement) RentStart() Date {
	if !a.RentCommencement.IsZero() {
		return a.RentCommencement
	}
	return a.LeaseCommencement
}

// HasEscalation reports whether the agreement schedules rent escalations.
func (a Agreement) HasEscalation() bool {
	return a.EscalationPercent.IsPositive() && a.EscalationFrequencyYears > 0
}

// Validate checks the date invariants: rent commencement is on or after lease
// commencement, and lease expiry is after rent commencement.
func (a Agreement) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidAgreement)
	}
	if !a.RentCommencement.IsZero() && !a.LeaseCommencement.IsZero() &&
		a.RentCommencement.Before(a.LeaseCommencement) {
		return &InvalidDateError{
			Field:  "rent_commencement_date",
			Value:  a.RentCommencement.String(),
			Reason: "before lease commencement " + a.LeaseCommencement.String(),
		}
	}
	if start := a.RentStart(); !a.LeaseExpiry.IsZero() && !start.IsZero() && !a.LeaseExpiry.After(start) {
		return &InvalidDateError{
			Field:  "lease_expiry_date",
			Value:  a.LeaseExpiry.String(),
			Reason: "not after rent commencement " + start.String(),
		}
	}
	if a.RentDueDay < 0 || a.RentDueDay > 31 {
		return &InvalidDateError{Field: "rent_due_day", Value: fmt.Sprint(a.RentDueDay), Reason: "must be 1-31"}
	}
	return nil
}

// =============================================================================
// OBLIGATION
// =============================================================================

type ObligationType string

const (
	ObligationRent            ObligationType = "rent"
	ObligationCAM             ObligationType = "cam"
	ObligationHVAC            ObligationType = "hvac"
	ObligationElectricity     ObligationType = "electricity"
	ObligationSecurityDeposit ObligationType = "security_deposit"
	ObligationCAMDeposit      ObligationType = "cam_deposit"
	ObligationLicenseRenewal  ObligationType = "license_renewal"
)

// Obligation is a recurring financial commitment derived from one agreement.
// Metered obligations (electricity) carry no fixed amount.
type Obligation struct {
	ID          ObligationID
	AgreementID AgreementID
	OrgID       string
	OutletID    string
	Type        ObligationType
	Frequency   Frequency
	Amount      decimal.Decimal
	Metered     bool
	DueDay      int
	Start       Date
	End         Date
	Active      bool
	Version     int
	CreatedAt   time.Time
}

// ObligationIDFor is the deterministic obligation identifier.
func ObligationIDFor(agreementID AgreementID, t ObligationType, version int) ObligationID {
	if version <= 1 {
		return ObligationID(fmt.Sprintf("obl-%s-%s", agreementID, t))
	}
	return ObligationID(fmt.Sprintf("obl-%s-%s-v%d", agreementID, t, version))
}

// =============================================================================
// PAYMENT RECORD
// =============================================================================

type PaymentStatus string

const (
	PaymentUpcoming      PaymentStatus = "upcoming"
	PaymentDue           PaymentStatus = "due"
	PaymentPaid          PaymentStatus = "paid"
	PaymentOverdue       PaymentStatus = "overdue"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
)

// PaymentRecord is one concrete occurrence of an obligation.
// DueAmount is nil for metered obligations.
type PaymentRecord struct {
	ID           PaymentID
	ObligationID ObligationID
	AgreementID  AgreementID
	OutletID     string
	Type         ObligationType
	Period       PeriodKey
	DueDate      Date
	DueAmount    *decimal.Decimal
	Status       PaymentStatus
	PaidAmount   *decimal.Decimal
	PaidAt       *time.Time
	Notes        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PaymentIDFor is the deterministic payment record identifier.
func PaymentIDFor(obligationID ObligationID, period PeriodKey) PaymentID {
	return PaymentID(fmt.Sprintf("pay-%s-%04d-%02d", obligationID, period.Year, int(period.Month)))
}

// =============================================================================
// ALERT
// =============================================================================

type AlertType string

const (
	AlertRentDue       AlertType = "rent_due"
	AlertCAMDue        AlertType = "cam_due"
	AlertEscalation    AlertType = "escalation"
	AlertLeaseExpiry   AlertType = "lease_expiry"
	AlertLicenseExpiry AlertType = "license_expiry"
	AlertLockInExpiry  AlertType = "lock_in_expiry"
	AlertRenewalWindow AlertType = "renewal_window"
	AlertCustom        AlertType = "custom"
)

type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
	SeverityInfo   Severity = "info"
)

type AlertStatus string

const (
	AlertPending      AlertStatus = "pending"
	AlertSent         AlertStatus = "sent"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertSnoozed      AlertStatus = "snoozed"
)

// Alert is a time-triggered notification. TriggerDate = ReferenceDate - LeadDays.
type Alert struct {
	ID            AlertID
	OrgID         string
	OutletID      string
	AgreementID   AgreementID
	ObligationID  ObligationID
	Type          AlertType
	Severity      Severity
	Title         string
	Message       string
	TriggerDate   Date
	LeadDays      int
	ReferenceDate Date
	Status        AlertStatus
	SnoozedUntil  Date
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlertKey is the logical event an alert stands for.
type AlertKey struct {
	AgreementID   AgreementID
	Type          AlertType
	ReferenceDate Date
}

func (a Alert) Key() AlertKey {
	return AlertKey{AgreementID: a.AgreementID, Type: a.Type, ReferenceDate: a.ReferenceDate}
}

// ID is the deterministic alert identifier for the key.
func (k AlertKey) ID() AlertID {
	return AlertID(fmt.Sprintf("alt-%s-%s-%s", k.AgreementID, k.Type, k.ReferenceDate.Time.Format("20060102")))
}
