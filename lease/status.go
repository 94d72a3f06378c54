/*
status.go - Payment status machine

STATES:
  ┌──────────┐  time   ┌─────┐  time   ┌─────────┐
  │ upcoming │───────▶ │ due │───────▶ │ overdue │
  └──────────┘         └─────┘         └─────────┘
        │ pay             │ pay             │ pay
        ▼                 ▼                 ▼
  ┌────────────────┐  pay rest   ┌──────┐
  │ partially_paid │───────────▶ │ paid │  (terminal)
  └────────────────┘             └──────┘

  Paying less than the outstanding amount lands in partially_paid; paying
  the rest (or omitting the amount) lands in paid and stamps PaidAt.
  Payments on a partially_paid record accumulate.

CONFLICTS:
  A transition outside the table returns *IllegalStatusTransition and leaves
  the record exactly as it was. Nothing ever leaves paid.
*/
package lease

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentUpcoming:      {PaymentDue, PaymentPaid, PaymentPartiallyPaid},
	PaymentDue:           {PaymentOverdue, PaymentPaid, PaymentPartiallyPaid},
	PaymentOverdue:       {PaymentPaid, PaymentPartiallyPaid},
	PaymentPartiallyPaid: {PaymentPartiallyPaid, PaymentPaid},
	PaymentPaid:          {},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Outstanding is the unpaid part of the due amount; nil for metered records.
func (r PaymentRecord) Outstanding() *decimal.Decimal {
	if r.DueAmount == nil {
		return nil
	}
	paid := decimal.Zero
	if r.PaidAmount != nil {
		paid = *r.PaidAmount
	}
	rest := r.DueAmount.Sub(paid)
	if rest.IsNegative() {
		rest = decimal.Zero
	}
	return &rest
}

// MarkPaid records a payment of amount (nil = the outstanding amount).
func (r *PaymentRecord) MarkPaid(amount *decimal.Decimal, at time.Time) error {
	if r.Status == PaymentPaid {
		return r.illegal("mark paid", PaymentPaid)
	}

	var pay decimal.Decimal
	switch {
	case amount != nil:
		pay = *amount
	case r.DueAmount != nil:
		pay = *r.Outstanding()
	default:
		return fmt.Errorf("%w: payment %s", ErrAmountRequired, r.ID)
	}
	if !pay.IsPositive() && !(amount == nil && pay.IsZero()) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, pay.String())
	}

	total := pay
	if r.PaidAmount != nil {
		total = r.PaidAmount.Add(pay)
	}

	next := PaymentPaid
	if r.DueAmount != nil && total.LessThan(*r.DueAmount) {
		next = PaymentPartiallyPaid
	}
	if !CanTransition(r.Status, next) {
		return r.illegal("mark paid", next)
	}

	r.Status = next
	r.PaidAmount = decimalPtr(total)
	if next == PaymentPaid {
		t := at.UTC()
		r.PaidAt = &t
	}
	r.UpdatedAt = at.UTC()
	return nil
}

// MarkOverdue moves a due record to overdue.
func (r *PaymentRecord) MarkOverdue(at time.Time) error {
	if !CanTransition(r.Status, PaymentOverdue) {
		return r.illegal("mark overdue", PaymentOverdue)
	}
	r.Status = PaymentOverdue
	r.UpdatedAt = at.UTC()
	return nil
}

// SweepStatus is the status time alone moves the record to as of asOf.
// Only upcoming and due records move: upcoming → due inside the threshold,
// and due → overdue once the due date has passed.
func (r PaymentRecord) SweepStatus(asOf Date, thresholdDays int) PaymentStatus {
	status := r.Status
	if status == PaymentUpcoming && DaysBetween(asOf, r.DueDate) <= thresholdDays {
		status = PaymentDue
	}
	if status == PaymentDue && r.DueDate.Before(asOf) {
		status = PaymentOverdue
	}
	return status
}

func (r *PaymentRecord) illegal(action string, to PaymentStatus) error {
	return &IllegalStatusTransition{
		ID:     string(r.ID),
		From:   string(r.Status),
		To:     string(to),
		Action: action,
	}
}

// =============================================================================
// AGREEMENT LIFECYCLE
// =============================================================================

var agreementTransitions = map[AgreementStatus][]AgreementStatus{
	AgreementDraft:    {AgreementActive},
	AgreementActive:   {AgreementExpiring, AgreementExpired, AgreementRenewed, AgreementTerminated},
	AgreementExpiring: {AgreementActive, AgreementExpired, AgreementRenewed, AgreementTerminated},
}

// CanTransitionAgreement reports whether an agreement may move from → to.
func CanTransitionAgreement(from, to AgreementStatus) bool {
	for _, s := range agreementTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the agreement to status to, or returns
// *IllegalStatusTransition and leaves it unchanged.
func (a *Agreement) Transition(to AgreementStatus, at time.Time) error {
	if !CanTransitionAgreement(a.Status, to) {
		return &IllegalStatusTransition{ID: string(a.ID), From: string(a.Status), To: string(to), Action: "transition agreement"}
	}
	a.Status = to
	a.UpdatedAt = at.UTC()
	return nil
}

// LifecycleStatus is the status time alone moves the agreement to as of asOf:
// expired once the expiry date has passed, expiring within expiringDays of it.
// Draft and closed agreements never move.
func (a Agreement) LifecycleStatus(asOf Date, expiringDays int) AgreementStatus {
	if a.LeaseExpiry.IsZero() || (a.Status != AgreementActive && a.Status != AgreementExpiring) {
		return a.Status
	}
	if asOf.After(a.LeaseExpiry) {
		return AgreementExpired
	}
	if a.Status == AgreementActive && DaysBetween(asOf, a.LeaseExpiry) <= expiringDays {
		return AgreementExpiring
	}
	return a.Status
}
