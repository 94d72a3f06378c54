package lease_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/lease"
)

var paidAt = time.Date(2026, time.February, 22, 10, 0, 0, 0, time.UTC)

func dueRecord(status lease.PaymentStatus) lease.PaymentRecord {
	due := amount(53460)
	return lease.PaymentRecord{
		ID:        "pay-obl-agr-1-rent-2026-02",
		Type:      lease.ObligationRent,
		DueDate:   day("2026-02-04"),
		DueAmount: &due,
		Status:    status,
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// =============================================================================
// MARK PAID
// =============================================================================

func TestMarkPaid_PartialAmount_PartiallyPaid(t *testing.T) {
	// GIVEN: A due record for 53,460
	// WHEN: Marking it paid with 30,000
	// THEN: partially_paid, not paid, and no paid timestamp

	r := dueRecord(lease.PaymentDue)
	require.NoError(t, r.MarkPaid(ptr(amount(30000)), paidAt))

	assert.Equal(t, lease.PaymentPartiallyPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(30000)))
	assert.Nil(t, r.PaidAt)
	assert.True(t, r.Outstanding().Equal(amount(23460)))
}

func TestMarkPaid_PartialThenRest_Paid(t *testing.T) {
	r := dueRecord(lease.PaymentDue)
	require.NoError(t, r.MarkPaid(ptr(amount(30000)), paidAt))
	require.NoError(t, r.MarkPaid(ptr(amount(10000)), paidAt))
	assert.Equal(t, lease.PaymentPartiallyPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(40000)))

	// Omitting the amount pays what is outstanding
	require.NoError(t, r.MarkPaid(nil, paidAt))
	assert.Equal(t, lease.PaymentPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(53460)))
	require.NotNil(t, r.PaidAt)
	assert.Equal(t, paidAt, *r.PaidAt)
}

func TestMarkPaid_NoAmount_DefaultsToDue(t *testing.T) {
	r := dueRecord(lease.PaymentUpcoming)
	require.NoError(t, r.MarkPaid(nil, paidAt))
	assert.Equal(t, lease.PaymentPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(53460)))
}

func TestMarkPaid_Overpayment_Paid(t *testing.T) {
	r := dueRecord(lease.PaymentOverdue)
	require.NoError(t, r.MarkPaid(ptr(amount(60000)), paidAt))
	assert.Equal(t, lease.PaymentPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(60000)))
}

func TestMarkPaid_AlreadyPaid_ConflictAndUnchanged(t *testing.T) {
	// GIVEN: A paid record
	r := dueRecord(lease.PaymentDue)
	require.NoError(t, r.MarkPaid(nil, paidAt))
	before := r

	// WHEN: Marking it paid again later with a different amount
	err := r.MarkPaid(ptr(amount(1)), paidAt.Add(48*time.Hour))

	// THEN: Conflict, and the paid amount and timestamp are untouched
	var it *lease.IllegalStatusTransition
	require.ErrorAs(t, err, &it)
	assert.ErrorIs(t, err, lease.ErrIllegalTransition)
	assert.True(t, lease.IsConflict(err))
	assert.Equal(t, "paid", it.From)
	assert.Equal(t, before, r)
}

func TestMarkPaid_Metered_RequiresAmount(t *testing.T) {
	r := lease.PaymentRecord{ID: "pay-elec", Type: lease.ObligationElectricity, Status: lease.PaymentDue}

	err := r.MarkPaid(nil, paidAt)
	assert.ErrorIs(t, err, lease.ErrAmountRequired)
	assert.Equal(t, lease.PaymentDue, r.Status)

	require.NoError(t, r.MarkPaid(ptr(amount(4200)), paidAt))
	assert.Equal(t, lease.PaymentPaid, r.Status)
	assert.True(t, r.PaidAmount.Equal(amount(4200)))
}

func TestMarkPaid_NonPositiveAmount(t *testing.T) {
	r := dueRecord(lease.PaymentDue)
	err := r.MarkPaid(ptr(amount(-5)), paidAt)
	assert.ErrorIs(t, err, lease.ErrInvalidAmount)
	assert.True(t, lease.IsClientError(err))
	assert.Equal(t, lease.PaymentDue, r.Status)
	assert.Nil(t, r.PaidAmount)
}

// =============================================================================
// MARK OVERDUE AND SWEEP
// =============================================================================

func TestMarkOverdue_OnlyFromDue(t *testing.T) {
	r := dueRecord(lease.PaymentDue)
	require.NoError(t, r.MarkOverdue(paidAt))
	assert.Equal(t, lease.PaymentOverdue, r.Status)

	// overdue → paid is allowed
	require.NoError(t, r.MarkPaid(nil, paidAt))
	assert.Equal(t, lease.PaymentPaid, r.Status)

	for _, s := range []lease.PaymentStatus{lease.PaymentUpcoming, lease.PaymentOverdue, lease.PaymentPaid, lease.PaymentPartiallyPaid} {
		r := dueRecord(s)
		err := r.MarkOverdue(paidAt)
		assert.ErrorIs(t, err, lease.ErrIllegalTransition, "from %s", s)
		assert.Equal(t, s, r.Status)
	}
}

func TestSweepStatus(t *testing.T) {
	cases := []struct {
		status lease.PaymentStatus
		due    string
		asOf   string
		want   lease.PaymentStatus
	}{
		{lease.PaymentUpcoming, "2026-03-04", "2026-02-22", lease.PaymentUpcoming},
		{lease.PaymentUpcoming, "2026-03-01", "2026-02-22", lease.PaymentDue},
		{lease.PaymentUpcoming, "2026-02-04", "2026-02-22", lease.PaymentOverdue},
		{lease.PaymentDue, "2026-02-22", "2026-02-22", lease.PaymentDue},
		{lease.PaymentDue, "2026-02-21", "2026-02-22", lease.PaymentOverdue},
		{lease.PaymentPaid, "2026-01-04", "2026-02-22", lease.PaymentPaid},
		{lease.PaymentPartiallyPaid, "2026-01-04", "2026-02-22", lease.PaymentPartiallyPaid},
		{lease.PaymentOverdue, "2026-01-04", "2026-02-22", lease.PaymentOverdue},
	}
	for _, tc := range cases {
		r := dueRecord(tc.status)
		r.DueDate = day(tc.due)
		assert.Equal(t, tc.want, r.SweepStatus(day(tc.asOf), 7), "%s due %s as of %s", tc.status, tc.due, tc.asOf)
	}
}

func TestCanTransition_NothingLeavesPaid(t *testing.T) {
	for _, to := range []lease.PaymentStatus{lease.PaymentUpcoming, lease.PaymentDue, lease.PaymentOverdue, lease.PaymentPartiallyPaid, lease.PaymentPaid} {
		assert.False(t, lease.CanTransition(lease.PaymentPaid, to), "paid -> %s", to)
	}
	assert.True(t, lease.CanTransition(lease.PaymentPartiallyPaid, lease.PaymentPaid))
	assert.False(t, lease.CanTransition(lease.PaymentDue, lease.PaymentUpcoming))
}

// =============================================================================
// AGREEMENT LIFECYCLE
// =============================================================================

func TestAgreementTransition(t *testing.T) {
	a := sampleAgreement()
	a.Status = lease.AgreementDraft

	err := a.Transition(lease.AgreementExpired, paidAt)
	assert.ErrorIs(t, err, lease.ErrIllegalTransition)
	assert.Equal(t, lease.AgreementDraft, a.Status)

	require.NoError(t, a.Transition(lease.AgreementActive, paidAt))
	require.NoError(t, a.Transition(lease.AgreementExpiring, paidAt))
	require.NoError(t, a.Transition(lease.AgreementActive, paidAt))
	require.NoError(t, a.Transition(lease.AgreementTerminated, paidAt))
	assert.True(t, a.Status.IsClosed())

	err = a.Transition(lease.AgreementActive, paidAt)
	assert.ErrorIs(t, err, lease.ErrIllegalTransition)
}

func TestLifecycleStatus(t *testing.T) {
	a := sampleAgreement() // expires 2026-04-01

	assert.Equal(t, lease.AgreementActive, a.LifecycleStatus(day("2025-12-01"), 90))
	assert.Equal(t, lease.AgreementExpiring, a.LifecycleStatus(day("2026-01-01"), 90))
	assert.Equal(t, lease.AgreementActive, a.LifecycleStatus(day("2026-03-31"), 0))
	assert.Equal(t, lease.AgreementExpiring, a.LifecycleStatus(day("2026-04-01"), 0))
	assert.Equal(t, lease.AgreementExpired, a.LifecycleStatus(day("2026-04-02"), 90))

	a.Status = lease.AgreementTerminated
	assert.Equal(t, lease.AgreementTerminated, a.LifecycleStatus(day("2026-04-02"), 90))
}
