package lease_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/lease"
)

func alertsByType(alerts []lease.Alert) map[lease.AlertType][]lease.Alert {
	out := make(map[lease.AlertType][]lease.Alert)
	for _, a := range alerts {
		out[a.Type] = append(out[a.Type], a)
	}
	return out
}

func existingKeys(alerts []lease.Alert) map[lease.AlertKey]bool {
	out := make(map[lease.AlertKey]bool, len(alerts))
	for _, a := range alerts {
		out[a.Key()] = true
	}
	return out
}

// =============================================================================
// END-TO-END SCENARIO
// =============================================================================

func TestScheduleAlerts_LeaseExpiry_ImmediatelyDue_Medium(t *testing.T) {
	// GIVEN: Lease expiring 2026-04-01, lock-in ended 2025-04-01
	// WHEN: Scheduling with default lead times as of 2026-02-22
	// THEN: lease_expiry triggered 2025-10-03 (already past), 38 days left → medium

	asOf := day("2026-02-22")
	alerts, skipped := lease.ScheduleAlerts(lease.ScheduleInput{
		Agreement: sampleAgreement(),
		AsOf:      asOf,
	})

	got := alertsByType(alerts)
	require.Len(t, got[lease.AlertLeaseExpiry], 1)
	exp := got[lease.AlertLeaseExpiry][0]
	assert.Equal(t, "2026-04-01", exp.ReferenceDate.String())
	assert.Equal(t, 180, exp.LeadDays)
	assert.Equal(t, "2025-10-03", exp.TriggerDate.String())
	assert.True(t, exp.TriggerDate.BeforeOrEqual(asOf))
	assert.Equal(t, lease.SeverityMedium, exp.Severity)
	assert.Equal(t, lease.AlertPending, exp.Status)
	assert.Equal(t, lease.AlertKey{AgreementID: "agr-1", Type: lease.AlertLeaseExpiry, ReferenceDate: day("2026-04-01")}.ID(), exp.ID)
	assert.Equal(t, lease.AlertID("alt-agr-1-lease_expiry-20260401"), exp.ID)
	assert.Equal(t, "org-1", exp.OrgID)
	assert.Equal(t, "out-1", exp.OutletID)

	// The lock-in ended almost a year ago; it is not resurrected
	assert.Empty(t, got[lease.AlertLockInExpiry])

	// Renewal window opens 30 days before expiry
	require.Len(t, got[lease.AlertRenewalWindow], 1)
	assert.Equal(t, "2026-03-02", got[lease.AlertRenewalWindow][0].ReferenceDate.String())
	assert.Equal(t, "2026-01-31", got[lease.AlertRenewalWindow][0].TriggerDate.String())

	// No escalation falls before expiry: skipped, not failed
	require.Len(t, skipped, 1)
	var me *lease.MissingReferenceDateError
	require.ErrorAs(t, skipped[0], &me)
	assert.Equal(t, lease.AlertEscalation, me.Type)
}

func TestScheduleAlerts_ExpirySeverityBoundary(t *testing.T) {
	sev := func(asOf string) lease.Severity {
		alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{Agreement: sampleAgreement(), AsOf: day(asOf)})
		return alertsByType(alerts)[lease.AlertLeaseExpiry][0].Severity
	}
	assert.Equal(t, lease.SeverityMedium, sev("2026-03-02"), "30 days remaining")
	assert.Equal(t, lease.SeverityHigh, sev("2026-03-03"), "29 days remaining")
}

// =============================================================================
// RECONCILIATION
// =============================================================================

func TestScheduleAlerts_SecondRun_NoDuplicates(t *testing.T) {
	in := lease.ScheduleInput{Agreement: sampleAgreement(), AsOf: day("2026-02-22")}
	first, _ := lease.ScheduleAlerts(in)
	require.NotEmpty(t, first)

	in.Existing = existingKeys(first)
	second, _ := lease.ScheduleAlerts(in)
	assert.Empty(t, second)
}

func TestScheduleAlerts_LeadTimeChange_DoesNotResurrect(t *testing.T) {
	// GIVEN: The lease_expiry alert already exists (acknowledged, say)
	in := lease.ScheduleInput{Agreement: sampleAgreement(), AsOf: day("2026-02-22")}
	first, _ := lease.ScheduleAlerts(in)
	in.Existing = existingKeys(first)

	// WHEN: The organization changes the lead time
	in.LeadTimes = lease.LeadTimes{lease.AlertLeaseExpiry: 200}
	second, _ := lease.ScheduleAlerts(in)

	// THEN: No second lease_expiry alert for the same event
	assert.Empty(t, alertsByType(second)[lease.AlertLeaseExpiry])
}

func TestScheduleAlerts_LeadTimeOverride(t *testing.T) {
	alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{
		Agreement: sampleAgreement(),
		AsOf:      day("2026-02-22"),
		LeadTimes: lease.LeadTimes{lease.AlertLeaseExpiry: 60},
	})
	exp := alertsByType(alerts)[lease.AlertLeaseExpiry][0]
	assert.Equal(t, 60, exp.LeadDays)
	assert.Equal(t, "2026-01-31", exp.TriggerDate.String())
}

// =============================================================================
// REFERENCE DATE SOURCES
// =============================================================================

func TestScheduleAlerts_NextEscalation(t *testing.T) {
	// GIVEN: A long lease with 3-yearly escalation from 2024-12-04
	a := sampleAgreement()
	a.LeaseExpiry = day("2033-12-03")

	alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{Agreement: a, AsOf: day("2027-09-01")})

	esc := alertsByType(alerts)[lease.AlertEscalation]
	require.Len(t, esc, 1)
	assert.Equal(t, "2027-12-04", esc[0].ReferenceDate.String())
	assert.Equal(t, "2027-09-05", esc[0].TriggerDate.String())
	assert.Equal(t, lease.SeverityMedium, esc[0].Severity)
}

func TestScheduleAlerts_License(t *testing.T) {
	a := lease.Agreement{
		ID:                "lic-1",
		OrgID:             "org-1",
		DocumentType:      lease.DocumentLicense,
		LeaseCommencement: day("2025-01-01"),
		LeaseExpiry:       day("2026-06-30"),
	}
	alerts, skipped := lease.ScheduleAlerts(lease.ScheduleInput{Agreement: a, AsOf: day("2026-02-22")})

	got := alertsByType(alerts)
	assert.Len(t, got[lease.AlertLicenseExpiry], 1)
	assert.Empty(t, got[lease.AlertLeaseExpiry])
	assert.Empty(t, skipped, "licenses have no lock-in or escalation to skip")
}

func TestScheduleAlerts_OutsideLookahead(t *testing.T) {
	a := sampleAgreement()
	a.LeaseExpiry = day("2030-01-01")
	a.LockInEnd = lease.Date{}
	alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{Agreement: a, AsOf: day("2026-02-22")})
	assert.Empty(t, alertsByType(alerts)[lease.AlertLeaseExpiry])
}

func TestScheduleAlerts_PaymentDue(t *testing.T) {
	// GIVEN: An upcoming rent record, an overdue CAM record, and paid/metered records
	rent := dueRecord(lease.PaymentUpcoming)
	rent.ObligationID = "obl-agr-1-rent"
	rent.DueDate = day("2026-03-04")

	cam := dueRecord(lease.PaymentOverdue)
	cam.ID = "pay-obl-agr-1-cam-2026-02"
	cam.ObligationID = "obl-agr-1-cam"
	cam.Type = lease.ObligationCAM
	cam.DueDate = day("2026-02-04")

	paid := dueRecord(lease.PaymentPaid)
	paid.DueDate = day("2026-02-04")

	elec := lease.PaymentRecord{ID: "pay-elec", Type: lease.ObligationElectricity, Status: lease.PaymentDue, DueDate: day("2026-03-04")}

	alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{
		Agreement: sampleAgreement(),
		Payments:  []lease.PaymentRecord{rent, cam, paid, elec},
		AsOf:      day("2026-02-22"),
	})
	got := alertsByType(alerts)

	// THEN: One rent_due for March (low), one cam_due for the overdue February (high)
	require.Len(t, got[lease.AlertRentDue], 1)
	assert.Equal(t, "2026-03-04", got[lease.AlertRentDue][0].ReferenceDate.String())
	assert.Equal(t, "2026-02-25", got[lease.AlertRentDue][0].TriggerDate.String())
	assert.Equal(t, lease.SeverityLow, got[lease.AlertRentDue][0].Severity)
	assert.Equal(t, lease.ObligationID("obl-agr-1-rent"), got[lease.AlertRentDue][0].ObligationID)

	require.Len(t, got[lease.AlertCAMDue], 1)
	assert.Equal(t, lease.SeverityHigh, got[lease.AlertCAMDue][0].Severity)
}

func TestScheduleAlerts_SortedByTrigger(t *testing.T) {
	alerts, _ := lease.ScheduleAlerts(lease.ScheduleInput{Agreement: sampleAgreement(), AsOf: day("2026-02-22")})
	for i := 1; i < len(alerts); i++ {
		assert.False(t, alerts[i].TriggerDate.Before(alerts[i-1].TriggerDate))
	}
}

func TestLeadTimes_Resolved(t *testing.T) {
	lt := lease.LeadTimes{lease.AlertLeaseExpiry: 120}.Resolved()
	assert.Equal(t, 120, lt[lease.AlertLeaseExpiry])
	assert.Equal(t, 90, lt[lease.AlertLockInExpiry])
	assert.Equal(t, 7, lt[lease.AlertRentDue])

	var none lease.LeadTimes
	assert.Equal(t, 180, none.For(lease.AlertLeaseExpiry))
}

// =============================================================================
// ACKNOWLEDGE / SNOOZE
// =============================================================================

func TestAlert_AcknowledgeAndSnooze(t *testing.T) {
	now := time.Date(2026, time.February, 22, 9, 0, 0, 0, time.UTC)
	a := lease.Alert{ID: "alt-1", Status: lease.AlertPending, TriggerDate: day("2026-02-01")}
	assert.True(t, a.Visible(day("2026-02-22")))

	require.NoError(t, a.Snooze(day("2026-03-01"), now))
	assert.Equal(t, lease.AlertSnoozed, a.Status)
	assert.False(t, a.Visible(day("2026-02-28")))
	assert.True(t, a.Visible(day("2026-03-01")))

	err := a.Snooze(day("2026-02-22"), now)
	assert.ErrorIs(t, err, lease.ErrInvalidDate, "snooze date must be in the future")

	require.NoError(t, a.Acknowledge(now))
	assert.Equal(t, lease.AlertAcknowledged, a.Status)
	assert.True(t, a.SnoozedUntil.IsZero())
	assert.False(t, a.Visible(day("2026-03-01")))

	assert.ErrorIs(t, a.Acknowledge(now), lease.ErrIllegalTransition)
	assert.ErrorIs(t, a.Snooze(day("2026-04-01"), now), lease.ErrIllegalTransition)
}
