/*
alert.go - Alert scheduler

PURPOSE:
  Computes the alerts that should exist for one agreement as of a date and
  returns only the ones not yet materialized.

REFERENCE DATES:
  | Alert type      | Reference date                              | Lead |
  |-----------------|---------------------------------------------|------|
  | lease_expiry    | lease expiry (leases, franchises)           | 180  |
  | license_expiry  | lease expiry (license certificates)         | 180  |
  | lock_in_expiry  | lock-in end                                 |  90  |
  | escalation      | next rent start + k*frequency >= asOf       |  90  |
  | renewal_window  | lease expiry - renewal window days          |  30  |
  | rent_due        | each open rent payment record's due date    |   7  |
  | cam_due         | each open CAM payment record's due date     |   7  |

  Trigger date = reference date - lead days.

WINDOW:
  An alert is materialized when its trigger date is no later than
  asOf + lookahead and its reference date is no earlier than asOf - lookback.
  A trigger date already in the past is fine (the alert is immediately due);
  an event that happened long ago is not resurrected.

RECONCILIATION:
  Existing holds every alert key already stored, in any status. A key found
  there is never scheduled again, so acknowledged and snoozed alerts stay
  put, and a lead-time change only affects events not yet materialized.
*/
package lease

import (
	"fmt"
	"sort"
	"time"
)

// Window defaults, in days.
const (
	DefaultLookaheadDays     = 365
	DefaultLookbackDays      = 30
	DefaultRenewalWindowDays = 30
)

// =============================================================================
// LEAD TIMES
// =============================================================================

// LeadTimes maps alert type to lead days. Missing types use the defaults.
type LeadTimes map[AlertType]int

// DefaultLeadTimes returns a fresh copy of the default lead times.
func DefaultLeadTimes() LeadTimes {
	return LeadTimes{
		AlertLeaseExpiry:   180,
		AlertLockInExpiry:  90,
		AlertLicenseExpiry: 180,
		AlertEscalation:    90,
		AlertRenewalWindow: 30,
		AlertRentDue:       7,
		AlertCAMDue:        7,
	}
}

// For returns the lead days for t: the override if set, else the default.
func (l LeadTimes) For(t AlertType) int {
	if days, ok := l[t]; ok && days >= 0 {
		return days
	}
	return DefaultLeadTimes()[t]
}

// Resolved fills every missing key from the defaults.
func (l LeadTimes) Resolved() LeadTimes {
	out := DefaultLeadTimes()
	for t, days := range l {
		if days >= 0 {
			out[t] = days
		}
	}
	return out
}

// =============================================================================
// SCHEDULING
// =============================================================================

// Window bounds which alerts get materialized.
type Window struct {
	LookaheadDays int
	LookbackDays  int
}

func (w Window) withDefaults() Window {
	if w.LookaheadDays <= 0 {
		w.LookaheadDays = DefaultLookaheadDays
	}
	if w.LookbackDays <= 0 {
		w.LookbackDays = DefaultLookbackDays
	}
	return w
}

// Contains reports whether an alert with this trigger and reference date is in the window.
func (w Window) Contains(trigger, reference, asOf Date) bool {
	w = w.withDefaults()
	return !trigger.After(asOf.AddDays(w.LookaheadDays)) &&
		!reference.Before(asOf.AddDays(-w.LookbackDays))
}

// ScheduleInput is everything ScheduleAlerts reads for one agreement.
type ScheduleInput struct {
	Agreement   Agreement
	Obligations []Obligation
	Payments    []PaymentRecord
	LeadTimes   LeadTimes
	Window      Window

	// RenewalWindowDays is how long before expiry the renewal window opens.
	RenewalWindowDays int

	AsOf     Date
	Existing map[AlertKey]bool
}

// ScheduleAlerts returns the new alerts for in.Agreement, ordered by trigger
// date, plus one *MissingReferenceDateError per alert type that was skipped.
// Skips are informational; they never fail the caller.
func ScheduleAlerts(in ScheduleInput) ([]Alert, []error) {
	s := scheduler{in: in, seen: make(map[AlertKey]bool)}
	if s.in.RenewalWindowDays <= 0 {
		s.in.RenewalWindowDays = DefaultRenewalWindowDays
	}
	a := in.Agreement

	if a.DocumentType == DocumentLicense {
		s.expiry(AlertLicenseExpiry, "License")
	} else {
		s.expiry(AlertLeaseExpiry, "Lease")
	}

	if a.LockInEnd.IsZero() {
		if a.DocumentType != DocumentLicense {
			s.skip(AlertLockInExpiry, "no lock-in end date")
		}
	} else {
		days := DaysBetween(in.AsOf, a.LockInEnd)
		s.add(AlertLockInExpiry, a.LockInEnd, "", expirySeverity(days),
			"Lock-in period ends "+a.LockInEnd.String(),
			fmt.Sprintf("Lock-in for outlet %s ends on %s (%s). Exit after this date carries no lock-in penalty.",
				a.OutletID, a.LockInEnd, daysPhrase(days)))
	}

	if a.HasEscalation() {
		if next, err := NextEscalation(a, in.AsOf); err != nil {
			s.skipped = append(s.skipped, err)
		} else {
			s.add(AlertEscalation, next, obligationOf(in.Obligations, ObligationRent), SeverityMedium,
				fmt.Sprintf("Rent escalation of %s%% on %s", a.EscalationPercent.String(), next),
				fmt.Sprintf("Rent for outlet %s escalates by %s%% on %s (every %d years). Review the rent obligation amount.",
					a.OutletID, a.EscalationPercent.String(), next, a.EscalationFrequencyYears))
		}
	} else if a.DocumentType != DocumentLicense {
		s.skip(AlertEscalation, "no escalation percentage or frequency")
	}

	if a.LeaseExpiry.IsZero() {
		s.skip(AlertRenewalWindow, "no expiry date")
	} else {
		opens := a.LeaseExpiry.AddDays(-s.in.RenewalWindowDays)
		s.add(AlertRenewalWindow, opens, "", SeverityMedium,
			"Renewal window opens "+opens.String(),
			fmt.Sprintf("Renewal window for outlet %s opens on %s, %d days before expiry on %s.",
				a.OutletID, opens, s.in.RenewalWindowDays, a.LeaseExpiry))
	}

	for _, r := range in.Payments {
		t, ok := dueAlertType(r.Type)
		if !ok || !isOpen(r.Status) {
			continue
		}
		sev := SeverityLow
		if r.Status == PaymentOverdue {
			sev = SeverityHigh
		}
		label := "Rent"
		if t == AlertCAMDue {
			label = "CAM"
		}
		s.add(t, r.DueDate, r.ObligationID, sev,
			fmt.Sprintf("%s due %s", label, r.DueDate),
			fmt.Sprintf("%s for outlet %s, period %s, is due on %s%s.",
				label, a.OutletID, r.Period, r.DueDate, amountPhrase(r)))
	}

	sort.SliceStable(s.out, func(i, j int) bool {
		if !s.out[i].TriggerDate.Equal(s.out[j].TriggerDate) {
			return s.out[i].TriggerDate.Before(s.out[j].TriggerDate)
		}
		return s.out[i].Type < s.out[j].Type
	})
	return s.out, s.skipped
}

type scheduler struct {
	in      ScheduleInput
	seen    map[AlertKey]bool
	out     []Alert
	skipped []error
}

func (s *scheduler) expiry(t AlertType, label string) {
	a := s.in.Agreement
	if a.LeaseExpiry.IsZero() {
		s.skip(t, "no expiry date")
		return
	}
	days := DaysBetween(s.in.AsOf, a.LeaseExpiry)
	s.add(t, a.LeaseExpiry, "", expirySeverity(days),
		fmt.Sprintf("%s expires %s", label, a.LeaseExpiry),
		fmt.Sprintf("%s for outlet %s expires on %s (%s).", label, a.OutletID, a.LeaseExpiry, daysPhrase(days)))
}

func (s *scheduler) add(t AlertType, ref Date, obligation ObligationID, sev Severity, title, msg string) {
	a := s.in.Agreement
	key := AlertKey{AgreementID: a.ID, Type: t, ReferenceDate: ref}
	if s.in.Existing[key] || s.seen[key] {
		return
	}
	lead := s.in.LeadTimes.For(t)
	trigger := ref.AddDays(-lead)
	if !s.in.Window.Contains(trigger, ref, s.in.AsOf) {
		return
	}
	s.seen[key] = true
	s.out = append(s.out, Alert{
		ID:            key.ID(),
		OrgID:         a.OrgID,
		OutletID:      a.OutletID,
		AgreementID:   a.ID,
		ObligationID:  obligation,
		Type:          t,
		Severity:      sev,
		Title:         title,
		Message:       msg,
		TriggerDate:   trigger,
		LeadDays:      lead,
		ReferenceDate: ref,
		Status:        AlertPending,
	})
}

func (s *scheduler) skip(t AlertType, reason string) {
	s.skipped = append(s.skipped, &MissingReferenceDateError{AgreementID: s.in.Agreement.ID, Type: t, Reason: reason})
}

// expirySeverity is high under 30 days remaining, else medium.
func expirySeverity(daysRemaining int) Severity {
	if daysRemaining < 30 {
		return SeverityHigh
	}
	return SeverityMedium
}

func dueAlertType(t ObligationType) (AlertType, bool) {
	switch t {
	case ObligationRent:
		return AlertRentDue, true
	case ObligationCAM:
		return AlertCAMDue, true
	}
	return "", false
}

func isOpen(s PaymentStatus) bool {
	return s == PaymentUpcoming || s == PaymentDue || s == PaymentOverdue || s == PaymentPartiallyPaid
}

func obligationOf(obs []Obligation, t ObligationType) ObligationID {
	for _, o := range obs {
		if o.Type == t && o.Active {
			return o.ID
		}
	}
	return ""
}

func daysPhrase(days int) string {
	switch {
	case days > 1:
		return fmt.Sprintf("%d days remaining", days)
	case days == 1:
		return "1 day remaining"
	case days == 0:
		return "today"
	case days == -1:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", -days)
	}
}

func amountPhrase(r PaymentRecord) string {
	out := r.Outstanding()
	if out == nil {
		return ""
	}
	return ", amount " + out.StringFixed(2)
}

// =============================================================================
// USER ACTIONS
// =============================================================================

// Acknowledge marks the alert handled. Acknowledged is terminal.
func (a *Alert) Acknowledge(at time.Time) error {
	if a.Status == AlertAcknowledged {
		return a.illegal("acknowledge", AlertAcknowledged)
	}
	a.Status = AlertAcknowledged
	a.SnoozedUntil = Date{}
	a.UpdatedAt = at.UTC()
	return nil
}

// Snooze hides the alert until the given date (zero = indefinitely).
// Snoozing a snoozed alert moves its date.
func (a *Alert) Snooze(until Date, at time.Time) error {
	if a.Status == AlertAcknowledged {
		return a.illegal("snooze", AlertSnoozed)
	}
	if !until.IsZero() && !until.After(DateOf(at)) {
		return &InvalidDateError{Field: "snoozed_until", Value: until.String(), Reason: "must be in the future"}
	}
	a.Status = AlertSnoozed
	a.SnoozedUntil = until
	a.UpdatedAt = at.UTC()
	return nil
}

// Visible reports whether the alert should show on the dashboard as of asOf.
func (a Alert) Visible(asOf Date) bool {
	switch a.Status {
	case AlertAcknowledged:
		return false
	case AlertSnoozed:
		return !a.SnoozedUntil.IsZero() && !asOf.Before(a.SnoozedUntil)
	}
	return !a.TriggerDate.After(asOf)
}

func (a *Alert) illegal(action string, to AlertStatus) error {
	return &IllegalStatusTransition{ID: string(a.ID), From: string(a.Status), To: string(to), Action: action}
}
