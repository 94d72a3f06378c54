/*
obligation.go - Obligation deriver

PURPOSE:
  Produces the canonical set of obligations for a confirmed agreement.
  Called once at confirmation; re-derivation after an edit creates a new
  version and the engine deactivates the previous one.

RULES (each only when the field is present and non-zero):
  1. Monthly rent        → rent, monthly, rent start .. lease expiry
  2. CAM monthly         → cam, same cadence and term as rent
  3. HVAC monthly        → hvac, same cadence and term as rent
  4. Security deposit    → security_deposit, one_time at lease commencement
  5. CAM deposit         → cam_deposit, one_time at lease commencement
  6. Escalation          → no obligation; alert.go schedules escalation events
  7. Always (leases)     → electricity, monthly, metered, same term as rent

  License certificates carry no rent or utilities, so rules 1-3 and 7 do
  not apply to them.

ESCALATION:
  Escalation changes the rent going forward, but the rent obligation amount
  is never rewritten here. Applying an escalation is a reviewed, explicit
  action; the engine only raises the alert.
*/
package lease

import "github.com/shopspring/decimal"

// DeriveObligations derives version 1 of an agreement's obligations.
func DeriveObligations(a Agreement) ([]Obligation, error) {
	return DeriveObligationsVersion(a, 1)
}

// DeriveObligationsVersion derives the obligations with IDs for the given version.
// The output never holds two obligations of the same type.
func DeriveObligationsVersion(a Agreement, version int) ([]Obligation, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	if version < 1 {
		version = 1
	}

	start := a.RentStart()
	end := a.LeaseExpiry
	dueDay := a.RentDueDay
	if dueDay == 0 && !start.IsZero() {
		dueDay = start.Day()
	}
	commencement := a.LeaseCommencement
	if commencement.IsZero() {
		commencement = start
	}

	base := Obligation{
		AgreementID: a.ID,
		OrgID:       a.OrgID,
		OutletID:    a.OutletID,
		Active:      true,
		Version:     version,
	}

	recurring := func(t ObligationType, amount decimal.Decimal, metered bool) (Obligation, error) {
		if start.IsZero() {
			return Obligation{}, &InvalidDateError{Field: "rent_commencement_date", Reason: "required for " + string(t)}
		}
		o := base
		o.ID = ObligationIDFor(a.ID, t, version)
		o.Type = t
		o.Frequency = FrequencyMonthly
		o.Amount = amount
		o.Metered = metered
		o.DueDay = dueDay
		o.Start = start
		o.End = end
		return o, nil
	}
	oneTime := func(t ObligationType, amount decimal.Decimal) (Obligation, error) {
		if commencement.IsZero() {
			return Obligation{}, &InvalidDateError{Field: "lease_commencement_date", Reason: "required for " + string(t)}
		}
		o := base
		o.ID = ObligationIDFor(a.ID, t, version)
		o.Type = t
		o.Frequency = FrequencyOneTime
		o.Amount = amount
		o.DueDay = commencement.Day()
		o.Start = commencement
		o.End = commencement
		return o, nil
	}

	var out []Obligation
	add := func(o Obligation, err error) error {
		if err != nil {
			return err
		}
		out = append(out, o)
		return nil
	}

	isLease := a.DocumentType != DocumentLicense

	if isLease && a.MonthlyRent.IsPositive() {
		if err := add(recurring(ObligationRent, a.MonthlyRent, false)); err != nil {
			return nil, err
		}
	}
	if isLease && a.CAMMonthly.IsPositive() {
		if err := add(recurring(ObligationCAM, a.CAMMonthly, false)); err != nil {
			return nil, err
		}
	}
	if isLease && a.HVACMonthly.IsPositive() {
		if err := add(recurring(ObligationHVAC, a.HVACMonthly, false)); err != nil {
			return nil, err
		}
	}
	if a.SecurityDeposit.IsPositive() {
		if err := add(oneTime(ObligationSecurityDeposit, a.SecurityDeposit)); err != nil {
			return nil, err
		}
	}
	if a.CAMDeposit.IsPositive() {
		if err := add(oneTime(ObligationCAMDeposit, a.CAMDeposit)); err != nil {
			return nil, err
		}
	}
	if isLease {
		if err := add(recurring(ObligationElectricity, decimal.Zero, true)); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// =============================================================================
// ESCALATION DATES
// =============================================================================

// EscalationDates returns rent start + k*frequency years for k >= 1 while the
// date is before the lease expiry (and before until, when until is set).
func EscalationDates(a Agreement, until Date) ([]Date, error) {
	if !a.HasEscalation() {
		return nil, &MissingReferenceDateError{AgreementID: a.ID, Type: AlertEscalation, Reason: "no escalation percentage or frequency"}
	}
	base := a.RentStart()
	if base.IsZero() {
		return nil, &MissingReferenceDateError{AgreementID: a.ID, Type: AlertEscalation, Reason: "no rent commencement date"}
	}
	limit := a.LeaseExpiry
	if limit.IsZero() || (!until.IsZero() && until.Before(limit)) {
		limit = until
	}
	if limit.IsZero() {
		return nil, &MissingReferenceDateError{AgreementID: a.ID, Type: AlertEscalation, Reason: "no lease expiry to bound escalations"}
	}

	var dates []Date
	for k := 1; ; k++ {
		d := AddYears(base, k*a.EscalationFrequencyYears)
		if !d.Before(limit) {
			break
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// NextEscalation returns the first escalation date on or after asOf.
func NextEscalation(a Agreement, asOf Date) (Date, error) {
	dates, err := EscalationDates(a, Date{})
	if err != nil {
		return Date{}, err
	}
	for _, d := range dates {
		if d.AfterOrEqual(asOf) {
			return d, nil
		}
	}
	return Date{}, &MissingReferenceDateError{AgreementID: a.ID, Type: AlertEscalation, Reason: "no escalation left before expiry"}
}
