/*
payment.go - Payment period generator

PURPOSE:
  Materializes one payment record per obligation period up to a horizon.

WALK:
  Periods sit on a grid of the obligation's cadence (1, 3 or 12 months)
  starting at the first due date on or after the obligation start. Each
  period's due date is the obligation's due day in that month, clamped to
  month end. Generation starts at the later of the first period and the
  period after the last one already materialized, and stops at
  asOf + horizon or the obligation end, whichever comes first.

  A one-time obligation yields exactly one record, regardless of horizon,
  if none exists yet.

IDEMPOTENCE:
  GeneratePeriods is pure and never returns a period listed in existing.
  That alone is not enough under concurrent runs, so the store's insert is
  also insert-if-not-exists on (obligation, period). Regeneration never
  touches an existing record's amount or status.
*/
package lease

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Defaults used when a PeriodPlan field is zero.
const (
	DefaultHorizonMonths    = 12
	DefaultDueThresholdDays = 7
)

// PeriodPlan configures a generation pass.
type PeriodPlan struct {
	// HorizonMonths is how far past asOf to materialize periods.
	HorizonMonths int

	// DueThresholdDays: a new record due within this many days starts as "due".
	DueThresholdDays int
}

func (p PeriodPlan) withDefaults() PeriodPlan {
	if p.HorizonMonths <= 0 {
		p.HorizonMonths = DefaultHorizonMonths
	}
	if p.DueThresholdDays <= 0 {
		p.DueThresholdDays = DefaultDueThresholdDays
	}
	return p
}

// GeneratePeriods returns the payment records still missing for ob.
// existing holds the periods already materialized for this obligation.
func GeneratePeriods(ob Obligation, existing []PeriodKey, asOf Date, plan PeriodPlan) ([]PaymentRecord, error) {
	if !ob.Active {
		return nil, nil
	}
	if ob.Start.IsZero() {
		return nil, &InvalidDateError{Field: "obligation.start", Reason: "missing for " + string(ob.ID)}
	}
	if asOf.IsZero() {
		return nil, &InvalidDateError{Field: "as_of", Reason: "missing"}
	}
	if !ob.Frequency.Valid() {
		return nil, &InvalidDateError{Field: "frequency", Value: string(ob.Frequency), Reason: "unknown frequency"}
	}
	plan = plan.withDefaults()

	have := make(map[PeriodKey]bool, len(existing))
	for _, k := range existing {
		have[k] = true
	}

	if !ob.Frequency.IsRecurring() {
		if len(existing) > 0 {
			return nil, nil
		}
		return []PaymentRecord{newRecord(ob, PeriodKeyOf(ob.Start), ob.Start, asOf, plan)}, nil
	}

	step := ob.Frequency.Months()
	first := PeriodKeyOf(ob.Start)
	if ob.dueDateIn(first).Before(ob.Start) {
		first = first.AddMonths(step)
	}

	from := first
	if last, ok := lastPeriod(existing); ok {
		if next := last.AddMonths(step); from.Before(next) {
			from = next
		}
	}

	horizon := asOf.AddMonths(plan.HorizonMonths)
	var out []PaymentRecord
	for k := from; ; k = k.AddMonths(step) {
		due := ob.dueDateIn(k)
		if due.After(horizon) {
			break
		}
		if !ob.End.IsZero() && due.After(ob.End) {
			break
		}
		if have[k] {
			continue
		}
		out = append(out, newRecord(ob, k, due, asOf, plan))
	}
	return out, nil
}

// InitialStatus is "upcoming" when the due date is more than thresholdDays
// after asOf, else "due".
func InitialStatus(due, asOf Date, thresholdDays int) PaymentStatus {
	if DaysBetween(asOf, due) > thresholdDays {
		return PaymentUpcoming
	}
	return PaymentDue
}

// dueDateIn is the obligation's due day inside the period's month.
func (o Obligation) dueDateIn(k PeriodKey) Date {
	day := o.DueDay
	if day == 0 {
		day = o.Start.Day()
	}
	return DayInMonth(k.Year, k.Month, day)
}

func newRecord(ob Obligation, k PeriodKey, due, asOf Date, plan PeriodPlan) PaymentRecord {
	r := PaymentRecord{
		ID:           PaymentIDFor(ob.ID, k),
		ObligationID: ob.ID,
		AgreementID:  ob.AgreementID,
		OutletID:     ob.OutletID,
		Type:         ob.Type,
		Period:       k,
		DueDate:      due,
		Status:       InitialStatus(due, asOf, plan.DueThresholdDays),
	}
	if !ob.Metered {
		amount := ob.Amount
		r.DueAmount = &amount
	}
	return r
}

func lastPeriod(keys []PeriodKey) (PeriodKey, bool) {
	if len(keys) == 0 {
		return PeriodKey{}, false
	}
	sorted := append([]PeriodKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	return sorted[len(sorted)-1], true
}

// decimalPtr copies d for nullable amount fields.
func decimalPtr(d decimal.Decimal) *decimal.Decimal { return &d }
