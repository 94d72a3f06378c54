package extraction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/grospace/lease-engine/lease"
)

// Identity carries the identifiers the extraction itself does not know.
type Identity struct {
	AgreementID lease.AgreementID
	OrgID       string
	OutletID    string
}

// Result is a normalized draft agreement.
type Result struct {
	Agreement lease.Agreement

	// Unresolved holds present fields that could not be used, such as a
	// commencement date given as a formula. The user resolves them before
	// confirming.
	Unresolved []error
}

// ParseDocumentType maps the classifier's label to a document type.
func ParseDocumentType(s string) (lease.DocumentType, error) {
	switch lease.DocumentType(strings.ToLower(strings.TrimSpace(s))) {
	case "", lease.DocumentLease, "lease":
		return lease.DocumentLease, nil
	case lease.DocumentLicense, "license":
		return lease.DocumentLicense, nil
	case lease.DocumentFranchise, "franchise":
		return lease.DocumentFranchise, nil
	}
	return "", fmt.Errorf("%w: unknown document type %q", lease.ErrInvalidAgreement, s)
}

// Normalize maps an extraction onto a draft agreement.
func Normalize(e Extraction, docType lease.DocumentType, id Identity) Result {
	n := &normalizer{e: e}
	a := lease.Agreement{
		ID:           id.AgreementID,
		OrgID:        id.OrgID,
		OutletID:     id.OutletID,
		DocumentType: docType,
		Status:       lease.AgreementDraft,
	}

	if docType == lease.DocumentLicense {
		a.LeaseCommencement = n.date("valid_from")
		if a.LeaseCommencement.IsZero() {
			a.LeaseCommencement = n.date("date_of_issue")
		}
		a.LeaseExpiry = n.date("valid_to")
		return Result{Agreement: a, Unresolved: n.unresolved}
	}

	a.LeaseCommencement = n.date("lease_commencement_date")
	a.RentCommencement = n.date("rent_commencement_date")
	a.LeaseExpiry = n.date("lease_expiry_date")
	if a.LeaseExpiry.IsZero() && !a.LeaseCommencement.IsZero() {
		if years, ok := n.number("lease_term_years"); ok && years.IsPositive() {
			months := int(years.Mul(decimal.NewFromInt(12)).Round(0).IntPart())
			a.LeaseExpiry = a.LeaseCommencement.AddMonths(months).AddDays(-1)
		}
	}

	a.LockInEnd = n.date("lock_in_end_date")
	if a.LockInEnd.IsZero() && !a.LeaseCommencement.IsZero() {
		if months, ok := n.integer("lock_in_months"); ok && months > 0 {
			a.LockInEnd = a.LeaseCommencement.AddMonths(months)
		}
	}

	a.MonthlyRent = n.monthlyRent()
	if day, ok := n.integer("mglr_payment_day"); ok {
		if day >= 1 && day <= 31 {
			a.RentDueDay = day
		} else {
			n.reject("mglr_payment_day", fmt.Sprint(day), "must be 1-31")
		}
	}

	area := n.area()
	if cam, ok := n.number("cam_monthly"); ok {
		a.CAMMonthly = cam
	} else if rate, ok := n.number("cam_rate_per_sqft"); ok && area.IsPositive() {
		a.CAMMonthly = rate.Mul(area).Round(2)
	}
	if rate, ok := n.number("hvac_rate_per_sqft"); ok && area.IsPositive() {
		a.HVACMonthly = rate.Mul(area).Round(2)
	}

	if dep, ok := n.number("security_deposit_amount"); ok {
		a.SecurityDeposit = dep
	} else if months, ok := n.number("security_deposit_months"); ok && a.MonthlyRent.IsPositive() {
		a.SecurityDeposit = months.Mul(a.MonthlyRent).Round(2)
	}
	if dep, ok := n.number("cam_deposit_amount"); ok {
		a.CAMDeposit = dep
	}

	if pct, ok := n.number("escalation_percentage"); ok {
		a.EscalationPercent = pct
	}
	if years, ok := n.integer("escalation_frequency_years"); ok {
		a.EscalationFrequencyYears = years
	}

	return Result{Agreement: a, Unresolved: n.unresolved}
}

type normalizer struct {
	e          Extraction
	unresolved []error
}

func (n *normalizer) date(name string) lease.Date {
	d, err := n.e.Field(name).Date(name)
	if err != nil {
		n.unresolved = append(n.unresolved, err)
	}
	return d
}

func (n *normalizer) number(name string) (decimal.Decimal, bool) {
	return n.numberOf(n.e.Field(name), name)
}

func (n *normalizer) numberOf(f Field, name string) (decimal.Decimal, bool) {
	if !f.Present() {
		return decimal.Zero, false
	}
	d, ok := f.Decimal()
	if !ok {
		s, _ := f.Text()
		n.reject(name, s, "not a number")
	}
	return d, ok
}

func (n *normalizer) integer(name string) (int, bool) {
	d, ok := n.number(name)
	return int(d.IntPart()), ok
}

func (n *normalizer) reject(name, value, reason string) {
	n.unresolved = append(n.unresolved, &FieldError{Field: name, Value: value, Reason: reason})
}

// FieldError is a present field whose value could not be used.
type FieldError struct {
	Field  string
	Value  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

// rentScheduleKeys are the per-year amount keys seen in rent_schedule records.
var rentScheduleKeys = []string{"monthly_rent", "mglr_monthly", "mglr", "rent_monthly", "amount"}

// monthlyRent is monthly_rent, else the first rent_schedule entry.
func (n *normalizer) monthlyRent() decimal.Decimal {
	if rent, ok := n.number("monthly_rent"); ok {
		return rent
	}
	for _, rec := range n.e.Field("rent_schedule").Records {
		for _, key := range rentScheduleKeys {
			if f, ok := rec[key]; ok && f.Present() {
				if rent, ok := n.numberOf(f, "rent_schedule."+key); ok {
					return rent
				}
			}
		}
	}
	return decimal.Zero
}

// area picks the CAM basis area, falling back to whichever area is present.
func (n *normalizer) area() decimal.Decimal {
	first, second := "super_area_sqft", "covered_area_sqft"
	if basis, _ := n.e.Field("cam_area_basis").Text(); strings.Contains(strings.ToLower(basis), "covered") {
		first, second = second, first
	}
	if a, ok := n.number(first); ok {
		return a
	}
	a, _ := n.number(second)
	return a
}
