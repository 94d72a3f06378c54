package extraction_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/extraction"
	"github.com/grospace/lease-engine/lease"
)

func field(t *testing.T, raw string) extraction.Field {
	t.Helper()
	var f extraction.Field
	require.NoError(t, json.Unmarshal([]byte(raw), &f))
	return f
}

// =============================================================================
// FIELD SHAPES
// =============================================================================

func TestField_Shapes(t *testing.T) {
	assert.Equal(t, extraction.Scalar, field(t, `53460`).Kind)
	assert.Equal(t, extraction.Scalar, field(t, `"2024-10-04"`).Kind)

	wrapped := field(t, `{"value": "15", "confidence": "medium"}`)
	assert.Equal(t, extraction.ConfidenceWrapped, wrapped.Kind)
	assert.Equal(t, "medium", wrapped.Confidence)
	d, ok := wrapped.Decimal()
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(15)))

	list := field(t, `[{"year": 1, "monthly_rent": 53460}, {"year": 2, "monthly_rent": 56133}]`)
	assert.Equal(t, extraction.RecordList, list.Kind)
	require.Len(t, list.Records, 2)
	assert.Equal(t, extraction.Scalar, list.Records[1]["monthly_rent"].Kind)
}

func TestField_NotFoundIsAbsent(t *testing.T) {
	for _, raw := range []string{`null`, `""`, `"not_found"`, `"NOT_FOUND"`, `[]`, `{"value": null, "confidence": "not_found"}`} {
		f := field(t, raw)
		assert.False(t, f.Present(), raw)
	}
	f := field(t, `{"value": "not_found", "confidence": "not_found"}`)
	assert.Equal(t, "not_found", f.Confidence)
	assert.False(t, f.Present())
}

func TestField_NumbersAndDates(t *testing.T) {
	d, ok := field(t, `"₹ 7,84,080"`).Decimal()
	require.True(t, ok)
	assert.True(t, d.Equal(decimal.NewFromInt(784080)))

	_, ok = field(t, `"as per schedule"`).Decimal()
	assert.False(t, ok)

	date, err := field(t, `"04/10/2024"`).Date("lease_commencement_date")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-04", date.String())

	_, err = field(t, `"60 days from handover"`).Date("rent_commencement_date")
	var ide *lease.InvalidDateError
	require.ErrorAs(t, err, &ide)
	assert.Equal(t, "rent_commencement_date", ide.Field)
}

// =============================================================================
// NORMALIZATION
// =============================================================================

const leasePayload = `{
	"premises": {
		"super_area_sqft": 2100,
		"covered_area_sqft": {"value": 1800, "confidence": "high"}
	},
	"lease_term": {
		"lease_commencement_date": "2024-10-04",
		"rent_commencement_date": {"value": "2024-12-04", "confidence": "medium"},
		"lease_expiry_date": "2026-04-01",
		"lock_in_months": 6,
		"lock_in_months_confidence": "low"
	},
	"rent": {
		"rent_schedule": [{"year": 1, "monthly_rent": "53,460"}],
		"escalation_percentage": 15,
		"escalation_frequency_years": 3,
		"mglr_payment_day": 7
	},
	"charges": {
		"cam_rate_per_sqft": 19.8,
		"cam_area_basis": "super_area",
		"cam_monthly": "not_found"
	},
	"deposits": {
		"security_deposit_amount": 784080,
		"cam_deposit_amount": null
	}
}`

func TestNormalize_Lease(t *testing.T) {
	e, err := extraction.Parse([]byte(leasePayload))
	require.NoError(t, err)
	assert.Equal(t, "low", e.Field("lock_in_months").Confidence)

	res := extraction.Normalize(e, lease.DocumentLease, extraction.Identity{AgreementID: "agr-1", OrgID: "org-1", OutletID: "out-1"})
	a := res.Agreement
	assert.Empty(t, res.Unresolved)

	assert.Equal(t, lease.AgreementDraft, a.Status)
	assert.Equal(t, "2024-10-04", a.LeaseCommencement.String())
	assert.Equal(t, "2024-12-04", a.RentCommencement.String())
	assert.Equal(t, "2026-04-01", a.LeaseExpiry.String())
	assert.Equal(t, "2025-04-04", a.LockInEnd.String(), "commencement + 6 months")
	assert.True(t, a.MonthlyRent.Equal(decimal.NewFromInt(53460)), "from rent_schedule")
	assert.Equal(t, 7, a.RentDueDay)
	assert.True(t, a.CAMMonthly.Equal(decimal.NewFromInt(41580)), "19.8 × 2100 super area")
	assert.True(t, a.SecurityDeposit.Equal(decimal.NewFromInt(784080)))
	assert.True(t, a.CAMDeposit.IsZero())
	assert.True(t, a.EscalationPercent.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, 3, a.EscalationFrequencyYears)
	require.NoError(t, a.Validate())
}

func TestNormalize_CoveredAreaBasisAndTermYears(t *testing.T) {
	e, err := extraction.Parse([]byte(`{
		"lease_commencement_date": "2025-01-01",
		"lease_term_years": 3,
		"monthly_rent": 100000,
		"security_deposit_months": 6,
		"super_area_sqft": 2100,
		"covered_area_sqft": 1800,
		"cam_rate_per_sqft": 10,
		"cam_area_basis": "covered_area",
		"hvac_rate_per_sqft": 2
	}`))
	require.NoError(t, err)

	a := extraction.Normalize(e, lease.DocumentLease, extraction.Identity{AgreementID: "agr-2"}).Agreement
	assert.Equal(t, "2027-12-31", a.LeaseExpiry.String())
	assert.True(t, a.CAMMonthly.Equal(decimal.NewFromInt(18000)))
	assert.True(t, a.HVACMonthly.Equal(decimal.NewFromInt(3600)))
	assert.True(t, a.SecurityDeposit.Equal(decimal.NewFromInt(600000)))
}

func TestNormalize_FormulaDate_Unresolved(t *testing.T) {
	e, err := extraction.Parse([]byte(`{
		"lease_commencement_date": "2025-01-01",
		"rent_commencement_date": "60 days from handover",
		"mglr_payment_day": 40
	}`))
	require.NoError(t, err)

	res := extraction.Normalize(e, lease.DocumentLease, extraction.Identity{AgreementID: "agr-3"})
	require.Len(t, res.Unresolved, 2)
	assert.ErrorIs(t, res.Unresolved[0], lease.ErrInvalidDate)
	assert.True(t, res.Agreement.RentCommencement.IsZero())
	assert.Equal(t, 0, res.Agreement.RentDueDay)
}

func TestNormalize_License(t *testing.T) {
	e, err := extraction.Parse([]byte(`{
		"certificate_type": "FSSAI",
		"date_of_issue": "2024-12-20",
		"valid_from": "2025-01-01",
		"valid_to": {"value": "2026-06-30", "confidence": "high"}
	}`))
	require.NoError(t, err)

	a := extraction.Normalize(e, lease.DocumentLicense, extraction.Identity{AgreementID: "lic-1"}).Agreement
	assert.Equal(t, lease.DocumentLicense, a.DocumentType)
	assert.Equal(t, "2025-01-01", a.LeaseCommencement.String())
	assert.Equal(t, "2026-06-30", a.LeaseExpiry.String())
	assert.True(t, a.MonthlyRent.IsZero())
}

func TestParseDocumentType(t *testing.T) {
	dt, err := extraction.ParseDocumentType("license_certificate")
	require.NoError(t, err)
	assert.Equal(t, lease.DocumentLicense, dt)

	dt, err = extraction.ParseDocumentType("")
	require.NoError(t, err)
	assert.Equal(t, lease.DocumentLease, dt)

	_, err = extraction.ParseDocumentType("invoice")
	assert.ErrorIs(t, err, lease.ErrInvalidAgreement)
}
