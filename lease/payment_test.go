package lease_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/lease"
)

func rentObligation() lease.Obligation {
	obs, _ := lease.DeriveObligations(sampleAgreement())
	return byType(obs)[lease.ObligationRent]
}

func keysOf(records []lease.PaymentRecord) []lease.PeriodKey {
	out := make([]lease.PeriodKey, len(records))
	for i, r := range records {
		out[i] = r.Period
	}
	return out
}

// =============================================================================
// GENERATION
// =============================================================================

func TestGeneratePeriods_StopsAtObligationEnd(t *testing.T) {
	// GIVEN: Rent from 2024-12-04 to 2026-04-01, due on the 4th
	// WHEN: Generating 12 months ahead of 2026-02-22
	// THEN: Dec 2024 through Mar 2026; Apr 4 is past the end

	records, err := lease.GeneratePeriods(rentObligation(), nil, day("2026-02-22"), lease.PeriodPlan{HorizonMonths: 12})
	require.NoError(t, err)
	require.Len(t, records, 16)
	assert.Equal(t, "2024-12-04", records[0].DueDate.String())
	assert.Equal(t, "2026-03-04", records[15].DueDate.String())

	for _, r := range records {
		require.NotNil(t, r.DueAmount)
		assert.True(t, r.DueAmount.Equal(amount(53460)))
		assert.Equal(t, lease.PaymentIDFor(r.ObligationID, r.Period), r.ID)
	}
}

func TestGeneratePeriods_OverlappingHorizons_SameSet(t *testing.T) {
	// GIVEN: A 1-month pass followed by a 3-month pass
	ob := rentObligation()
	asOf := day("2025-01-01")

	first, err := lease.GeneratePeriods(ob, nil, asOf, lease.PeriodPlan{HorizonMonths: 1})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := lease.GeneratePeriods(ob, keysOf(first), asOf, lease.PeriodPlan{HorizonMonths: 3})
	require.NoError(t, err)

	oneShot, err := lease.GeneratePeriods(ob, nil, asOf, lease.PeriodPlan{HorizonMonths: 3})
	require.NoError(t, err)

	// THEN: The union of the two passes equals a single 3-month pass
	assert.Equal(t, oneShot, append(first, second...))

	// AND: A third pass adds nothing
	again, err := lease.GeneratePeriods(ob, keysOf(oneShot), asOf, lease.PeriodPlan{HorizonMonths: 3})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGeneratePeriods_InitialStatus(t *testing.T) {
	records, err := lease.GeneratePeriods(rentObligation(), nil, day("2025-01-01"), lease.PeriodPlan{HorizonMonths: 3, DueThresholdDays: 7})
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, lease.PaymentDue, records[0].Status, "2024-12-04 already past")
	assert.Equal(t, lease.PaymentDue, records[1].Status, "2025-01-04 within 7 days")
	assert.Equal(t, lease.PaymentUpcoming, records[2].Status, "2025-02-04")
}

func TestInitialStatus_ThresholdBoundary(t *testing.T) {
	asOf := day("2025-01-01")
	assert.Equal(t, lease.PaymentDue, lease.InitialStatus(day("2025-01-08"), asOf, 7))
	assert.Equal(t, lease.PaymentUpcoming, lease.InitialStatus(day("2025-01-09"), asOf, 7))
}

func TestGeneratePeriods_OneTime_ExactlyOnce(t *testing.T) {
	// GIVEN: A security deposit due 2024-10-04
	obs, err := lease.DeriveObligations(sampleAgreement())
	require.NoError(t, err)
	dep := byType(obs)[lease.ObligationSecurityDeposit]

	// WHEN: Generating with a horizon that ends long before the due date
	records, err := lease.GeneratePeriods(dep, nil, day("2020-01-01"), lease.PeriodPlan{HorizonMonths: 1})
	require.NoError(t, err)

	// THEN: One record regardless of horizon
	require.Len(t, records, 1)
	assert.Equal(t, "2024-10-04", records[0].DueDate.String())
	assert.True(t, records[0].DueAmount.Equal(amount(784080)))

	again, err := lease.GeneratePeriods(dep, keysOf(records), day("2026-02-22"), lease.PeriodPlan{})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGeneratePeriods_Metered_NoDueAmount(t *testing.T) {
	obs, err := lease.DeriveObligations(sampleAgreement())
	require.NoError(t, err)
	elec := byType(obs)[lease.ObligationElectricity]

	records, err := lease.GeneratePeriods(elec, nil, day("2025-01-01"), lease.PeriodPlan{HorizonMonths: 1})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	for _, r := range records {
		assert.Nil(t, r.DueAmount)
	}
}

func TestGeneratePeriods_DueDayClampsToMonthEnd(t *testing.T) {
	ob := lease.Obligation{
		ID:        "obl-x-rent",
		Type:      lease.ObligationRent,
		Frequency: lease.FrequencyMonthly,
		Amount:    amount(100),
		DueDay:    31,
		Start:     day("2025-01-31"),
		End:       day("2025-06-30"),
		Active:    true,
	}
	records, err := lease.GeneratePeriods(ob, nil, day("2025-01-01"), lease.PeriodPlan{HorizonMonths: 12})
	require.NoError(t, err)

	var dues []string
	for _, r := range records {
		dues = append(dues, r.DueDate.String())
	}
	assert.Equal(t, []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30", "2025-05-31", "2025-06-30"}, dues)
}

func TestGeneratePeriods_FirstDueBeforeStart_SkipsToNextPeriod(t *testing.T) {
	ob := lease.Obligation{
		ID:        "obl-x-cam",
		Type:      lease.ObligationCAM,
		Frequency: lease.FrequencyQuarterly,
		Amount:    amount(100),
		DueDay:    5,
		Start:     day("2025-01-10"),
		End:       day("2025-12-31"),
		Active:    true,
	}
	records, err := lease.GeneratePeriods(ob, nil, day("2025-01-01"), lease.PeriodPlan{HorizonMonths: 12})
	require.NoError(t, err)

	var dues []string
	for _, r := range records {
		dues = append(dues, r.DueDate.String())
	}
	assert.Equal(t, []string{"2025-04-05", "2025-07-05", "2025-10-05"}, dues)
}

func TestGeneratePeriods_Inactive(t *testing.T) {
	ob := rentObligation()
	ob.Active = false
	records, err := lease.GeneratePeriods(ob, nil, day("2026-02-22"), lease.PeriodPlan{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestGeneratePeriods_BadInput(t *testing.T) {
	ob := rentObligation()
	ob.Frequency = "weekly"
	_, err := lease.GeneratePeriods(ob, nil, day("2026-02-22"), lease.PeriodPlan{})
	assert.ErrorIs(t, err, lease.ErrInvalidDate)

	_, err = lease.GeneratePeriods(rentObligation(), nil, lease.Date{}, lease.PeriodPlan{})
	assert.ErrorIs(t, err, lease.ErrInvalidDate)
}
