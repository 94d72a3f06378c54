package lease_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grospace/lease-engine/lease"
)

func day(s string) lease.Date { return lease.MustParseDate(s) }

// =============================================================================
// MONTH/YEAR ARITHMETIC
// =============================================================================

func TestAddMonths_EndOfMonthClamps(t *testing.T) {
	cases := []struct {
		from string
		n    int
		want string
	}{
		{"2024-01-31", 1, "2024-02-29"},
		{"2023-01-31", 1, "2023-02-28"},
		{"2024-03-31", -1, "2024-02-29"},
		{"2024-08-31", 1, "2024-09-30"},
		{"2024-11-15", 2, "2025-01-15"},
		{"2025-01-15", -13, "2023-12-15"},
		{"2024-01-31", 0, "2024-01-31"},
	}
	for _, tc := range cases {
		got := lease.AddMonths(day(tc.from), tc.n)
		assert.Equal(t, tc.want, got.String(), "%s %+d months", tc.from, tc.n)
	}
}

func TestAddYears_LeapDay(t *testing.T) {
	assert.Equal(t, "2025-02-28", lease.AddYears(day("2024-02-29"), 1).String())
	assert.Equal(t, "2028-02-29", lease.AddYears(day("2024-02-29"), 4).String())
	assert.Equal(t, "2027-12-04", day("2024-12-04").AddYears(3).String())
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 38, lease.DaysBetween(day("2026-02-22"), day("2026-04-01")))
	assert.Equal(t, -38, lease.DaysBetween(day("2026-04-01"), day("2026-02-22")))
	assert.Equal(t, 0, lease.DaysBetween(day("2026-04-01"), day("2026-04-01")))
	assert.Equal(t, 366, lease.DaysBetween(day("2024-01-01"), day("2025-01-01")))
}

func TestDaysBetween_FarApartDates(t *testing.T) {
	// GIVEN: Dates further apart than a time.Duration can hold
	from, to := day("2026-01-01"), day("2400-01-01")

	// THEN: The day count is exact in both directions
	assert.Equal(t, 136600, lease.DaysBetween(from, to))
	assert.Equal(t, -136600, lease.DaysBetween(to, from))
}

func TestDayInMonth_ClampsDueDay(t *testing.T) {
	assert.Equal(t, "2025-02-28", lease.DayInMonth(2025, time.February, 31).String())
	assert.Equal(t, "2025-04-30", lease.DayInMonth(2025, time.April, 31).String())
	assert.Equal(t, "2025-05-07", lease.DayInMonth(2025, time.May, 7).String())
}

func TestParseDate(t *testing.T) {
	d, err := lease.ParseDate("2026-04-01")
	require.NoError(t, err)
	assert.Equal(t, 2026, d.Year())
	assert.Equal(t, time.April, d.Month())

	empty, err := lease.ParseDate("")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())

	_, err = lease.ParseDate("01/04/2026")
	require.Error(t, err)
	assert.True(t, errors.Is(err, lease.ErrInvalidDate))
}

// =============================================================================
// NEXT OCCURRENCE
// =============================================================================

func TestNextOccurrence_AnchorInFuture_ReturnsAnchor(t *testing.T) {
	got, err := lease.NextOccurrenceOnOrAfter(day("2027-12-04"), lease.FrequencyYearly, day("2026-02-22"))
	require.NoError(t, err)
	assert.Equal(t, "2027-12-04", got.String())
}

func TestNextOccurrence_OnReference_ReturnsReference(t *testing.T) {
	got, err := lease.NextOccurrenceOnOrAfter(day("2025-01-10"), lease.FrequencyQuarterly, day("2025-04-10"))
	require.NoError(t, err)
	assert.Equal(t, "2025-04-10", got.String())
}

func TestNextOccurrence_AdvancesByWholePeriods(t *testing.T) {
	cases := []struct {
		anchor string
		freq   lease.Frequency
		ref    string
		want   string
	}{
		{"2024-12-04", lease.FrequencyYearly, "2026-02-22", "2026-12-04"},
		{"2024-12-04", lease.FrequencyMonthly, "2026-02-22", "2026-03-04"},
		{"2024-12-04", lease.FrequencyMonthly, "2026-02-04", "2026-02-04"},
		{"2025-01-10", lease.FrequencyQuarterly, "2025-04-11", "2025-07-10"},
		{"2020-01-31", lease.FrequencyMonthly, "2024-02-15", "2024-02-29"},
		{"1900-01-07", lease.FrequencyMonthly, "2026-02-22", "2026-03-07"},
	}
	for _, tc := range cases {
		got, err := lease.NextOccurrenceOnOrAfter(day(tc.anchor), tc.freq, day(tc.ref))
		require.NoError(t, err)
		assert.Equal(t, tc.want, got.String(), "%s %s on/after %s", tc.anchor, tc.freq, tc.ref)
	}
}

func TestNextOccurrence_OneTimeInPast(t *testing.T) {
	_, err := lease.NextOccurrenceOnOrAfter(day("2024-10-04"), lease.FrequencyOneTime, day("2026-02-22"))
	assert.ErrorIs(t, err, lease.ErrNoOccurrence)
}

func TestNextOccurrence_InvalidInput(t *testing.T) {
	_, err := lease.NextOccurrenceOnOrAfter(lease.Date{}, lease.FrequencyMonthly, day("2026-02-22"))
	assert.ErrorIs(t, err, lease.ErrInvalidDate)

	_, err = lease.NextOccurrenceOnOrAfter(day("2024-01-01"), lease.FrequencyMonthly, lease.Date{})
	assert.ErrorIs(t, err, lease.ErrInvalidDate)

	_, err = lease.NextOccurrenceOnOrAfter(day("2024-01-01"), lease.Frequency("weekly"), day("2026-02-22"))
	var de *lease.InvalidDateError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "frequency", de.Field)
}

func TestPeriodKey(t *testing.T) {
	k := lease.PeriodKeyOf(day("2024-12-04"))
	assert.Equal(t, "2024-12", k.String())
	assert.Equal(t, "2025-01", k.AddMonths(1).String())
	assert.Equal(t, "2024-09", k.AddMonths(-3).String())
	assert.True(t, k.Before(k.AddMonths(1)))
	assert.False(t, k.Before(k))
}
