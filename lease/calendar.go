package lease

import (
	"time"
)

// =============================================================================
// DATE - Calendar day (leases care about days, never hours)
// =============================================================================

// Date is a calendar day in UTC. The zero value means "not set".
type Date struct {
	Time time.Time
}

const dateLayout = "2006-01-02"

// Constructors
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), u.Month(), u.Day())
}

func Today() Date { return DateOf(time.Now()) }

// ParseDate parses YYYY-MM-DD. An empty string yields the zero Date.
func ParseDate(s string) (Date, error) {
	if s == "" {
		return Date{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, &InvalidDateError{Field: "date", Value: s, Reason: "expected YYYY-MM-DD"}
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for fixtures and tests.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Properties
func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }
func (d Date) IsZero() bool      { return d.Time.IsZero() }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Time.Format(dateLayout)
}

// Arithmetic
func (d Date) AddDays(n int) Date   { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return AddMonths(d, n) }
func (d Date) AddYears(n int) Date  { return AddYears(d, n) }

// =============================================================================
// CALENDAR ARITHMETIC
// =============================================================================

// AddMonths adds n calendar months. A day past the end of the resulting month
// clamps to its last day: Jan 31 + 1 month is Feb 28 (or Feb 29).
func AddMonths(d Date, n int) Date {
	total := int(d.Month()) - 1 + n
	year := d.Year() + floorDiv(total, 12)
	month := time.Month(total - floorDiv(total, 12)*12 + 1)
	day := d.Day()
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return NewDate(year, month, day)
}

// AddYears adds n calendar years, clamping Feb 29 to Feb 28 in non-leap years.
func AddYears(d Date, n int) Date { return AddMonths(d, 12*n) }

// DaysBetween returns the whole days from a to b, positive if b is after a.
func DaysBetween(a, b Date) int {
	return int((b.Time.Unix() - a.Time.Unix()) / 86400)
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1).Day()
}

// DayInMonth returns the given day of the month, clamped to the month's length.
func DayInMonth(year int, month time.Month, day int) Date {
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return NewDate(year, month, day)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// monthIndex numbers months continuously so month differences are plain subtraction.
func monthIndex(d Date) int { return d.Year()*12 + int(d.Month()) - 1 }

// =============================================================================
// FREQUENCY - Recurrence cadence
// =============================================================================

type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyOneTime   Frequency = "one_time"
)

// Months returns the period length in months; 0 for one-time.
func (f Frequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencyYearly:
		return 12
	default:
		return 0
	}
}

func (f Frequency) IsRecurring() bool { return f.Months() > 0 }

func (f Frequency) Valid() bool { return f == FrequencyOneTime || f.IsRecurring() }

// NextOccurrenceOnOrAfter returns the first occurrence of a recurring event
// anchored at anchor that falls on or after ref. Occurrence k is
// anchor + k periods, computed from the anchor each time so a month-end
// anchor keeps landing on month end. It jumps by whole periods, so far-past
// anchors cost the same as recent ones.
//
// A one-time event occurs only at the anchor; ErrNoOccurrence is returned if
// the anchor is before ref.
func NextOccurrenceOnOrAfter(anchor Date, freq Frequency, ref Date) (Date, error) {
	if anchor.IsZero() {
		return Date{}, &InvalidDateError{Field: "anchor", Reason: "missing"}
	}
	if ref.IsZero() {
		return Date{}, &InvalidDateError{Field: "reference", Reason: "missing"}
	}
	if !freq.Valid() {
		return Date{}, &InvalidDateError{Field: "frequency", Value: string(freq), Reason: "unknown frequency"}
	}
	if anchor.AfterOrEqual(ref) {
		return anchor, nil
	}
	step := freq.Months()
	if step == 0 {
		return Date{}, ErrNoOccurrence
	}

	k := (monthIndex(ref) - monthIndex(anchor)) / step
	candidate := AddMonths(anchor, k*step)
	for candidate.Before(ref) {
		k++
		candidate = AddMonths(anchor, k*step)
	}
	return candidate, nil
}

// =============================================================================
// PERIOD - A month-keyed slot for one obligation occurrence
// =============================================================================

// PeriodKey identifies one payment period of an obligation by the calendar
// month its due date falls in.
type PeriodKey struct {
	Year  int
	Month time.Month
}

func PeriodKeyOf(d Date) PeriodKey { return PeriodKey{Year: d.Year(), Month: d.Month()} }

func (k PeriodKey) index() int { return k.Year*12 + int(k.Month) - 1 }

// AddMonths shifts the key by n months.
func (k PeriodKey) AddMonths(n int) PeriodKey {
	i := k.index() + n
	return PeriodKey{Year: floorDiv(i, 12), Month: time.Month(i - floorDiv(i, 12)*12 + 1)}
}

func (k PeriodKey) Before(other PeriodKey) bool { return k.index() < other.index() }

func (k PeriodKey) String() string {
	return NewDate(k.Year, k.Month, 1).Time.Format("2006-01")
}
