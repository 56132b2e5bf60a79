package allocation

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - The unit of allocation and reporting
// =============================================================================

// Period is a calendar month, the granularity at which spend is entered,
// rules are defined and costs are materialized. Normalized: any date in a
// month maps to the same Period, and Start() is always the first of the
// month at UTC midnight.
//
// Period is comparable, so it can key maps directly.
type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod builds a period, normalizing month overflow
// (NewPeriod(2026, 13) == NewPeriod(2027, time.January)).
func NewPeriod(year int, month time.Month) Period {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: u.Month()}
}

// ParsePeriod parses the wire format "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, s)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

// Start returns the first instant of the period (first of month, UTC).
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the last instant before the next period begins.
func (p Period) End() time.Time {
	return p.Next().Start().Add(-time.Nanosecond)
}

// Next returns the following calendar month.
func (p Period) Next() Period {
	return NewPeriod(p.Year, p.Month+1)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return PeriodOf(t) == p
}

// IsZero reports whether p is the zero value (no period).
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}

// String renders the wire format "YYYY-MM".
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
