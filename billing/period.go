package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - A billing month (YYYY-MM)
// =============================================================================

// Period identifies a calendar month. The zero value is "no period" and
// sorts before every real month.
type Period struct {
	Year  int
	Month time.Month
}

const periodLayout = "2006-01"

// NewPeriod builds a period, normalising month overflow (month 13 → next January).
func NewPeriod(year int, month time.Month) Period {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodOf returns the period containing t (in UTC).
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses "YYYY-MM".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if len(s) != 7 || s[4] != '-' {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "expected YYYY-MM", Err: ErrInvalidPeriod}
	}
	if !allDigits(s[:4]) {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "bad year", Err: ErrInvalidPeriod}
	}
	if !allDigits(s[5:]) {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "bad month", Err: ErrInvalidPeriod}
	}
	year, _ := strconv.Atoi(s[:4])
	if year == 0 {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "bad year", Err: ErrInvalidPeriod}
	}
	month, _ := strconv.Atoi(s[5:])
	if month < 1 || month > 12 {
		return Period{}, &ValidationError{Field: "period", Value: s, Reason: "bad month", Err: ErrInvalidPeriod}
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// allDigits rejects the signs strconv.Atoi would accept.
func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MustParsePeriod is ParsePeriod for literals in tests and fixtures.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Period) String() string {
	if p.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Arithmetic
func (p Period) AddMonths(n int) Period { return NewPeriod(p.Year, p.Month+time.Month(n)) }
func (p Period) Prev() Period           { return p.AddMonths(-1) }
func (p Period) Next() Period           { return p.AddMonths(1) }

// index is the month count since year 0, used for ordering and distances.
func (p Period) index() int { return p.Year*12 + int(p.Month) - 1 }

// Comparison
func (p Period) Before(o Period) bool { return p.index() < o.index() }
func (p Period) After(o Period) bool  { return p.index() > o.index() }
func (p Period) Equal(o Period) bool  { return p.index() == o.index() }

// Compare returns -1, 0 or +1.
func (p Period) Compare(o Period) int {
	switch {
	case p.Before(o):
		return -1
	case p.After(o):
		return 1
	}
	return 0
}

// MonthsUntil returns the number of months from p to o (negative if o is earlier).
func (p Period) MonthsUntil(o Period) int { return o.index() - p.index() }

// Bounds
func (p Period) Start() time.Time { return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC) }
func (p Period) End() time.Time   { return p.Start().AddDate(0, 1, 0).Add(-time.Nanosecond) }

// Elapsed reports whether now is past the last instant of the month.
func (p Period) Elapsed(now time.Time) bool {
	return now.UTC().After(p.End())
}

// MarshalText / UnmarshalText let Period travel as "YYYY-MM" in JSON.
func (p Period) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Period) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*p = Period{}
		return nil
	}
	parsed, err := ParsePeriod(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// =============================================================================
// ENTRY VALIDATION - Caller-side bounds for new ledger entries
// =============================================================================

const (
	minEntryYear = 2000
	maxEntryYear = 2100

	// DefaultMaxBackfillMonths bounds how far in the past a new entry may be created.
	DefaultMaxBackfillMonths = 24

	maxAheadMonths = 12
)

// ValidateEntryPeriod checks that a period is a sane target for creating
// ledger entries. This is an input check for API and CLI callers; the
// engine itself accepts any period.
func ValidateEntryPeriod(p Period, now time.Time, maxBackfillMonths int) error {
	if p.IsZero() {
		return &ValidationError{Field: "period", Reason: "required", Err: ErrInvalidPeriod}
	}
	if p.Year < minEntryYear || p.Year > maxEntryYear {
		return &ValidationError{Field: "period", Value: p.String(),
			Reason: fmt.Sprintf("year must be between %d and %d", minEntryYear, maxEntryYear), Err: ErrInvalidPeriod}
	}
	if maxBackfillMonths <= 0 {
		maxBackfillMonths = DefaultMaxBackfillMonths
	}
	current := PeriodOf(now)
	if p.MonthsUntil(current) > maxBackfillMonths {
		return &ValidationError{Field: "period", Value: p.String(),
			Reason: fmt.Sprintf("more than %d months in the past", maxBackfillMonths), Err: ErrInvalidPeriod}
	}
	if current.MonthsUntil(p) > maxAheadMonths {
		return &ValidationError{Field: "period", Value: p.String(),
			Reason: fmt.Sprintf("more than %d months ahead", maxAheadMonths), Err: ErrInvalidPeriod}
	}
	return nil
}
