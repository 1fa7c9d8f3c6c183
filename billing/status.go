package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the payment state of a period. It is never set by hand:
// every write path calls DeriveStatus.
type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Settled reports whether nothing remains to be paid.
func (s Status) Settled() bool { return s == StatusPaid }

// DeriveStatus is the single status rule:
//
//	paid    iff paid >= due
//	partial iff 0 < paid < due
//	overdue iff paid == 0 and the period has elapsed
//	pending iff paid == 0 and the period has not elapsed
func DeriveStatus(due, paid decimal.Decimal, elapsed bool) Status {
	switch {
	case paid.GreaterThanOrEqual(due):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	case elapsed:
		return StatusOverdue
	default:
		return StatusPending
	}
}

// statusAt derives the status of p at now.
func statusAt(p PaymentPeriod, now time.Time) Status {
	return DeriveStatus(p.AmountDue, p.AmountPaid, p.Period.Elapsed(now))
}
