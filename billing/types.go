/*
Package billing provides the maintenance ledger engine for a residents
welfare association.

PURPOSE:
  Every occupied resident owes a monthly maintenance charge. Whatever is
  left unpaid at the end of a month is carried into the next month's due
  amount. This package owns that arithmetic and the orchestration that
  applies it across residents (monthly generation) and across months
  (cascade recalculation after an edit).

KEY CONCEPTS IN THIS FILE (types.go):
  - Resident: who is billed and at what base maintenance
  - PaymentPeriod: one ledger row per resident per month
  - Status: paid / partial / pending / overdue, always derived
  - Money helpers over decimal.Decimal

DESIGN PRINCIPLES:
  1. Precision: all amounts are decimal.Decimal, never float64
  2. Derived state: Status is computed by DeriveStatus on every write
  3. Typed updates: callers change records through PaymentUpdate,
     PeriodAdjustment, MaintenanceChange and ResidentUpdate only

SEE ALSO:
  - period.go: the YYYY-MM Period type
  - carryforward.go: Engine (carry-forward and amount due)
  - generate.go: monthly generation
  - recalculate.go: cascade recalculation
  - store.go: persistence interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Zero is the zero amount.
var Zero = decimal.Zero

// MustParseAmount parses a decimal string, returning zero on failure.
func MustParseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NonNegative clamps d at zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Unpaid returns the part of due that paid has not covered, never negative.
func Unpaid(due, paid decimal.Decimal) decimal.Decimal {
	return NonNegative(due.Sub(paid))
}

// FormatAmount renders an amount with two decimal places.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// =============================================================================
// RESIDENT
// =============================================================================

type ResidentID string

type Occupancy string

const (
	Occupied Occupancy = "occupied"
	Vacant   Occupancy = "vacant"
)

// Valid reports whether o is a known occupancy state.
func (o Occupancy) Valid() bool {
	return o == Occupied || o == Vacant
}

// Resident is a billed household.
type Resident struct {
	ID              ResidentID
	Name            string
	Unit            string // flat or house number
	Phone           string
	Email           string
	BaseMaintenance decimal.Decimal
	Occupancy       Occupancy
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ResidentFilter narrows ListResidents. A nil Occupancy returns everyone.
type ResidentFilter struct {
	Occupancy *Occupancy
}

// OccupiedOnly is the filter used by monthly generation.
func OccupiedOnly() ResidentFilter {
	o := Occupied
	return ResidentFilter{Occupancy: &o}
}

// Matches reports whether r passes the filter.
func (f ResidentFilter) Matches(r Resident) bool {
	return f.Occupancy == nil || *f.Occupancy == r.Occupancy
}

// ResidentUpdate carries the editable profile fields of a resident.
// Base maintenance is deliberately absent: it changes through
// MaintenanceChange so a cascade can follow.
type ResidentUpdate struct {
	Name      *string
	Unit      *string
	Phone     *string
	Email     *string
	Occupancy *Occupancy
}

// Apply copies the set fields onto r.
func (u ResidentUpdate) Apply(r *Resident) {
	if u.Name != nil {
		r.Name = *u.Name
	}
	if u.Unit != nil {
		r.Unit = *u.Unit
	}
	if u.Phone != nil {
		r.Phone = *u.Phone
	}
	if u.Email != nil {
		r.Email = *u.Email
	}
	if u.Occupancy != nil {
		r.Occupancy = *u.Occupancy
	}
}

// =============================================================================
// PAYMENT PERIOD
// =============================================================================

// PaymentPeriod is the ledger row for one resident and one month.
type PaymentPeriod struct {
	ID            string
	ResidentID    ResidentID
	Period        Period
	AmountDue     decimal.Decimal
	AmountPaid    decimal.Decimal
	Status        Status
	PaymentDate   *time.Time
	PaymentMethod string
	TransactionID string
	Remarks       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Balance is the unpaid part of the period, the amount carried forward.
func (p PaymentPeriod) Balance() decimal.Decimal {
	return Unpaid(p.AmountDue, p.AmountPaid)
}

// AppendRemark adds a line to Remarks.
func (p *PaymentPeriod) AppendRemark(line string) {
	if p.Remarks == "" {
		p.Remarks = line
		return
	}
	p.Remarks = p.Remarks + "\n" + line
}

// PaymentMethod values accepted by RecordPayment. Anything else is kept as
// free text by the store but rejected by validation.
const (
	MethodCash   = "cash"
	MethodUPI    = "upi"
	MethodCheque = "cheque"
	MethodBank   = "bank_transfer"
	MethodOnline = "online"
)

// ValidPaymentMethod reports whether m is an accepted payment method.
// Empty is accepted (metadata is optional).
func ValidPaymentMethod(m string) bool {
	switch m {
	case "", MethodCash, MethodUPI, MethodCheque, MethodBank, MethodOnline:
		return true
	}
	return false
}

// PaymentUpdate records a payment against one period.
type PaymentUpdate struct {
	AmountPaid    decimal.Decimal
	PaymentDate   *time.Time
	PaymentMethod string
	TransactionID string
	Remarks       string
}

// PeriodAdjustment is an administrative correction of a historical period.
type PeriodAdjustment struct {
	AmountDue  *decimal.Decimal
	AmountPaid *decimal.Decimal
	Remarks    string
}

// MaintenanceChange updates a resident's base maintenance and optionally
// recalculates the ledger from EffectiveFrom onwards.
type MaintenanceChange struct {
	Amount        decimal.Decimal
	EffectiveFrom Period
	Recalculate   bool
	DryRun        bool
}
