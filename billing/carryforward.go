/*
carryforward.go - Carry-forward engine

The amount due for a month is the resident's current base maintenance plus
whatever the previous month left unpaid:

	due(P) = base + max(0, due(P-1) - paid(P-1))

A missing predecessor means nothing is carried. The base is read at call
time, so a rate change is projected forward; no historical rate is frozen
per period.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Engine computes carry-forward and amount due from store state.
// It has no side effects.
type Engine struct {
	Store Store
}

// Breakdown explains an amount due.
type Breakdown struct {
	ResidentID      ResidentID
	Period          Period
	BaseMaintenance decimal.Decimal
	CarryForward    decimal.Decimal
	AmountDue       decimal.Decimal

	// Previous is the predecessor record the carry-forward came from, if any.
	Previous *PaymentPeriod
}

// CarryForward returns the unpaid balance of the month before period.
func (e *Engine) CarryForward(ctx context.Context, residentID ResidentID, period Period) (decimal.Decimal, error) {
	prev, err := e.Store.GetPaymentPeriod(ctx, residentID, period.Prev())
	if err != nil {
		return decimal.Zero, fmt.Errorf("load %s for %s: %w", period.Prev(), residentID, err)
	}
	if prev == nil {
		return decimal.Zero, nil
	}
	return prev.Balance(), nil
}

// AmountDue returns base maintenance plus carry-forward for period.
func (e *Engine) AmountDue(ctx context.Context, residentID ResidentID, period Period) (decimal.Decimal, error) {
	b, err := e.Breakdown(ctx, residentID, period)
	if err != nil {
		return decimal.Zero, err
	}
	return b.AmountDue, nil
}

// Breakdown computes the amount due together with its parts.
func (e *Engine) Breakdown(ctx context.Context, residentID ResidentID, period Period) (Breakdown, error) {
	resident, err := e.Store.GetResident(ctx, residentID)
	if err != nil {
		return Breakdown{}, err
	}
	return e.breakdownFor(ctx, *resident, period)
}

func (e *Engine) breakdownFor(ctx context.Context, resident Resident, period Period) (Breakdown, error) {
	prev, err := e.Store.GetPaymentPeriod(ctx, resident.ID, period.Prev())
	if err != nil {
		return Breakdown{}, fmt.Errorf("load %s for %s: %w", period.Prev(), resident.ID, err)
	}

	carry := decimal.Zero
	if prev != nil {
		carry = prev.Balance()
	}
	return Breakdown{
		ResidentID:      resident.ID,
		Period:          period,
		BaseMaintenance: resident.BaseMaintenance,
		CarryForward:    carry,
		AmountDue:       resident.BaseMaintenance.Add(carry),
		Previous:        prev,
	}, nil
}

// Remark renders the breakdown as the line appended to a record's remarks.
func (b Breakdown) Remark(verb string) string {
	return fmt.Sprintf("%s %s: base %s + carry-forward %s = %s",
		verb, b.Period, FormatAmount(b.BaseMaintenance), FormatAmount(b.CarryForward), FormatAmount(b.AmountDue))
}
