/*
recalculate.go - Cascade recalculation for one resident

WHEN:
  - The resident's base maintenance changed
  - A past period's AmountDue or AmountPaid was edited
  - A period was inserted into or removed from the history

ALGORITHM (strictly ascending, one pass):

	prev := stored record at from.Prev() (zero if absent)
	for each record with Period >= from:
	    carry  = max(0, prev.due - prev.paid)   // 0 if prev is not the month before
	    newDue = base + carry
	    if newDue != stored due: record change, re-derive status
	    prev   = {newDue, stored paid}

The running snapshot carries the newly computed due, not the stored one,
so a correction in month k reaches month k+1 within the same pass.

A gap in the history (no record for a month) resets the carry-forward to
zero, the same rule the engine applies when a predecessor is absent.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RecalculateOptions struct {
	DryRun bool
}

// PeriodChange is one corrected period.
type PeriodChange struct {
	Period       Period
	OldDue       decimal.Decimal
	NewDue       decimal.Decimal
	CarryForward decimal.Decimal
	Delta        decimal.Decimal
	OldStatus    Status
	NewStatus    Status
}

// RecalculationReport summarises one cascade.
type RecalculationReport struct {
	ResidentID      ResidentID
	FromPeriod      Period
	DryRun          bool
	BaseMaintenance decimal.Decimal
	Examined        int
	Changes         []PeriodChange
}

// TotalDelta is the net change in amount due across all corrected periods.
func (r *RecalculationReport) TotalDelta() decimal.Decimal {
	total := decimal.Zero
	for _, c := range r.Changes {
		total = total.Add(c.Delta)
	}
	return total
}

// RecalculateForward re-derives AmountDue for every period of residentID
// from fromPeriod onwards. All-or-nothing: on error nothing is persisted
// and the error is a *RecalculationError naming the period that failed.
func (s *Service) RecalculateForward(ctx context.Context, residentID ResidentID, fromPeriod Period, opts RecalculateOptions) (*RecalculationReport, error) {
	if fromPeriod.IsZero() {
		return nil, &ValidationError{Field: "from_period", Reason: "required", Err: ErrInvalidPeriod}
	}

	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{residentID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := s.now()
	var report *RecalculationReport
	err = s.inTx(ctx, opts.DryRun, func(store Store) error {
		resident, err := store.GetResident(ctx, residentID)
		if err != nil {
			return err
		}
		report, err = s.recalculate(ctx, store, *resident, fromPeriod, opts.DryRun)
		return err
	})

	s.recordRun(ctx, recalculationRun(residentID, fromPeriod, opts.DryRun, report, started, s.now(), err))
	if err != nil {
		return nil, err
	}
	return report, nil
}

// recalculate runs the cascade against store. The caller holds the
// resident lock and owns the transaction.
func (s *Service) recalculate(ctx context.Context, store Store, resident Resident, from Period, dryRun bool) (*RecalculationReport, error) {
	report := &RecalculationReport{
		ResidentID:      resident.ID,
		FromPeriod:      from,
		DryRun:          dryRun,
		BaseMaintenance: resident.BaseMaintenance,
	}
	fail := func(p Period, err error) (*RecalculationReport, error) {
		return report, &RecalculationError{ResidentID: resident.ID, Period: p, Err: err}
	}

	records, err := store.ListPaymentPeriods(ctx, resident.ID, from)
	if err != nil {
		return fail(from, err)
	}

	prevPeriod := from.Prev()
	prevDue, prevPaid := decimal.Zero, decimal.Zero
	prev, err := store.GetPaymentPeriod(ctx, resident.ID, prevPeriod)
	if err != nil {
		return fail(prevPeriod, err)
	}
	havePrev := prev != nil
	if havePrev {
		prevDue, prevPaid = prev.AmountDue, prev.AmountPaid
	}

	now := s.now()
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return fail(record.Period, err)
		}
		report.Examined++

		carry := decimal.Zero
		if havePrev && prevPeriod.Next().Equal(record.Period) {
			carry = Unpaid(prevDue, prevPaid)
		}
		newDue := resident.BaseMaintenance.Add(carry)

		if !newDue.Equal(record.AmountDue) {
			updated := record
			updated.AmountDue = newDue
			updated.Status = statusAt(updated, now)
			updated.UpdatedAt = now
			updated.AppendRemark(fmt.Sprintf("Recalculated %s: due %s -> %s (base %s + carry-forward %s)",
				record.Period, FormatAmount(record.AmountDue), FormatAmount(newDue),
				FormatAmount(resident.BaseMaintenance), FormatAmount(carry)))

			report.Changes = append(report.Changes, PeriodChange{
				Period:       record.Period,
				OldDue:       record.AmountDue,
				NewDue:       newDue,
				CarryForward: carry,
				Delta:        newDue.Sub(record.AmountDue),
				OldStatus:    record.Status,
				NewStatus:    updated.Status,
			})

			if !dryRun {
				if err := store.UpsertPaymentPeriod(ctx, updated); err != nil {
					return fail(record.Period, err)
				}
			}
		}

		prevPeriod, prevDue, prevPaid, havePrev = record.Period, newDue, record.AmountPaid, true
	}

	return report, nil
}

func recalculationRun(id ResidentID, from Period, dryRun bool, r *RecalculationReport, started, completed time.Time, err error) Run {
	run := Run{
		Kind:        RunRecalculation,
		Period:      from,
		ResidentID:  id,
		DryRun:      dryRun,
		Status:      RunCompleted,
		TotalDue:    decimal.Zero,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if r != nil {
		run.Changed = len(r.Changes)
		run.TotalDue = r.TotalDelta()
	}
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	}
	return run
}
