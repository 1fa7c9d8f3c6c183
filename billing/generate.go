/*
generate.go - Monthly generation across residents

FLOW:
  1. Take the month's generation lock, list occupied residents and take
     their locks in ID order.
  2. In one store transaction, count existing records for the month.
     Existing + !Force + !DryRun returns a NeedsConfirmation report and
     touches nothing.
  3. For each resident:
       due = base + carry-forward(previous month)
       existing record → AmountDue = due, status re-derived, remark appended
       otherwise       → new record, paid 0
  4. Commit. Any store error or cancellation rolls the whole batch back;
     the resident that caused it is listed in Failures.

The count runs under the locks so two unforced runs of the same month
cannot both see an empty month.

Residents are independent of each other: no resident's result reads
another resident's row, so their order only matters for lock ordering.
Predecessor months are read, never written.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type GenerateOptions struct {
	Force  bool
	DryRun bool
}

type GenerationAction string

const (
	ActionCreated GenerationAction = "created"
	ActionUpdated GenerationAction = "updated"
)

// GenerationLine is the projection for one resident.
type GenerationLine struct {
	ResidentID      ResidentID
	Name            string
	Unit            string
	BaseMaintenance decimal.Decimal
	CarryForward    decimal.Decimal
	AmountDue       decimal.Decimal
	AmountPaid      decimal.Decimal
	Status          Status
	Action          GenerationAction
}

// GenerationReport summarises one GenerateForMonth call.
type GenerationReport struct {
	Period            Period
	DryRun            bool
	NeedsConfirmation bool
	Existing          int

	Attempted int
	Created   int
	Updated   int

	TotalCarryForward decimal.Decimal
	TotalAmountDue    decimal.Decimal

	Lines    []GenerationLine
	Failures []ResidentFailure
}

func (r *GenerationReport) Succeeded() int { return r.Created + r.Updated }
func (r *GenerationReport) Failed() int    { return len(r.Failures) }

func (r *GenerationReport) add(line GenerationLine) {
	r.Lines = append(r.Lines, line)
	r.TotalCarryForward = r.TotalCarryForward.Add(line.CarryForward)
	r.TotalAmountDue = r.TotalAmountDue.Add(line.AmountDue)
	switch line.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	}
}

// reset clears the counters after a rollback, keeping Attempted and Failures.
func (r *GenerationReport) reset() {
	r.Created, r.Updated = 0, 0
	r.TotalCarryForward, r.TotalAmountDue = decimal.Zero, decimal.Zero
	r.Lines = nil
}

// GenerateForMonth creates or refreshes every occupied resident's record for period.
func (s *Service) GenerateForMonth(ctx context.Context, period Period, opts GenerateOptions) (*GenerationReport, error) {
	if period.IsZero() {
		return nil, &ValidationError{Field: "period", Reason: "required", Err: ErrInvalidPeriod}
	}

	started := s.now()
	report := &GenerationReport{
		Period:            period,
		DryRun:            opts.DryRun,
		TotalCarryForward: decimal.Zero,
		TotalAmountDue:    decimal.Zero,
	}

	unlockMonth, err := s.locker().Lock(ctx, GenerationLockKey(period))
	if err != nil {
		return report, err
	}
	defer unlockMonth()

	residents, err := s.Store.ListResidents(ctx, OccupiedOnly())
	if err != nil {
		return report, fmt.Errorf("list residents: %w", err)
	}

	ids := make([]ResidentID, len(residents))
	for i, r := range residents {
		ids[i] = r.ID
	}
	unlock, err := lockResidents(ctx, s.locker(), ids)
	if err != nil {
		return report, err
	}
	defer unlock()

	err = s.inTx(ctx, opts.DryRun, func(store Store) error {
		existing, err := store.CountPaymentPeriods(ctx, period)
		if err != nil {
			return fmt.Errorf("count records for %s: %w", period, err)
		}
		report.Existing = existing
		if existing > 0 && !opts.Force && !opts.DryRun {
			report.NeedsConfirmation = true
			return nil
		}

		engine := &Engine{Store: store}
		for _, resident := range residents {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("generation for %s cancelled: %w", period, err)
			}
			report.Attempted++

			line, err := s.generateOne(ctx, store, engine, resident.ID, period, opts.DryRun)
			if err != nil {
				report.Failures = append(report.Failures, ResidentFailure{
					ResidentID: resident.ID,
					Reason:     err.Error(),
					Err:        err,
				})
				if IsClientError(err) || IsNotFound(err) {
					continue
				}
				return fmt.Errorf("generate %s for %s: %w", period, resident.ID, err)
			}
			report.add(line)
		}
		return nil
	})
	if err != nil && !opts.DryRun {
		report.reset()
	}

	s.recordRun(ctx, generationRun(report, started, s.now(), err))
	return report, err
}

func (s *Service) generateOne(ctx context.Context, store Store, engine *Engine, id ResidentID, period Period, dryRun bool) (GenerationLine, error) {
	// Re-read the resident inside the transaction: the list above was taken
	// before the locks.
	resident, err := store.GetResident(ctx, id)
	if err != nil {
		return GenerationLine{}, err
	}
	if resident.BaseMaintenance.IsNegative() {
		return GenerationLine{}, &ValidationError{
			Field:  "base_maintenance",
			Value:  resident.BaseMaintenance.String(),
			Reason: "must not be negative",
			Err:    ErrInvalidAmount,
		}
	}

	b, err := engine.breakdownFor(ctx, *resident, period)
	if err != nil {
		return GenerationLine{}, err
	}

	now := s.now()
	record, err := store.GetPaymentPeriod(ctx, id, period)
	if err != nil {
		return GenerationLine{}, fmt.Errorf("load %s: %w", period, err)
	}

	action := ActionUpdated
	if record == nil {
		action = ActionCreated
		record = &PaymentPeriod{
			ID:         s.newID(),
			ResidentID: id,
			Period:     period,
			AmountPaid: decimal.Zero,
			CreatedAt:  now,
		}
		record.AppendRemark(b.Remark("Generated"))
	} else {
		record.AppendRemark(b.Remark("Regenerated"))
	}
	record.AmountDue = b.AmountDue
	record.Status = statusAt(*record, now)
	record.UpdatedAt = now

	if !dryRun {
		if err := store.UpsertPaymentPeriod(ctx, *record); err != nil {
			return GenerationLine{}, fmt.Errorf("save %s: %w", period, err)
		}
	}

	return GenerationLine{
		ResidentID:      id,
		Name:            resident.Name,
		Unit:            resident.Unit,
		BaseMaintenance: b.BaseMaintenance,
		CarryForward:    b.CarryForward,
		AmountDue:       b.AmountDue,
		AmountPaid:      record.AmountPaid,
		Status:          record.Status,
		Action:          action,
	}, nil
}

func generationRun(r *GenerationReport, started, completed time.Time, err error) Run {
	run := Run{
		Kind:        RunGeneration,
		Period:      r.Period,
		DryRun:      r.DryRun,
		Status:      RunCompleted,
		Created:     r.Created,
		Updated:     r.Updated,
		Failed:      r.Failed(),
		TotalDue:    r.TotalAmountDue,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	switch {
	case err != nil:
		run.Status = RunFailed
		run.Error = err.Error()
	case r.NeedsConfirmation:
		run.Status = RunNeedsConfirmation
		run.Error = ErrConfirmationRequired.Error()
	}
	return run
}
