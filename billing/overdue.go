package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// OverdueReport lists the records whose status moved during a refresh.
type OverdueReport struct {
	Examined int
	Changes  []PeriodChange
}

// RefreshOverdue re-derives the status of every stored record against the
// current clock and persists the ones that differ. Amounts are untouched,
// so no cascade follows.
func (s *Service) RefreshOverdue(ctx context.Context) (*OverdueReport, error) {
	residents, err := s.Store.ListResidents(ctx, ResidentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}
	ids := make([]ResidentID, len(residents))
	for i, r := range residents {
		ids[i] = r.ID
	}
	unlock, err := lockResidents(ctx, s.locker(), ids)
	if err != nil {
		return nil, err
	}
	defer unlock()

	started := s.now()
	report := &OverdueReport{}
	err = s.Store.WithTx(ctx, func(store Store) error {
		now := s.now()
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := store.ListPaymentPeriods(ctx, id, Period{})
			if err != nil {
				return fmt.Errorf("list periods for %s: %w", id, err)
			}
			for _, record := range records {
				report.Examined++
				status := statusAt(record, now)
				if status == record.Status {
					continue
				}
				report.Changes = append(report.Changes, PeriodChange{
					Period:    record.Period,
					OldDue:    record.AmountDue,
					NewDue:    record.AmountDue,
					Delta:     decimal.Zero,
					OldStatus: record.Status,
					NewStatus: status,
				})
				record.Status = status
				record.UpdatedAt = now
				if err := store.UpsertPaymentPeriod(ctx, record); err != nil {
					return fmt.Errorf("save %s %s: %w", id, record.Period, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		report.Changes = nil
	}

	completed := s.now()
	run := Run{
		Kind:        RunOverdueRefresh,
		Period:      PeriodOf(started),
		Status:      RunCompleted,
		Changed:     len(report.Changes),
		TotalDue:    decimal.Zero,
		StartedAt:   started,
		CompletedAt: &completed,
	}
	if err != nil {
		run.Status, run.Error = RunFailed, err.Error()
	}
	s.recordRun(ctx, run)

	if err != nil {
		return nil, err
	}
	return report, nil
}
