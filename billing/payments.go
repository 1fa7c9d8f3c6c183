package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WRITE PATHS ON SINGLE PERIODS
// =============================================================================
//
// Every edit of a period changes what the following month carries, so each
// operation below cascades from period.Next() inside the same transaction.
// Amounts are validated strictly here (0 <= paid <= due) even though the
// engine tolerates overpaid rows it reads back from imported history.

// PaymentResult is the edited record and the cascade that followed it.
type PaymentResult struct {
	Payment PaymentPeriod
	Cascade *RecalculationReport
}

// RecordPayment sets the amount paid for a period and its payment metadata.
// AmountPaid is the total paid for the period, not an increment.
func (s *Service) RecordPayment(ctx context.Context, residentID ResidentID, period Period, u PaymentUpdate) (*PaymentResult, error) {
	if err := validateAmount("amount_paid", u.AmountPaid); err != nil {
		return nil, err
	}
	if !ValidPaymentMethod(u.PaymentMethod) {
		return nil, &ValidationError{Field: "payment_method", Value: u.PaymentMethod, Reason: "unknown method", Err: ErrInvalidMethod}
	}

	return s.editPeriod(ctx, residentID, period, func(record *PaymentPeriod) error {
		if u.AmountPaid.GreaterThan(record.AmountDue) {
			return &ValidationError{
				Field:  "amount_paid",
				Value:  u.AmountPaid.String(),
				Reason: "exceeds amount due " + FormatAmount(record.AmountDue),
				Err:    ErrOverpayment,
			}
		}

		record.AmountPaid = u.AmountPaid
		record.PaymentMethod = u.PaymentMethod
		record.TransactionID = u.TransactionID
		record.PaymentDate = u.PaymentDate
		if record.PaymentDate == nil && u.AmountPaid.IsPositive() {
			now := s.now()
			record.PaymentDate = &now
		}
		if u.Remarks != "" {
			record.AppendRemark(u.Remarks)
		}
		return nil
	})
}

// AdjustPeriod corrects a historical period's due and/or paid amounts.
func (s *Service) AdjustPeriod(ctx context.Context, residentID ResidentID, period Period, adj PeriodAdjustment) (*PaymentResult, error) {
	if adj.AmountDue == nil && adj.AmountPaid == nil {
		return nil, &ValidationError{Field: "adjustment", Reason: "amount_due or amount_paid required", Err: ErrInvalidAmount}
	}
	if adj.AmountDue != nil {
		if err := validateAmount("amount_due", *adj.AmountDue); err != nil {
			return nil, err
		}
	}
	if adj.AmountPaid != nil {
		if err := validateAmount("amount_paid", *adj.AmountPaid); err != nil {
			return nil, err
		}
	}

	return s.editPeriod(ctx, residentID, period, func(record *PaymentPeriod) error {
		due, paid := record.AmountDue, record.AmountPaid
		if adj.AmountDue != nil {
			due = *adj.AmountDue
		}
		if adj.AmountPaid != nil {
			paid = *adj.AmountPaid
		}
		if paid.GreaterThan(due) {
			return &ValidationError{
				Field:  "amount_paid",
				Value:  paid.String(),
				Reason: "exceeds amount due " + FormatAmount(due),
				Err:    ErrOverpayment,
			}
		}

		note := fmt.Sprintf("Adjusted %s: due %s -> %s, paid %s -> %s", period,
			FormatAmount(record.AmountDue), FormatAmount(due), FormatAmount(record.AmountPaid), FormatAmount(paid))
		if adj.Remarks != "" {
			note += " (" + adj.Remarks + ")"
		}
		record.AmountDue, record.AmountPaid = due, paid
		record.AppendRemark(note)
		return nil
	})
}

func (s *Service) editPeriod(ctx context.Context, residentID ResidentID, period Period, edit func(*PaymentPeriod) error) (*PaymentResult, error) {
	if period.IsZero() {
		return nil, &ValidationError{Field: "period", Reason: "required", Err: ErrInvalidPeriod}
	}
	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{residentID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result PaymentResult
	err = s.Store.WithTx(ctx, func(store Store) error {
		resident, err := store.GetResident(ctx, residentID)
		if err != nil {
			return err
		}
		record, err := store.GetPaymentPeriod(ctx, residentID, period)
		if err != nil {
			return fmt.Errorf("load %s: %w", period, err)
		}
		if record == nil {
			return fmt.Errorf("%s %s: %w", residentID, period, ErrPaymentPeriodNotFound)
		}

		if err := edit(record); err != nil {
			return err
		}
		now := s.now()
		record.Status = statusAt(*record, now)
		record.UpdatedAt = now
		if err := store.UpsertPaymentPeriod(ctx, *record); err != nil {
			return fmt.Errorf("save %s: %w", period, err)
		}

		cascade, err := s.recalculate(ctx, store, *resident, period.Next(), false)
		if err != nil {
			return err
		}
		result = PaymentResult{Payment: *record, Cascade: cascade}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CreatePaymentPeriod creates one resident's record for period with the
// computed amount due. Later months are recalculated since they may have
// been carrying nothing across the gap this record fills.
func (s *Service) CreatePaymentPeriod(ctx context.Context, residentID ResidentID, period Period) (*PaymentResult, error) {
	if period.IsZero() {
		return nil, &ValidationError{Field: "period", Reason: "required", Err: ErrInvalidPeriod}
	}
	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{residentID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var result PaymentResult
	err = s.Store.WithTx(ctx, func(store Store) error {
		resident, err := store.GetResident(ctx, residentID)
		if err != nil {
			return err
		}
		existing, err := store.GetPaymentPeriod(ctx, residentID, period)
		if err != nil {
			return fmt.Errorf("load %s: %w", period, err)
		}
		if existing != nil {
			return fmt.Errorf("%s %s: %w", residentID, period, ErrDuplicatePeriod)
		}

		engine := &Engine{Store: store}
		b, err := engine.breakdownFor(ctx, *resident, period)
		if err != nil {
			return err
		}

		now := s.now()
		record := PaymentPeriod{
			ID:         s.newID(),
			ResidentID: residentID,
			Period:     period,
			AmountDue:  b.AmountDue,
			AmountPaid: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		record.Status = statusAt(record, now)
		record.AppendRemark(b.Remark("Created"))
		if err := store.UpsertPaymentPeriod(ctx, record); err != nil {
			return fmt.Errorf("save %s: %w", period, err)
		}

		cascade, err := s.recalculate(ctx, store, *resident, period.Next(), false)
		if err != nil {
			return err
		}
		result = PaymentResult{Payment: record, Cascade: cascade}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// DeletePaymentPeriod removes one record and recalculates the months after it.
func (s *Service) DeletePaymentPeriod(ctx context.Context, residentID ResidentID, period Period) (*RecalculationReport, error) {
	unlock, err := lockResidents(ctx, s.locker(), []ResidentID{residentID})
	if err != nil {
		return nil, err
	}
	defer unlock()

	var cascade *RecalculationReport
	err = s.Store.WithTx(ctx, func(store Store) error {
		resident, err := store.GetResident(ctx, residentID)
		if err != nil {
			return err
		}
		if err := store.DeletePaymentPeriod(ctx, residentID, period); err != nil {
			return err
		}
		cascade, err = s.recalculate(ctx, store, *resident, period.Next(), false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cascade, nil
}

func validateAmount(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &ValidationError{Field: field, Value: d.String(), Reason: "must not be negative", Err: ErrInvalidAmount}
	}
	return nil
}
