/*
defaulters.go - Residents behind on payments

RULE:
  The unpaid chain of a resident is every record after the last settled
  record, up to asOf. A resident is a defaulter when the oldest period of
  that chain is at least minMonths before asOf.

OUTSTANDING:
  Carry-forward folds each month's arrears into the next month's due, so
  the balance of the last record in a contiguous run already covers the
  whole run. Where the history has a gap the carry-forward restarts at
  zero, so the balance before each gap is added separately.
*/
package billing

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type Defaulter struct {
	Resident      Resident
	UnpaidPeriods []Period
	OldestUnpaid  Period
	Outstanding   decimal.Decimal
	MonthsOverdue int
}

// Defaulters returns residents whose oldest unpaid period is at least
// minMonths before asOf, largest outstanding first.
func (s *Service) Defaulters(ctx context.Context, asOf Period, minMonths int) ([]Defaulter, error) {
	if asOf.IsZero() {
		asOf = PeriodOf(s.now())
	}
	if minMonths < 0 {
		return nil, &ValidationError{Field: "months", Value: fmt.Sprint(minMonths), Reason: "must not be negative", Err: ErrInvalidAmount}
	}

	residents, err := s.Store.ListResidents(ctx, ResidentFilter{})
	if err != nil {
		return nil, fmt.Errorf("list residents: %w", err)
	}

	out := []Defaulter{}
	for _, r := range residents {
		history, err := s.Store.ListPaymentPeriods(ctx, r.ID, Period{})
		if err != nil {
			return nil, fmt.Errorf("list periods for %s: %w", r.ID, err)
		}
		d, ok := unpaidChain(r, history, asOf)
		if !ok || d.MonthsOverdue < minMonths {
			continue
		}
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Outstanding.Cmp(out[j].Outstanding); c != 0 {
			return c > 0
		}
		return out[i].Resident.ID < out[j].Resident.ID
	})
	return out, nil
}

// unpaidChain reads an ascending history. ok is false when nothing is owed.
func unpaidChain(r Resident, history []PaymentPeriod, asOf Period) (Defaulter, bool) {
	var chain []PaymentPeriod
	for _, p := range history {
		if p.Period.After(asOf) {
			break
		}
		if p.AmountPaid.GreaterThanOrEqual(p.AmountDue) {
			chain = chain[:0]
			continue
		}
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return Defaulter{}, false
	}

	d := Defaulter{
		Resident:      r,
		OldestUnpaid:  chain[0].Period,
		MonthsOverdue: chain[0].Period.MonthsUntil(asOf),
		Outstanding:   decimal.Zero,
	}
	for i, p := range chain {
		d.UnpaidPeriods = append(d.UnpaidPeriods, p.Period)
		last := i == len(chain)-1
		if last || !p.Period.Next().Equal(chain[i+1].Period) {
			d.Outstanding = d.Outstanding.Add(p.Balance())
		}
	}
	return d, true
}
