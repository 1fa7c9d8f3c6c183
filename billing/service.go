/*
service.go - Entry point for every ledger mutation

PURPOSE:
  Service bundles the store, the per-resident locker, the clock and the
  optional run log. The HTTP handlers, the scheduler and the CLI all go
  through it, so locking, transactions and status derivation happen in
  one place.

TRANSACTION RULE:
  Locks are taken first, then the store transaction is opened. Nothing
  waits on a lock while holding a transaction.

SEE ALSO:
  - generate.go: GenerateForMonth
  - recalculate.go: RecalculateForward
  - payments.go: RecordPayment, AdjustPeriod, CreatePaymentPeriod
  - residents.go: resident CRUD and ChangeMaintenance
*/
package billing

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Service struct {
	Store  TxStore
	Locker Locker
	Runs   RunLog // optional
	Logger logrus.FieldLogger
	Now    func() time.Time
	NewID  func() string
}

// NewService wires defaults: an in-process locker, the wall clock and
// uuid ids. If the store also implements RunLog it is used as the run log.
func NewService(store TxStore) *Service {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Service{
		Store:  store,
		Locker: NewKeyedMutex(),
		Logger: discard,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
	if runs, ok := store.(RunLog); ok {
		s.Runs = runs
	}
	return s
}

// Engine returns a carry-forward engine reading from the service store.
func (s *Service) Engine() *Engine {
	return &Engine{Store: s.Store}
}

func (s *Service) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Service) newID() string {
	if s.NewID == nil {
		return uuid.NewString()
	}
	return s.NewID()
}

func (s *Service) locker() Locker {
	if s.Locker == nil {
		s.Locker = NewKeyedMutex()
	}
	return s.Locker
}

// inTx runs fn in a store transaction, or directly against the store for
// dry runs (which never write).
func (s *Service) inTx(ctx context.Context, dryRun bool, fn func(Store) error) error {
	if dryRun {
		return fn(s.Store)
	}
	return s.Store.WithTx(ctx, fn)
}

func (s *Service) recordRun(ctx context.Context, run Run) {
	if s.Runs == nil || run.DryRun {
		return
	}
	if run.ID == "" {
		run.ID = s.newID()
	}
	if err := s.Runs.SaveRun(ctx, run); err != nil && s.Logger != nil {
		s.Logger.WithFields(logrus.Fields{
			"run_kind": run.Kind,
			"period":   run.Period.String(),
			"resident": run.ResidentID,
		}).WithError(err).Warn("failed to record run")
	}
}

// ListRuns returns the most recent runs, newest first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.Runs == nil {
		return []Run{}, nil
	}
	return s.Runs.ListRuns(ctx, limit)
}

// MonthRegister returns every resident's record for one month.
func (s *Service) MonthRegister(ctx context.Context, period Period) ([]PaymentPeriod, error) {
	return s.Store.ListPaymentPeriodsByPeriod(ctx, period)
}

// ResidentLedger returns a resident's records from from onwards.
func (s *Service) ResidentLedger(ctx context.Context, id ResidentID, from Period) ([]PaymentPeriod, error) {
	if _, err := s.Store.GetResident(ctx, id); err != nil {
		return nil, err
	}
	return s.Store.ListPaymentPeriods(ctx, id, from)
}

// Preview returns the amount-due breakdown for a resident and month.
func (s *Service) Preview(ctx context.Context, id ResidentID, period Period) (Breakdown, error) {
	return s.Engine().Breakdown(ctx, id, period)
}
