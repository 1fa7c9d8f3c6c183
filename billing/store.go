/*
store.go - Persistence interfaces for residents, payment periods and runs

PURPOSE:
  Defines the boundary between the billing engine and the database.
  The engine only needs keyed reads, an ordered range read and an upsert;
  everything that mutates runs inside TxStore.WithTx so a generation batch
  or a cascade commits all-or-nothing.

KEY INTERFACES:
  Store:   resident and payment-period persistence
  TxStore: Store + WithTx for atomic multi-row writes
  RunLog:  audit of generation / recalculation executions

UNIQUENESS:
  At most one PaymentPeriod per (ResidentID, Period). UpsertPaymentPeriod
  is keyed on that pair; implementations enforce it with a unique index
  (SQL) or the map key (memory).

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory, for tests and dev
  - store/sqlstore: SQLite and PostgreSQL
*/
package billing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STORE
// =============================================================================

// Store handles persistence of residents and payment periods.
type Store interface {
	// GetResident returns ErrResidentNotFound when id is unknown.
	GetResident(ctx context.Context, id ResidentID) (*Resident, error)

	// ListResidents returns residents ordered by ID.
	ListResidents(ctx context.Context, filter ResidentFilter) ([]Resident, error)

	// SaveResident inserts or replaces a resident.
	SaveResident(ctx context.Context, r Resident) error

	// DeleteResident removes a resident. Returns ErrResidentNotFound when absent.
	DeleteResident(ctx context.Context, id ResidentID) error

	// GetPaymentPeriod returns (nil, nil) when no record exists.
	GetPaymentPeriod(ctx context.Context, residentID ResidentID, period Period) (*PaymentPeriod, error)

	// ListPaymentPeriods returns records with Period >= from, ascending.
	// A zero from returns the whole history.
	ListPaymentPeriods(ctx context.Context, residentID ResidentID, from Period) ([]PaymentPeriod, error)

	// ListPaymentPeriodsByPeriod returns every resident's record for one month,
	// ordered by resident.
	ListPaymentPeriodsByPeriod(ctx context.Context, period Period) ([]PaymentPeriod, error)

	// CountPaymentPeriods counts records for one month.
	CountPaymentPeriods(ctx context.Context, period Period) (int, error)

	// UpsertPaymentPeriod inserts or replaces the record keyed by
	// (ResidentID, Period). The stored ID and CreatedAt of an existing
	// record are preserved.
	UpsertPaymentPeriod(ctx context.Context, p PaymentPeriod) error

	// DeletePaymentPeriod returns ErrPaymentPeriodNotFound when absent.
	DeletePaymentPeriod(ctx context.Context, residentID ResidentID, period Period) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. The Store passed to fn must not be used after fn returns.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// RUN LOG - Audit of orchestrator executions
// =============================================================================

type RunKind string

const (
	RunGeneration     RunKind = "generation"
	RunRecalculation  RunKind = "recalculation"
	RunOverdueRefresh RunKind = "overdue_refresh"
)

type RunStatus string

const (
	RunCompleted         RunStatus = "completed"
	RunFailed            RunStatus = "failed"
	RunNeedsConfirmation RunStatus = "needs_confirmation"
)

// Run is one recorded execution of an orchestrator.
type Run struct {
	ID          string
	Kind        RunKind
	Period      Period
	ResidentID  ResidentID
	DryRun      bool
	Status      RunStatus
	Created     int
	Updated     int
	Changed     int
	Failed      int
	TotalDue    decimal.Decimal
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// RunLog stores runs. Append-style: a run is saved once when it finishes.
type RunLog interface {
	SaveRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
}
