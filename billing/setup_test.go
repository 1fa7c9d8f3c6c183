package billing_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/billing/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// testNow sits in June 2025: every month up to May 2025 has elapsed.
var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*billing.Service, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	svc := billing.NewService(mem)
	svc.Now = func() time.Time { return testNow }

	n := 0
	svc.NewID = func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
	return svc, mem
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func mp(s string) billing.Period { return billing.MustParsePeriod(s) }

func seedResident(t *testing.T, svc *billing.Service, id, base string) {
	t.Helper()
	_, err := svc.CreateResident(context.Background(), billing.NewResident{
		ID:              billing.ResidentID(id),
		Name:            "Resident " + id,
		Unit:            "A-" + id,
		Email:           id + "@example.com",
		BaseMaintenance: amt(base),
	})
	require.NoError(t, err)
}

// seedPeriod writes a record directly, bypassing the engine.
func seedPeriod(t *testing.T, mem billing.Store, id, period, due, paid string) {
	t.Helper()
	p := billing.PaymentPeriod{
		ID:         id + "-" + period,
		ResidentID: billing.ResidentID(id),
		Period:     mp(period),
		AmountDue:  amt(due),
		AmountPaid: amt(paid),
		CreatedAt:  testNow,
		UpdatedAt:  testNow,
	}
	p.Status = billing.DeriveStatus(p.AmountDue, p.AmountPaid, p.Period.Elapsed(testNow))
	require.NoError(t, mem.UpsertPaymentPeriod(context.Background(), p))
}

func getPeriod(t *testing.T, mem billing.Store, id, period string) *billing.PaymentPeriod {
	t.Helper()
	p, err := mem.GetPaymentPeriod(context.Background(), billing.ResidentID(id), mp(period))
	require.NoError(t, err)
	require.NotNil(t, p, "expected a record for %s %s", id, period)
	return p
}

// snapshot captures every record of the given residents, for before/after
// comparisons.
func snapshot(t *testing.T, mem billing.Store, ids ...string) map[string][]billing.PaymentPeriod {
	t.Helper()
	out := make(map[string][]billing.PaymentPeriod, len(ids))
	for _, id := range ids {
		records, err := mem.ListPaymentPeriods(context.Background(), billing.ResidentID(id), billing.Period{})
		require.NoError(t, err)
		out[id] = records
	}
	return out
}

// =============================================================================
// FAULTY STORE - fails or cancels inside a transaction
// =============================================================================

var errDiskFull = errors.New("disk full")

type faultyStore struct {
	*store.TxMemory
	failOn   billing.ResidentID
	onUpsert func()
}

func (f *faultyStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s billing.Store) error {
		return fn(&faultyView{Store: s, parent: f})
	})
}

type faultyView struct {
	billing.Store
	parent *faultyStore
}

func (v *faultyView) UpsertPaymentPeriod(ctx context.Context, p billing.PaymentPeriod) error {
	if v.parent.onUpsert != nil {
		v.parent.onUpsert()
	}
	if p.ResidentID == v.parent.failOn {
		return errDiskFull
	}
	return v.Store.UpsertPaymentPeriod(ctx, p)
}
