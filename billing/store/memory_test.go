package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/billing/store"
)

var now = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func period(id billing.ResidentID, p string, due int64) billing.PaymentPeriod {
	return billing.PaymentPeriod{
		ID:         string(id) + "-" + p,
		ResidentID: id,
		Period:     billing.MustParsePeriod(p),
		AmountDue:  decimal.NewFromInt(due),
		AmountPaid: decimal.Zero,
		Status:     billing.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestMemory_Residents(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SaveResident(ctx, billing.Resident{ID: "r2", Occupancy: billing.Vacant}))
	require.NoError(t, m.SaveResident(ctx, billing.Resident{ID: "r1", Occupancy: billing.Occupied}))

	all, err := m.ListResidents(ctx, billing.ResidentFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, billing.ResidentID("r1"), all[0].ID)

	occupied, err := m.ListResidents(ctx, billing.OccupiedOnly())
	require.NoError(t, err)
	assert.Len(t, occupied, 1)

	_, err = m.GetResident(ctx, "ghost")
	assert.ErrorIs(t, err, billing.ErrResidentNotFound)

	require.NoError(t, m.DeleteResident(ctx, "r2"))
	assert.ErrorIs(t, m.DeleteResident(ctx, "r2"), billing.ErrResidentNotFound)
}

func TestMemory_PaymentPeriods(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()

	for _, p := range []string{"2025-03", "2025-01", "2025-02"} {
		require.NoError(t, m.UpsertPaymentPeriod(ctx, period("r1", p, 800)))
	}
	require.NoError(t, m.UpsertPaymentPeriod(ctx, period("r2", "2025-02", 500)))

	// Missing records are (nil, nil).
	missing, err := m.GetPaymentPeriod(ctx, "r1", billing.MustParsePeriod("2024-12"))
	require.NoError(t, err)
	assert.Nil(t, missing)

	fromFeb, err := m.ListPaymentPeriods(ctx, "r1", billing.MustParsePeriod("2025-02"))
	require.NoError(t, err)
	require.Len(t, fromFeb, 2)
	assert.Equal(t, "2025-02", fromFeb[0].Period.String())
	assert.Equal(t, "2025-03", fromFeb[1].Period.String())

	byMonth, err := m.ListPaymentPeriodsByPeriod(ctx, billing.MustParsePeriod("2025-02"))
	require.NoError(t, err)
	assert.Len(t, byMonth, 2)

	count, err := m.CountPaymentPeriods(ctx, billing.MustParsePeriod("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, m.DeletePaymentPeriod(ctx, "r1", billing.MustParsePeriod("2025-01")))
	assert.ErrorIs(t, m.DeletePaymentPeriod(ctx, "r1", billing.MustParsePeriod("2025-01")), billing.ErrPaymentPeriodNotFound)
}

func TestMemory_UpsertKeepsIdentity(t *testing.T) {
	// GIVEN: A stored record
	// WHEN: Upserting the same (resident, period) under a new ID
	// THEN: The original ID and CreatedAt survive, the amounts are replaced
	m := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, m.UpsertPaymentPeriod(ctx, period("r1", "2025-01", 800)))

	replacement := period("r1", "2025-01", 1200)
	replacement.ID = "other"
	replacement.CreatedAt = now.Add(time.Hour)
	require.NoError(t, m.UpsertPaymentPeriod(ctx, replacement))

	got, err := m.GetPaymentPeriod(ctx, "r1", billing.MustParsePeriod("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, "r1-2025-01", got.ID)
	assert.Equal(t, now, got.CreatedAt)
	assert.True(t, decimal.NewFromInt(1200).Equal(got.AmountDue))
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	paid := now
	p := period("r1", "2025-01", 800)
	p.PaymentDate = &paid
	require.NoError(t, m.UpsertPaymentPeriod(ctx, p))

	got, err := m.GetPaymentPeriod(ctx, "r1", p.Period)
	require.NoError(t, err)
	*got.PaymentDate = now.Add(48 * time.Hour)
	got.AmountDue = decimal.NewFromInt(1)

	again, err := m.GetPaymentPeriod(ctx, "r1", p.Period)
	require.NoError(t, err)
	assert.Equal(t, now, *again.PaymentDate)
	assert.True(t, decimal.NewFromInt(800).Equal(again.AmountDue))
}

func TestMemory_Runs(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, m.SaveRun(ctx, billing.Run{ID: id, Kind: billing.RunGeneration}))
	}

	runs, err := m.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)

	all, err := m.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, m.Reset(ctx))
	all, err = m.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: A record and a transaction that writes then fails
	// WHEN: WithTx returns the error
	// THEN: Every write inside the transaction is undone
	tm := store.NewTxMemory()
	ctx := context.Background()
	require.NoError(t, tm.UpsertPaymentPeriod(ctx, period("r1", "2025-01", 800)))

	boom := errors.New("boom")
	err := tm.WithTx(ctx, func(s billing.Store) error {
		require.NoError(t, s.UpsertPaymentPeriod(ctx, period("r1", "2025-01", 9999)))
		require.NoError(t, s.UpsertPaymentPeriod(ctx, period("r1", "2025-02", 800)))
		require.NoError(t, s.SaveResident(ctx, billing.Resident{ID: "r9"}))

		inside, err := s.GetPaymentPeriod(ctx, "r1", billing.MustParsePeriod("2025-01"))
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(9999).Equal(inside.AmountDue))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := tm.GetPaymentPeriod(ctx, "r1", billing.MustParsePeriod("2025-01"))
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(800).Equal(got.AmountDue))
	count, err := tm.CountPaymentPeriods(ctx, billing.MustParsePeriod("2025-02"))
	require.NoError(t, err)
	assert.Zero(t, count)
	_, err = tm.GetResident(ctx, "r9")
	assert.ErrorIs(t, err, billing.ErrResidentNotFound)
}

func TestTxMemory_Commit(t *testing.T) {
	tm := store.NewTxMemory()
	ctx := context.Background()

	err := tm.WithTx(ctx, func(s billing.Store) error {
		return s.UpsertPaymentPeriod(ctx, period("r1", "2025-01", 800))
	})
	require.NoError(t, err)

	count, err := tm.CountPaymentPeriods(ctx, billing.MustParsePeriod("2025-01"))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
