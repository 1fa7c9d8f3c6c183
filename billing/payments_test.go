package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/billing"
)

// seedThreeMonths generates January to March at 800 with nothing paid.
func seedThreeMonths(t *testing.T) (*billing.Service, billing.TxStore) {
	t.Helper()
	svc, mem := newTestService(t)
	seedResident(t, svc, "r1", "800")
	for _, p := range []string{"2025-01", "2025-02", "2025-03"} {
		generate(t, svc, p, billing.GenerateOptions{})
	}
	return svc, mem
}

// =============================================================================
// RECORD PAYMENT
// =============================================================================

func TestRecordPayment_CascadesIntoLaterMonths(t *testing.T) {
	// GIVEN: Jan 800, Feb 1600, Mar 2400, nothing paid
	// WHEN: January is paid in full
	// THEN: February and March lose the carried 800
	svc, mem := seedThreeMonths(t)
	assert.True(t, amt("2400").Equal(getPeriod(t, mem, "r1", "2025-03").AmountDue))

	res := pay(t, svc, "r1", "2025-01", "800")

	assert.Equal(t, billing.StatusPaid, res.Payment.Status)
	require.NotNil(t, res.Cascade)
	assert.Len(t, res.Cascade.Changes, 2)
	assert.True(t, amt("800").Equal(getPeriod(t, mem, "r1", "2025-02").AmountDue))
	assert.True(t, amt("1600").Equal(getPeriod(t, mem, "r1", "2025-03").AmountDue))
}

func TestRecordPayment_SetsTotalNotIncrement(t *testing.T) {
	svc, mem := seedThreeMonths(t)

	pay(t, svc, "r1", "2025-03", "500")
	pay(t, svc, "r1", "2025-03", "700")

	march := getPeriod(t, mem, "r1", "2025-03")
	assert.True(t, amt("700").Equal(march.AmountPaid))
	assert.Equal(t, billing.StatusPartial, march.Status)
}

func TestRecordPayment_Metadata(t *testing.T) {
	svc, mem := seedThreeMonths(t)
	paidOn := time.Date(2025, time.March, 5, 0, 0, 0, 0, time.UTC)

	_, err := svc.RecordPayment(context.Background(), "r1", mp("2025-03"), billing.PaymentUpdate{
		AmountPaid:    amt("2400"),
		PaymentDate:   &paidOn,
		PaymentMethod: billing.MethodCheque,
		TransactionID: "CHQ-4411",
		Remarks:       "cleared",
	})
	require.NoError(t, err)

	march := getPeriod(t, mem, "r1", "2025-03")
	require.NotNil(t, march.PaymentDate)
	assert.True(t, paidOn.Equal(*march.PaymentDate))
	assert.Equal(t, billing.MethodCheque, march.PaymentMethod)
	assert.Equal(t, "CHQ-4411", march.TransactionID)
	assert.Contains(t, march.Remarks, "cleared")
}

func TestRecordPayment_DefaultsPaymentDate(t *testing.T) {
	svc, mem := seedThreeMonths(t)
	pay(t, svc, "r1", "2025-02", "100")

	feb := getPeriod(t, mem, "r1", "2025-02")
	require.NotNil(t, feb.PaymentDate)
	assert.True(t, testNow.Equal(*feb.PaymentDate))
}

func TestRecordPayment_Rejections(t *testing.T) {
	svc, mem := seedThreeMonths(t)
	before := snapshot(t, mem, "r1")

	tests := []struct {
		name   string
		period string
		update billing.PaymentUpdate
		want   error
	}{
		{"overpayment", "2025-01", billing.PaymentUpdate{AmountPaid: amt("800.01")}, billing.ErrOverpayment},
		{"negative", "2025-01", billing.PaymentUpdate{AmountPaid: amt("-1")}, billing.ErrInvalidAmount},
		{"unknown method", "2025-01", billing.PaymentUpdate{AmountPaid: amt("10"), PaymentMethod: "barter"}, billing.ErrInvalidMethod},
		{"missing period", "2025-05", billing.PaymentUpdate{AmountPaid: amt("10")}, billing.ErrPaymentPeriodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RecordPayment(context.Background(), "r1", mp(tt.period), tt.update)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, before, snapshot(t, mem, "r1"))
}

// =============================================================================
// ADJUST / CREATE / DELETE
// =============================================================================

func TestAdjustPeriod_CorrectsHistoryAndCascades(t *testing.T) {
	// GIVEN: January was billed 800 but the society waived 300
	// WHEN: Adjusting January's due to 500
	// THEN: February and March carry 300 less
	svc, mem := seedThreeMonths(t)
	due := amt("500")

	res, err := svc.AdjustPeriod(context.Background(), "r1", mp("2025-01"), billing.PeriodAdjustment{
		AmountDue: &due,
		Remarks:   "waiver",
	})
	require.NoError(t, err)

	assert.True(t, due.Equal(res.Payment.AmountDue))
	assert.Contains(t, res.Payment.Remarks, "Adjusted 2025-01: due 800.00 -> 500.00")
	assert.Contains(t, res.Payment.Remarks, "(waiver)")
	assert.True(t, amt("1300").Equal(getPeriod(t, mem, "r1", "2025-02").AmountDue))
	assert.True(t, amt("2100").Equal(getPeriod(t, mem, "r1", "2025-03").AmountDue))
}

func TestAdjustPeriod_Validation(t *testing.T) {
	svc, _ := seedThreeMonths(t)
	ctx := context.Background()

	_, err := svc.AdjustPeriod(ctx, "r1", mp("2025-01"), billing.PeriodAdjustment{})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	paid := amt("900")
	_, err = svc.AdjustPeriod(ctx, "r1", mp("2025-01"), billing.PeriodAdjustment{AmountPaid: &paid})
	assert.ErrorIs(t, err, billing.ErrOverpayment)

	negative := decimal.NewFromInt(-5)
	_, err = svc.AdjustPeriod(ctx, "r1", mp("2025-01"), billing.PeriodAdjustment{AmountDue: &negative})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)
}

func TestCreatePaymentPeriod_FillsGapAndCascades(t *testing.T) {
	// GIVEN: January and March exist, February is missing
	// WHEN: Creating February
	// THEN: February carries January and March now carries February
	svc, mem := newTestService(t)
	seedResident(t, svc, "r1", "800")
	seedPeriod(t, mem, "r1", "2025-01", "800", "0")
	seedPeriod(t, mem, "r1", "2025-03", "800", "0")

	res, err := svc.CreatePaymentPeriod(context.Background(), "r1", mp("2025-02"))
	require.NoError(t, err)

	assert.True(t, amt("1600").Equal(res.Payment.AmountDue))
	assert.Equal(t, billing.StatusOverdue, res.Payment.Status)
	assert.True(t, amt("2400").Equal(getPeriod(t, mem, "r1", "2025-03").AmountDue))

	_, err = svc.CreatePaymentPeriod(context.Background(), "r1", mp("2025-02"))
	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)
	assert.True(t, billing.IsConflict(err))
}

func TestDeletePaymentPeriod_Cascades(t *testing.T) {
	svc, mem := seedThreeMonths(t)

	cascade, err := svc.DeletePaymentPeriod(context.Background(), "r1", mp("2025-01"))
	require.NoError(t, err)
	assert.Len(t, cascade.Changes, 2)

	assert.True(t, amt("800").Equal(getPeriod(t, mem, "r1", "2025-02").AmountDue))
	assert.True(t, amt("1600").Equal(getPeriod(t, mem, "r1", "2025-03").AmountDue))

	_, err = svc.DeletePaymentPeriod(context.Background(), "r1", mp("2025-01"))
	assert.ErrorIs(t, err, billing.ErrPaymentPeriodNotFound)
}
