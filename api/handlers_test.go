package api_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jordan-wright/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/api"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/billing/store"
	"github.com/warp/rwa-ledger/notify"
)

// =============================================================================
// RESIDENTS
// =============================================================================

func TestResidents_CRUD(t *testing.T) {
	s := newTestServer(t)

	// WHEN: A resident is created
	s.createResident(t, "A-101", "800")

	// THEN: It can be read back with a formatted rate and default occupancy
	rec := s.do(t, http.MethodGet, "/api/residents/A-101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeAs[api.ResidentDTO](t, rec)
	assert.Equal(t, "Resident A-101", got.Name)
	assert.Equal(t, "800.00", got.BaseMaintenance)
	assert.Equal(t, "occupied", got.Occupancy)

	// WHEN: The profile is updated
	rec = s.do(t, http.MethodPut, "/api/residents/A-101", map[string]any{"name": "Asha Menon", "occupancy": "vacant"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got = decodeAs[api.ResidentDTO](t, rec)
	assert.Equal(t, "Asha Menon", got.Name)
	assert.Equal(t, "vacant", got.Occupancy)

	// THEN: The occupancy filter sees the change
	rec = s.do(t, http.MethodGet, "/api/residents?occupancy=vacant", nil)
	assert.Len(t, decodeAs[[]api.ResidentDTO](t, rec), 1)
	rec = s.do(t, http.MethodGet, "/api/residents?occupancy=occupied", nil)
	assert.Empty(t, decodeAs[[]api.ResidentDTO](t, rec))

	// WHEN: The resident is deleted
	rec = s.do(t, http.MethodDelete, "/api/residents/A-101", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: It is gone
	rec = s.do(t, http.MethodGet, "/api/residents/A-101", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResidents_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate id", http.MethodPost, "/api/residents", map[string]any{"id": "A-101", "name": "x", "unit": "x", "base_maintenance": "1"}, http.StatusConflict},
		{"missing name", http.MethodPost, "/api/residents", map[string]any{"unit": "x", "base_maintenance": "1"}, http.StatusBadRequest},
		{"negative rate", http.MethodPost, "/api/residents", map[string]any{"name": "x", "unit": "x", "base_maintenance": "-1"}, http.StatusBadRequest},
		{"bad occupancy filter", http.MethodGet, "/api/residents?occupancy=sublet", nil, http.StatusBadRequest},
		{"unknown resident", http.MethodGet, "/api/residents/Z-999", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/residents", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeAs[api.ErrorResponse](t, rec).Error)
		})
	}
}

func TestResidents_DeleteWithHistoryConflicts(t *testing.T) {
	// GIVEN: A resident with one generated month
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-06")

	// WHEN: Deleting the resident
	rec := s.do(t, http.MethodDelete, "/api/residents/A-101", nil)

	// THEN: The ledger history blocks it
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResidents_ChangeMaintenanceCascades(t *testing.T) {
	// GIVEN: Two unpaid months at 800 (800, 1600)
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-05")
	s.generate(t, "2025-06")

	// WHEN: The rate is raised to 1200 from May with recalculation
	rec := s.do(t, http.MethodPut, "/api/residents/A-101/maintenance", map[string]any{
		"amount":         "1200",
		"effective_from": "2025-05",
		"recalculate":    true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// THEN: Both months are re-derived at the new rate
	got := decodeAs[api.MaintenanceResultDTO](t, rec)
	assert.Equal(t, "1200.00", got.Resident.BaseMaintenance)
	require.NotNil(t, got.Cascade)
	require.Len(t, got.Cascade.Changes, 2)
	assert.Equal(t, "1200.00", got.Cascade.Changes[0].NewDue)
	assert.Equal(t, "2400.00", got.Cascade.Changes[1].NewDue)
	assert.Equal(t, "1200.00", got.Cascade.Changes[1].CarryForward)

	// THEN: The ledger reflects it
	rec = s.do(t, http.MethodGet, "/api/residents/A-101/payments", nil)
	ledger := decodeAs[[]api.PaymentPeriodDTO](t, rec)
	require.Len(t, ledger, 2)
	assert.Equal(t, "2400.00", ledger[1].AmountDue)
}

// =============================================================================
// GENERATION AND PAYMENTS
// =============================================================================

func TestGenerate_ConfirmationFlow(t *testing.T) {
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")

	// WHEN: The month is generated for the first time
	rec := s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06"})

	// THEN: 201 with one created line
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	report := decodeAs[api.GenerationReportDTO](t, rec)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, "800.00", report.TotalAmountDue)

	// WHEN: It is generated again without force
	rec = s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06"})

	// THEN: 409 asks for confirmation
	require.Equal(t, http.StatusConflict, rec.Code)
	report = decodeAs[api.GenerationReportDTO](t, rec)
	assert.True(t, report.NeedsConfirmation)
	assert.Equal(t, 1, report.Existing)

	// WHEN: A dry run is requested
	rec = s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06", "dry_run": true})

	// THEN: 200 with the projected update
	require.Equal(t, http.StatusOK, rec.Code)
	report = decodeAs[api.GenerationReportDTO](t, rec)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Updated)

	// WHEN: Forced
	rec = s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06", "force": true})

	// THEN: The record is refreshed
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, decodeAs[api.GenerationReportDTO](t, rec).Updated)
}

var errDiskFull = errors.New("disk full")

// failingUpserts fails every write of one resident's record inside a
// transaction.
type failingUpserts struct {
	*store.TxMemory
	failOn billing.ResidentID
}

func (f *failingUpserts) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s billing.Store) error {
		return fn(&failingUpsertView{Store: s, failOn: f.failOn})
	})
}

type failingUpsertView struct {
	billing.Store
	failOn billing.ResidentID
}

func (v *failingUpsertView) UpsertPaymentPeriod(ctx context.Context, p billing.PaymentPeriod) error {
	if p.ResidentID == v.failOn {
		return errDiskFull
	}
	return v.Store.UpsertPaymentPeriod(ctx, p)
}

func TestGenerate_AbortedBatchReturnsReport(t *testing.T) {
	// GIVEN: Three residents and a store that cannot write r2's record
	s := newTestServer(t)
	svc := billing.NewService(&failingUpserts{TxMemory: s.mem, failOn: "r2"})
	svc.Now = func() time.Time { return testNow }
	s.handler.Service = svc
	s.svc = svc
	for _, id := range []string{"r1", "r2", "r3"} {
		s.createResident(t, id, "800")
	}

	// WHEN: The month is generated
	rec := s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06"})

	// THEN: 500 with the error and the partial report
	require.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	got := decodeAs[api.GenerationErrorResponse](t, rec)
	assert.Equal(t, "Generation failed", got.Error)
	assert.Contains(t, got.Details, "disk full")
	require.NotNil(t, got.Report)
	assert.Equal(t, 2, got.Report.Attempted)
	assert.Zero(t, got.Report.Created)
	require.Len(t, got.Report.Failures, 1)
	assert.Equal(t, billing.ResidentID("r2"), got.Report.Failures[0].ResidentID)
	assert.Contains(t, got.Report.Failures[0].Reason, "disk full")

	// THEN: Nothing was written
	count, err := s.mem.CountPaymentPeriods(context.Background(), billing.MustParsePeriod("2025-06"))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestGenerate_RejectsPeriodsOutOfRange(t *testing.T) {
	s := newTestServer(t)

	for _, period := range []string{"", "2025-13", "2020-01", "+202-01", "-001-01", "0000-01"} {
		rec := s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": period})
		assert.Equal(t, http.StatusBadRequest, rec.Code, period)
	}
}

func TestPayments_RecordCascadesToNextMonth(t *testing.T) {
	// GIVEN: May 800 and June 1600, nothing paid
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-05")
	s.generate(t, "2025-06")

	// WHEN: 500 is paid against May
	rec := s.do(t, http.MethodPut, "/api/residents/A-101/payments/2025-05", map[string]any{
		"amount_paid":    "500",
		"payment_date":   "2025-05-20",
		"payment_method": "upi",
		"transaction_id": "UPI-1",
	})

	// THEN: May is partial and June now carries 300
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeAs[api.PaymentResultDTO](t, rec)
	assert.Equal(t, "partial", got.Payment.Status)
	assert.Equal(t, "2025-05-20", got.Payment.PaymentDate)
	require.NotNil(t, got.Cascade)
	require.Len(t, got.Cascade.Changes, 1)
	assert.Equal(t, "1100.00", got.Cascade.Changes[0].NewDue)

	// THEN: The month register shows the new June due
	rec = s.do(t, http.MethodGet, "/api/payments?period=2025-06", nil)
	register := decodeAs[[]api.PaymentPeriodDTO](t, rec)
	require.Len(t, register, 1)
	assert.Equal(t, "1100.00", register[0].AmountDue)
}

func TestPayments_Errors(t *testing.T) {
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-06")

	tests := []struct {
		name string
		path string
		body map[string]any
		want int
	}{
		{"overpayment", "/api/residents/A-101/payments/2025-06", map[string]any{"amount_paid": "900"}, http.StatusBadRequest},
		{"negative", "/api/residents/A-101/payments/2025-06", map[string]any{"amount_paid": "-1"}, http.StatusBadRequest},
		{"unknown method", "/api/residents/A-101/payments/2025-06", map[string]any{"amount_paid": "1", "payment_method": "barter"}, http.StatusBadRequest},
		{"bad date", "/api/residents/A-101/payments/2025-06", map[string]any{"amount_paid": "1", "payment_date": "20/06/2025"}, http.StatusBadRequest},
		{"bad period", "/api/residents/A-101/payments/june", map[string]any{"amount_paid": "1"}, http.StatusBadRequest},
		{"no record", "/api/residents/A-101/payments/2025-01", map[string]any{"amount_paid": "1"}, http.StatusNotFound},
		{"no resident", "/api/residents/Z-9/payments/2025-06", map[string]any{"amount_paid": "1"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestPayments_AdjustCreateDelete(t *testing.T) {
	// GIVEN: April generated, May missing, June generated (gap resets carry)
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-04")
	s.generate(t, "2025-06")

	// WHEN: May is created through the single-record endpoint
	rec := s.do(t, http.MethodPost, "/api/payments", map[string]any{"resident_id": "A-101", "period": "2025-05"})

	// THEN: May carries April and June now carries May
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeAs[api.PaymentResultDTO](t, rec)
	assert.Equal(t, "1600.00", created.Payment.AmountDue)
	require.Len(t, created.Cascade.Changes, 1)
	assert.Equal(t, "2400.00", created.Cascade.Changes[0].NewDue)

	// WHEN: Creating it again
	rec = s.do(t, http.MethodPost, "/api/payments", map[string]any{"resident_id": "A-101", "period": "2025-05"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: April's due is corrected to 0
	rec = s.do(t, http.MethodPatch, "/api/residents/A-101/payments/2025-04", map[string]any{"amount_due": "0", "remarks": "waived"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	adjusted := decodeAs[api.PaymentResultDTO](t, rec)
	assert.Equal(t, "paid", adjusted.Payment.Status)
	require.Len(t, adjusted.Cascade.Changes, 2)
	assert.Equal(t, "800.00", adjusted.Cascade.Changes[0].NewDue)
	assert.Equal(t, "1600.00", adjusted.Cascade.Changes[1].NewDue)

	// WHEN: May is deleted
	rec = s.do(t, http.MethodDelete, "/api/residents/A-101/payments/2025-05", nil)

	// THEN: June falls back to the base rate across the gap
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cascade := decodeAs[api.RecalculationReportDTO](t, rec)
	require.Len(t, cascade.Changes, 1)
	assert.Equal(t, "800.00", cascade.Changes[0].NewDue)
}

func TestCarryForwardPreview(t *testing.T) {
	// GIVEN: May 800 with 300 paid
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-05")
	rec := s.do(t, http.MethodPut, "/api/residents/A-101/payments/2025-05", map[string]any{"amount_paid": "300"})
	require.Equal(t, http.StatusOK, rec.Code)

	// WHEN: Previewing June
	rec = s.do(t, http.MethodGet, "/api/residents/A-101/carry-forward?period=2025-06", nil)

	// THEN: 800 base + 500 carried
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	b := decodeAs[api.BreakdownDTO](t, rec)
	assert.Equal(t, "800.00", b.BaseMaintenance)
	assert.Equal(t, "500.00", b.CarryForward)
	assert.Equal(t, "1300.00", b.AmountDue)
	assert.Equal(t, "2025-05", b.PreviousPeriod)

	// THEN: A period is required
	rec = s.do(t, http.MethodGet, "/api/residents/A-101/carry-forward", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecalculate_DryRun(t *testing.T) {
	// GIVEN: Two months at 800, then the rate changes without recalculation
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-05")
	s.generate(t, "2025-06")
	rec := s.do(t, http.MethodPut, "/api/residents/A-101/maintenance", map[string]any{"amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// WHEN: A dry-run recalculation from May is requested
	rec = s.do(t, http.MethodPost, "/api/residents/A-101/recalculate", map[string]any{"from_period": "2025-05", "dry_run": true})

	// THEN: Both months would change but nothing is stored
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeAs[api.RecalculationReportDTO](t, rec)
	assert.True(t, report.DryRun)
	assert.Len(t, report.Changes, 2)
	assert.Equal(t, "600.00", report.TotalDelta)

	rec = s.do(t, http.MethodGet, "/api/payments?period=2025-06", nil)
	assert.Equal(t, "1600.00", decodeAs[[]api.PaymentPeriodDTO](t, rec)[0].AmountDue)

	// THEN: from_period is required
	rec = s.do(t, http.MethodPost, "/api/residents/A-101/recalculate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// REPORTS
// =============================================================================

func seedDefaulter(t *testing.T, s *testServer) {
	t.Helper()
	s.createResident(t, "A-101", "800")
	s.createResident(t, "A-102", "800")
	for _, p := range []string{"2025-03", "2025-04", "2025-05", "2025-06"} {
		s.generate(t, p)
		rec := s.do(t, http.MethodPut, "/api/residents/A-102/payments/"+p, map[string]any{"amount_paid": "800"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
}

func TestDefaulters(t *testing.T) {
	// GIVEN: A-101 unpaid since March, A-102 paid up
	s := newTestServer(t)
	seedDefaulter(t, s)

	// WHEN: Listing defaulters with the default threshold
	rec := s.do(t, http.MethodGet, "/api/defaulters", nil)

	// THEN: Only A-101 with the whole chain outstanding
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeAs[[]api.DefaulterDTO](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "A-101", got[0].Resident.ID)
	assert.Equal(t, "2025-03", got[0].OldestUnpaid)
	assert.Equal(t, 3, got[0].MonthsOverdue)
	assert.Equal(t, "3200.00", got[0].Outstanding)

	// WHEN: The threshold is above the chain length
	rec = s.do(t, http.MethodGet, "/api/defaulters?months=4", nil)
	assert.Empty(t, decodeAs[[]api.DefaulterDTO](t, rec))

	// THEN: Bad query values are rejected
	rec = s.do(t, http.MethodGet, "/api/defaulters?months=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/defaulters?as_of=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifyDefaulters(t *testing.T) {
	t.Run("unconfigured", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.do(t, http.MethodPost, "/api/defaulters/notify", map[string]any{})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("sends one reminder per defaulter", func(t *testing.T) {
		// GIVEN: A configured sender with a recording transport
		s := newTestServer(t)
		seedDefaulter(t, s)
		var sent []*email.Email
		s.handler.Notifier = notify.NewSender(notify.SMTPConfig{Host: "smtp.test", Port: "25", From: "rwa@example.com"}, nil).
			WithTransport(func(e *email.Email) error {
				sent = append(sent, e)
				return nil
			})

		// WHEN: Notifying
		rec := s.do(t, http.MethodPost, "/api/defaulters/notify", map[string]any{"months": 3})

		// THEN: A-101 is e-mailed
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decodeAs[api.NotifyDefaultersResponse](t, rec)
		assert.Equal(t, 1, got.Defaulters)
		require.NotNil(t, got.Report)
		assert.Equal(t, 1, got.Report.Sent)
		require.Len(t, sent, 1)
		assert.Equal(t, []string{"A-101@example.com"}, sent[0].To)
	})
}

func TestRefreshOverdue(t *testing.T) {
	// GIVEN: May generated while it was still current
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-05")

	// WHEN: Refreshing in June
	rec := s.do(t, http.MethodPost, "/api/overdue/refresh", nil)

	// THEN: Nothing changes since May already elapsed when generated in June
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decodeAs[api.OverdueReportDTO](t, rec)
	assert.Equal(t, 1, report.Examined)
	assert.Empty(t, report.Changes)
}

func TestRuns(t *testing.T) {
	// GIVEN: One generation and one confirmation request
	s := newTestServer(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-06")
	s.do(t, http.MethodPost, "/api/generate", map[string]any{"period": "2025-06"})

	// WHEN: Listing runs
	rec := s.do(t, http.MethodGet, "/api/runs?limit=10", nil)

	// THEN: Newest first
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decodeAs[[]api.RunDTO](t, rec)
	require.Len(t, runs, 2)
	assert.Equal(t, "needs_confirmation", runs[0].Status)
	assert.Equal(t, "completed", runs[1].Status)
	assert.Equal(t, 1, runs[1].Created)

	rec = s.do(t, http.MethodGet, "/api/runs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// INTEGRATIONS
// =============================================================================

func TestSheets_Unconfigured(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/sheets/export", map[string]any{"period": "2025-06"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/sheets/import", map[string]any{"range": "Payments!A2:F"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/sheets/import", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
