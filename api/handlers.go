/*
handlers.go - HTTP API handlers for the RWA ledger

PURPOSE:
  Exposes the billing service via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the billing service.

ENDPOINTS:
  Residents:
    GET    /api/residents                          List (?occupancy=)
    POST   /api/residents                          Create
    GET    /api/residents/{id}                     Get
    PUT    /api/residents/{id}                     Update profile
    DELETE /api/residents/{id}                     Delete (no ledger history)
    PUT    /api/residents/{id}/maintenance         Change base maintenance
    GET    /api/residents/{id}/payments            Ledger (?from=)
    GET    /api/residents/{id}/carry-forward       Amount-due preview (?period=)
    POST   /api/residents/{id}/recalculate         Cascade recalculation

  Payment periods:
    PUT    /api/residents/{id}/payments/{period}   Record payment
    PATCH  /api/residents/{id}/payments/{period}   Adjust due/paid
    DELETE /api/residents/{id}/payments/{period}   Delete record
    GET    /api/payments?period=                   Month register
    POST   /api/payments                           Create single record

  Orchestrators:
    POST   /api/generate                           Monthly generation
    POST   /api/overdue/refresh                    Re-derive statuses
    GET    /api/defaulters                         Defaulter report
    POST   /api/defaulters/notify                  Reminder e-mails
    GET    /api/runs                               Run log

  Integrations:
    POST   /api/sheets/export
    POST   /api/sheets/import

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resident or payment period not found
  - 409: Conflict (duplicate period, needs confirmation, lock timeout)
  - 503: Integration not configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Deploy behind the association's
  own access control.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo society loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/notify"
	"github.com/warp/rwa-ledger/sheets"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data. Used by the demo scenarios.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service  *billing.Service
	Sheets   *sheets.Client
	Notifier *notify.Sender
	Store    Resetter
	Logger   logrus.FieldLogger

	MaxBackfillMonths int
	DefaulterMonths   int
	Now               func() time.Time

	// Track currently loaded scenario
	scenarioMu      sync.RWMutex
	currentScenario string
}

// NewHandler creates a handler around svc. Integrations start unavailable
// until set.
func NewHandler(svc *billing.Service, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		Service:           svc,
		Sheets:            sheets.Unavailable("not configured"),
		Notifier:          notify.NewSender(notify.SMTPConfig{}, logger),
		Logger:            logger,
		MaxBackfillMonths: billing.DefaultMaxBackfillMonths,
		DefaulterMonths:   3,
		Now:               time.Now,
	}
}

func (h *Handler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESIDENT HANDLERS
// =============================================================================

// ListResidents returns residents, optionally filtered by occupancy.
func (h *Handler) ListResidents(w http.ResponseWriter, r *http.Request) {
	var filter billing.ResidentFilter
	if occ := r.URL.Query().Get("occupancy"); occ != "" {
		o := billing.Occupancy(occ)
		if !o.Valid() {
			writeError(w, http.StatusBadRequest, "Invalid occupancy (use occupied or vacant)", nil)
			return
		}
		filter.Occupancy = &o
	}

	residents, err := h.Service.ListResidents(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list residents", err)
		return
	}

	dtos := make([]ResidentDTO, len(residents))
	for i, res := range residents {
		dtos[i] = toResidentDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetResident returns a single resident.
func (h *Handler) GetResident(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.GetResident(r.Context(), residentParam(r))
	if err != nil {
		h.writeServiceError(w, r, "Failed to get resident", err)
		return
	}
	writeJSON(w, http.StatusOK, toResidentDTO(*res))
}

// CreateResident creates a new resident.
func (h *Handler) CreateResident(w http.ResponseWriter, r *http.Request) {
	var req CreateResidentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := h.Service.CreateResident(r.Context(), billing.NewResident{
		ID:              billing.ResidentID(req.ID),
		Name:            req.Name,
		Unit:            req.Unit,
		Phone:           req.Phone,
		Email:           req.Email,
		BaseMaintenance: req.BaseMaintenance,
		Occupancy:       billing.Occupancy(req.Occupancy),
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to create resident", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResidentDTO(*res))
}

// UpdateResident edits profile fields.
func (h *Handler) UpdateResident(w http.ResponseWriter, r *http.Request) {
	var req UpdateResidentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	update := billing.ResidentUpdate{
		Name:  req.Name,
		Unit:  req.Unit,
		Phone: req.Phone,
		Email: req.Email,
	}
	if req.Occupancy != nil {
		o := billing.Occupancy(*req.Occupancy)
		update.Occupancy = &o
	}

	res, err := h.Service.UpdateResident(r.Context(), residentParam(r), update)
	if err != nil {
		h.writeServiceError(w, r, "Failed to update resident", err)
		return
	}
	writeJSON(w, http.StatusOK, toResidentDTO(*res))
}

// DeleteResident removes a resident without ledger history.
func (h *Handler) DeleteResident(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.DeleteResident(r.Context(), residentParam(r)); err != nil {
		h.writeServiceError(w, r, "Failed to delete resident", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChangeMaintenance sets a new base maintenance, optionally recalculating.
func (h *Handler) ChangeMaintenance(w http.ResponseWriter, r *http.Request) {
	var req ChangeMaintenanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, ok := optionalPeriod(w, req.EffectiveFrom, "effective_from")
	if !ok {
		return
	}

	result, err := h.Service.ChangeMaintenance(r.Context(), residentParam(r), billing.MaintenanceChange{
		Amount:        req.Amount,
		EffectiveFrom: from,
		Recalculate:   req.Recalculate,
		DryRun:        req.DryRun,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to change maintenance", err)
		return
	}
	writeJSON(w, http.StatusOK, MaintenanceResultDTO{
		Resident: toResidentDTO(result.Resident),
		Cascade:  toRecalculationReportDTO(result.Cascade),
	})
}

// GetResidentPayments returns the resident's ledger.
func (h *Handler) GetResidentPayments(w http.ResponseWriter, r *http.Request) {
	from, ok := optionalPeriod(w, r.URL.Query().Get("from"), "from")
	if !ok {
		return
	}
	ledger, err := h.Service.ResidentLedger(r.Context(), residentParam(r), from)
	if err != nil {
		h.writeServiceError(w, r, "Failed to load payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentPeriodDTOs(ledger))
}

// GetCarryForward previews how a period's amount due is built.
func (h *Handler) GetCarryForward(w http.ResponseWriter, r *http.Request) {
	period, ok := requiredPeriod(w, r.URL.Query().Get("period"), "period")
	if !ok {
		return
	}
	b, err := h.Service.Preview(r.Context(), residentParam(r), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute carry-forward", err)
		return
	}
	writeJSON(w, http.StatusOK, toBreakdownDTO(b))
}

// Recalculate runs the cascade for one resident.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	var req RecalculateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, ok := requiredPeriod(w, req.FromPeriod, "from_period")
	if !ok {
		return
	}

	report, err := h.Service.RecalculateForward(r.Context(), residentParam(r), from,
		billing.RecalculateOptions{DryRun: req.DryRun})
	if err != nil {
		h.writeServiceError(w, r, "Recalculation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalculationReportDTO(report))
}

// =============================================================================
// PAYMENT PERIOD HANDLERS
// =============================================================================

// RecordPayment sets the amount paid for a period.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	period, ok := requiredPeriod(w, chi.URLParam(r, "period"), "period")
	if !ok {
		return
	}
	var req RecordPaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	update := billing.PaymentUpdate{
		AmountPaid:    req.AmountPaid,
		PaymentMethod: req.PaymentMethod,
		TransactionID: req.TransactionID,
		Remarks:       req.Remarks,
	}
	if req.PaymentDate != "" {
		d, err := time.Parse("2006-01-02", req.PaymentDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid payment_date format (use YYYY-MM-DD)", err)
			return
		}
		update.PaymentDate = &d
	}

	result, err := h.Service.RecordPayment(r.Context(), residentParam(r), period, update)
	if err != nil {
		h.writeServiceError(w, r, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResultDTO(result))
}

// AdjustPeriod corrects a historical period.
func (h *Handler) AdjustPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := requiredPeriod(w, chi.URLParam(r, "period"), "period")
	if !ok {
		return
	}
	var req AdjustPeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.Service.AdjustPeriod(r.Context(), residentParam(r), period, billing.PeriodAdjustment{
		AmountDue:  req.AmountDue,
		AmountPaid: req.AmountPaid,
		Remarks:    req.Remarks,
	})
	if err != nil {
		h.writeServiceError(w, r, "Failed to adjust period", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResultDTO(result))
}

// DeletePaymentPeriod removes one record and recalculates the months after it.
func (h *Handler) DeletePaymentPeriod(w http.ResponseWriter, r *http.Request) {
	period, ok := requiredPeriod(w, chi.URLParam(r, "period"), "period")
	if !ok {
		return
	}
	cascade, err := h.Service.DeletePaymentPeriod(r.Context(), residentParam(r), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to delete payment period", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalculationReportDTO(cascade))
}

// ListPayments returns the register for one month.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("period")
	period := billing.PeriodOf(h.now())
	if raw != "" {
		var ok bool
		if period, ok = requiredPeriod(w, raw, "period"); !ok {
			return
		}
	}
	register, err := h.Service.MonthRegister(r.Context(), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentPeriodDTOs(register))
}

// CreatePaymentPeriod creates one resident's record for a month.
func (h *Handler) CreatePaymentPeriod(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentPeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, ok := h.entryPeriod(w, req.Period)
	if !ok {
		return
	}
	if req.ResidentID == "" {
		writeError(w, http.StatusBadRequest, "resident_id is required", nil)
		return
	}

	result, err := h.Service.CreatePaymentPeriod(r.Context(), billing.ResidentID(req.ResidentID), period)
	if err != nil {
		h.writeServiceError(w, r, "Failed to create payment period", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentResultDTO(result))
}

// =============================================================================
// ORCHESTRATOR HANDLERS
// =============================================================================

// Generate runs monthly generation. Existing records without force yield
// 409 with the report so the client can ask for confirmation.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, ok := h.entryPeriod(w, req.Period)
	if !ok {
		return
	}

	report, err := h.Service.GenerateForMonth(r.Context(), period,
		billing.GenerateOptions{Force: req.Force, DryRun: req.DryRun})
	if err != nil {
		if report == nil {
			h.writeServiceError(w, r, "Generation failed", err)
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			requestLogger(h.Logger, r).WithFields(logrus.Fields{
				"period":    period.String(),
				"attempted": report.Attempted,
				"failed":    report.Failed(),
			}).WithError(err).Error("Generation failed")
		}
		dto := toGenerationReportDTO(report)
		writeJSON(w, status, GenerationErrorResponse{
			ErrorResponse: ErrorResponse{Error: "Generation failed", Details: err.Error()},
			Report:        &dto,
		})
		return
	}

	status := http.StatusCreated
	switch {
	case report.NeedsConfirmation:
		status = http.StatusConflict
	case report.DryRun:
		status = http.StatusOK
	}
	h.Logger.WithFields(logrus.Fields{
		"period":  period.String(),
		"created": report.Created,
		"updated": report.Updated,
		"failed":  report.Failed(),
		"dry_run": report.DryRun,
	}).Info("generation finished")
	writeJSON(w, status, toGenerationReportDTO(report))
}

// RefreshOverdue re-derives statuses against the clock.
func (h *Handler) RefreshOverdue(w http.ResponseWriter, r *http.Request) {
	report, err := h.Service.RefreshOverdue(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "Overdue refresh failed", err)
		return
	}
	writeJSON(w, http.StatusOK, OverdueReportDTO{
		Examined: report.Examined,
		Changes:  toPeriodChangeDTOs(report.Changes),
	})
}

// ListDefaulters returns the defaulter report.
func (h *Handler) ListDefaulters(w http.ResponseWriter, r *http.Request) {
	defaulters, ok := h.defaulters(w, r, r.URL.Query().Get("months"), r.URL.Query().Get("as_of"))
	if !ok {
		return
	}
	dtos := make([]DefaulterDTO, len(defaulters))
	for i, d := range defaulters {
		dtos[i] = toDefaulterDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// NotifyDefaulters e-mails every defaulter with an address.
func (h *Handler) NotifyDefaulters(w http.ResponseWriter, r *http.Request) {
	var req NotifyDefaultersRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Notifier.Err(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "E-mail is not configured", err)
		return
	}
	months := ""
	if req.Months != nil {
		months = strconv.Itoa(*req.Months)
	}
	defaulters, ok := h.defaulters(w, r, months, req.AsOf)
	if !ok {
		return
	}

	report, err := h.Notifier.SendReminders(r.Context(), defaulters)
	if err != nil {
		h.writeServiceError(w, r, "Failed to send reminders", err)
		return
	}
	writeJSON(w, http.StatusOK, NotifyDefaultersResponse{Defaulters: len(defaulters), Report: report})
}

func (h *Handler) defaulters(w http.ResponseWriter, r *http.Request, rawMonths, rawAsOf string) ([]billing.Defaulter, bool) {
	months := h.DefaulterMonths
	if rawMonths != "" {
		n, err := strconv.Atoi(rawMonths)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "months must be a non-negative integer", err)
			return nil, false
		}
		months = n
	}
	asOf, ok := optionalPeriod(w, rawAsOf, "as_of")
	if !ok {
		return nil, false
	}
	if asOf.IsZero() {
		asOf = billing.PeriodOf(h.now())
	}

	defaulters, err := h.Service.Defaulters(r.Context(), asOf, months)
	if err != nil {
		h.writeServiceError(w, r, "Failed to compute defaulters", err)
		return nil, false
	}
	return defaulters, true
}

// ListRuns returns recent orchestrator runs (?limit=, default 50).
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", err)
			return
		}
		limit = n
	}
	runs, err := h.Service.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeServiceError(w, r, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SHEETS HANDLERS
// =============================================================================

// ExportSheets writes a month's register to the spreadsheet.
func (h *Handler) ExportSheets(w http.ResponseWriter, r *http.Request) {
	var req SheetsExportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	period, ok := requiredPeriod(w, req.Period, "period")
	if !ok {
		return
	}
	rows, err := h.Sheets.Export(r.Context(), h.Service, period, req.Range)
	if err != nil {
		h.writeServiceError(w, r, "Sheets export failed", err)
		return
	}
	writeJSON(w, http.StatusOK, SheetsExportResponse{Period: period.String(), Rows: rows})
}

// ImportSheets records payment rows read from the spreadsheet.
func (h *Handler) ImportSheets(w http.ResponseWriter, r *http.Request) {
	var req SheetsImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Range == "" {
		writeError(w, http.StatusBadRequest, "range is required", nil)
		return
	}
	report, err := h.Sheets.Import(r.Context(), h.Service, req.Range)
	if err != nil {
		h.writeServiceError(w, r, "Sheets import failed", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// HELPERS
// =============================================================================

func residentParam(r *http.Request) billing.ResidentID {
	return billing.ResidentID(chi.URLParam(r, "id"))
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func requiredPeriod(w http.ResponseWriter, raw, field string) (billing.Period, bool) {
	if raw == "" {
		writeError(w, http.StatusBadRequest, field+" is required (YYYY-MM)", nil)
		return billing.Period{}, false
	}
	p, err := billing.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid "+field+" (use YYYY-MM)", err)
		return billing.Period{}, false
	}
	return p, true
}

func optionalPeriod(w http.ResponseWriter, raw, field string) (billing.Period, bool) {
	if raw == "" {
		return billing.Period{}, true
	}
	return requiredPeriod(w, raw, field)
}

// entryPeriod parses a period that new records will be created for.
func (h *Handler) entryPeriod(w http.ResponseWriter, raw string) (billing.Period, bool) {
	p, ok := requiredPeriod(w, raw, "period")
	if !ok {
		return p, false
	}
	if err := billing.ValidateEntryPeriod(p, h.now(), h.MaxBackfillMonths); err != nil {
		writeError(w, http.StatusBadRequest, "Period out of range", err)
		return p, false
	}
	return p, true
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, sheets.ErrUnavailable), errors.Is(err, notify.ErrUnavailable):
		return http.StatusServiceUnavailable
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		requestLogger(h.Logger, r).WithError(err).Error(message)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
