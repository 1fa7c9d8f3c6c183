/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are returned as fixed two-decimal strings ("1200.00"). Request
  amounts accept either a JSON number or a string; both decode into
  decimal.Decimal without passing through float64.

VALIDATION:
  Validation is done by the billing service, not in DTOs. DTOs are pure
  data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/notify"
	"github.com/warp/rwa-ledger/sheets"
)

// =============================================================================
// RESIDENTS
// =============================================================================

type ResidentDTO struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Unit            string `json:"unit"`
	Phone           string `json:"phone,omitempty"`
	Email           string `json:"email,omitempty"`
	BaseMaintenance string `json:"base_maintenance"`
	Occupancy       string `json:"occupancy"`
	CreatedAt       string `json:"created_at,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

type CreateResidentRequest struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	Phone           string          `json:"phone"`
	Email           string          `json:"email"`
	BaseMaintenance decimal.Decimal `json:"base_maintenance"`
	Occupancy       string          `json:"occupancy"`
}

// UpdateResidentRequest changes profile fields. Omitted fields are kept.
type UpdateResidentRequest struct {
	Name      *string `json:"name"`
	Unit      *string `json:"unit"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
	Occupancy *string `json:"occupancy"`
}

type ChangeMaintenanceRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	EffectiveFrom string          `json:"effective_from"`
	Recalculate   bool            `json:"recalculate"`
	DryRun        bool            `json:"dry_run"`
}

type MaintenanceResultDTO struct {
	Resident ResidentDTO             `json:"resident"`
	Cascade  *RecalculationReportDTO `json:"cascade,omitempty"`
}

// =============================================================================
// PAYMENT PERIODS
// =============================================================================

type PaymentPeriodDTO struct {
	ID            string `json:"id"`
	ResidentID    string `json:"resident_id"`
	Period        string `json:"period"`
	AmountDue     string `json:"amount_due"`
	AmountPaid    string `json:"amount_paid"`
	Balance       string `json:"balance"`
	Status        string `json:"status"`
	PaymentDate   string `json:"payment_date,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Remarks       string `json:"remarks,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

type CreatePaymentPeriodRequest struct {
	ResidentID string `json:"resident_id"`
	Period     string `json:"period"`
}

// RecordPaymentRequest sets the total paid for a period.
type RecordPaymentRequest struct {
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	PaymentDate   string          `json:"payment_date"` // YYYY-MM-DD
	PaymentMethod string          `json:"payment_method"`
	TransactionID string          `json:"transaction_id"`
	Remarks       string          `json:"remarks"`
}

type AdjustPeriodRequest struct {
	AmountDue  *decimal.Decimal `json:"amount_due"`
	AmountPaid *decimal.Decimal `json:"amount_paid"`
	Remarks    string           `json:"remarks"`
}

type PaymentResultDTO struct {
	Payment PaymentPeriodDTO        `json:"payment"`
	Cascade *RecalculationReportDTO `json:"cascade,omitempty"`
}

type BreakdownDTO struct {
	ResidentID      string `json:"resident_id"`
	Period          string `json:"period"`
	BaseMaintenance string `json:"base_maintenance"`
	CarryForward    string `json:"carry_forward"`
	AmountDue       string `json:"amount_due"`
	PreviousPeriod  string `json:"previous_period,omitempty"`
	PreviousBalance string `json:"previous_balance,omitempty"`
}

// =============================================================================
// ORCHESTRATORS
// =============================================================================

type GenerateRequest struct {
	Period string `json:"period"`
	Force  bool   `json:"force"`
	DryRun bool   `json:"dry_run"`
}

type GenerationLineDTO struct {
	ResidentID      string `json:"resident_id"`
	Name            string `json:"name"`
	Unit            string `json:"unit"`
	BaseMaintenance string `json:"base_maintenance"`
	CarryForward    string `json:"carry_forward"`
	AmountDue       string `json:"amount_due"`
	AmountPaid      string `json:"amount_paid"`
	Status          string `json:"status"`
	Action          string `json:"action"`
}

type GenerationReportDTO struct {
	Period            string                    `json:"period"`
	DryRun            bool                      `json:"dry_run"`
	NeedsConfirmation bool                      `json:"needs_confirmation"`
	Existing          int                       `json:"existing"`
	Attempted         int                       `json:"attempted"`
	Created           int                       `json:"created"`
	Updated           int                       `json:"updated"`
	Failed            int                       `json:"failed"`
	TotalCarryForward string                    `json:"total_carry_forward"`
	TotalAmountDue    string                    `json:"total_amount_due"`
	Lines             []GenerationLineDTO       `json:"lines"`
	Failures          []billing.ResidentFailure `json:"failures"`
}

type RecalculateRequest struct {
	FromPeriod string `json:"from_period"`
	DryRun     bool   `json:"dry_run"`
}

type PeriodChangeDTO struct {
	Period       string `json:"period"`
	OldDue       string `json:"old_due"`
	NewDue       string `json:"new_due"`
	CarryForward string `json:"carry_forward"`
	Delta        string `json:"delta"`
	OldStatus    string `json:"old_status"`
	NewStatus    string `json:"new_status"`
}

type RecalculationReportDTO struct {
	ResidentID      string            `json:"resident_id"`
	FromPeriod      string            `json:"from_period"`
	DryRun          bool              `json:"dry_run"`
	BaseMaintenance string            `json:"base_maintenance"`
	Examined        int               `json:"examined"`
	TotalDelta      string            `json:"total_delta"`
	Changes         []PeriodChangeDTO `json:"changes"`
}

type OverdueReportDTO struct {
	Examined int               `json:"examined"`
	Changes  []PeriodChangeDTO `json:"changes"`
}

type DefaulterDTO struct {
	Resident      ResidentDTO `json:"resident"`
	UnpaidPeriods []string    `json:"unpaid_periods"`
	OldestUnpaid  string      `json:"oldest_unpaid"`
	MonthsOverdue int         `json:"months_overdue"`
	Outstanding   string      `json:"outstanding"`
}

type NotifyDefaultersRequest struct {
	Months *int   `json:"months"`
	AsOf   string `json:"as_of"`
}

type NotifyDefaultersResponse struct {
	Defaulters int            `json:"defaulters"`
	Report     *notify.Report `json:"report"`
}

type RunDTO struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Period      string `json:"period,omitempty"`
	ResidentID  string `json:"resident_id,omitempty"`
	DryRun      bool   `json:"dry_run"`
	Status      string `json:"status"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Changed     int    `json:"changed"`
	Failed      int    `json:"failed"`
	TotalDue    string `json:"total_due"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// =============================================================================
// SHEETS
// =============================================================================

type SheetsExportRequest struct {
	Period string `json:"period"`
	Range  string `json:"range"`
}

type SheetsExportResponse struct {
	Period string `json:"period"`
	Rows   int    `json:"rows"`
}

type SheetsImportRequest struct {
	Range string `json:"range"`
}

type SheetsImportResponse = sheets.ImportReport

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo society.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// GenerationErrorResponse carries the partial report of an aborted batch:
// what was attempted and which resident stopped it. Nothing was written.
type GenerationErrorResponse struct {
	ErrorResponse
	Report *GenerationReportDTO `json:"report"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toResidentDTO(r billing.Resident) ResidentDTO {
	return ResidentDTO{
		ID:              string(r.ID),
		Name:            r.Name,
		Unit:            r.Unit,
		Phone:           r.Phone,
		Email:           r.Email,
		BaseMaintenance: billing.FormatAmount(r.BaseMaintenance),
		Occupancy:       string(r.Occupancy),
		CreatedAt:       formatTime(r.CreatedAt),
		UpdatedAt:       formatTime(r.UpdatedAt),
	}
}

func toPaymentPeriodDTO(p billing.PaymentPeriod) PaymentPeriodDTO {
	dto := PaymentPeriodDTO{
		ID:            p.ID,
		ResidentID:    string(p.ResidentID),
		Period:        p.Period.String(),
		AmountDue:     billing.FormatAmount(p.AmountDue),
		AmountPaid:    billing.FormatAmount(p.AmountPaid),
		Balance:       billing.FormatAmount(p.Balance()),
		Status:        string(p.Status),
		PaymentMethod: p.PaymentMethod,
		TransactionID: p.TransactionID,
		Remarks:       p.Remarks,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
	if p.PaymentDate != nil {
		dto.PaymentDate = p.PaymentDate.Format("2006-01-02")
	}
	return dto
}

func toPaymentPeriodDTOs(ps []billing.PaymentPeriod) []PaymentPeriodDTO {
	out := make([]PaymentPeriodDTO, len(ps))
	for i, p := range ps {
		out[i] = toPaymentPeriodDTO(p)
	}
	return out
}

func toBreakdownDTO(b billing.Breakdown) BreakdownDTO {
	dto := BreakdownDTO{
		ResidentID:      string(b.ResidentID),
		Period:          b.Period.String(),
		BaseMaintenance: billing.FormatAmount(b.BaseMaintenance),
		CarryForward:    billing.FormatAmount(b.CarryForward),
		AmountDue:       billing.FormatAmount(b.AmountDue),
	}
	if b.Previous != nil {
		dto.PreviousPeriod = b.Previous.Period.String()
		dto.PreviousBalance = billing.FormatAmount(b.Previous.Balance())
	}
	return dto
}

func toGenerationReportDTO(r *billing.GenerationReport) GenerationReportDTO {
	dto := GenerationReportDTO{
		Period:            r.Period.String(),
		DryRun:            r.DryRun,
		NeedsConfirmation: r.NeedsConfirmation,
		Existing:          r.Existing,
		Attempted:         r.Attempted,
		Created:           r.Created,
		Updated:           r.Updated,
		Failed:            r.Failed(),
		TotalCarryForward: billing.FormatAmount(r.TotalCarryForward),
		TotalAmountDue:    billing.FormatAmount(r.TotalAmountDue),
		Lines:             make([]GenerationLineDTO, len(r.Lines)),
		Failures:          r.Failures,
	}
	if dto.Failures == nil {
		dto.Failures = []billing.ResidentFailure{}
	}
	for i, l := range r.Lines {
		dto.Lines[i] = GenerationLineDTO{
			ResidentID:      string(l.ResidentID),
			Name:            l.Name,
			Unit:            l.Unit,
			BaseMaintenance: billing.FormatAmount(l.BaseMaintenance),
			CarryForward:    billing.FormatAmount(l.CarryForward),
			AmountDue:       billing.FormatAmount(l.AmountDue),
			AmountPaid:      billing.FormatAmount(l.AmountPaid),
			Status:          string(l.Status),
			Action:          string(l.Action),
		}
	}
	return dto
}

func toPeriodChangeDTOs(changes []billing.PeriodChange) []PeriodChangeDTO {
	out := make([]PeriodChangeDTO, len(changes))
	for i, c := range changes {
		out[i] = PeriodChangeDTO{
			Period:       c.Period.String(),
			OldDue:       billing.FormatAmount(c.OldDue),
			NewDue:       billing.FormatAmount(c.NewDue),
			CarryForward: billing.FormatAmount(c.CarryForward),
			Delta:        billing.FormatAmount(c.Delta),
			OldStatus:    string(c.OldStatus),
			NewStatus:    string(c.NewStatus),
		}
	}
	return out
}

func toRecalculationReportDTO(r *billing.RecalculationReport) *RecalculationReportDTO {
	if r == nil {
		return nil
	}
	return &RecalculationReportDTO{
		ResidentID:      string(r.ResidentID),
		FromPeriod:      r.FromPeriod.String(),
		DryRun:          r.DryRun,
		BaseMaintenance: billing.FormatAmount(r.BaseMaintenance),
		Examined:        r.Examined,
		TotalDelta:      billing.FormatAmount(r.TotalDelta()),
		Changes:         toPeriodChangeDTOs(r.Changes),
	}
}

func toPaymentResultDTO(r *billing.PaymentResult) PaymentResultDTO {
	return PaymentResultDTO{
		Payment: toPaymentPeriodDTO(r.Payment),
		Cascade: toRecalculationReportDTO(r.Cascade),
	}
}

func toDefaulterDTO(d billing.Defaulter) DefaulterDTO {
	periods := make([]string, len(d.UnpaidPeriods))
	for i, p := range d.UnpaidPeriods {
		periods[i] = p.String()
	}
	return DefaulterDTO{
		Resident:      toResidentDTO(d.Resident),
		UnpaidPeriods: periods,
		OldestUnpaid:  d.OldestUnpaid.String(),
		MonthsOverdue: d.MonthsOverdue,
		Outstanding:   billing.FormatAmount(d.Outstanding),
	}
}

func toRunDTO(r billing.Run) RunDTO {
	dto := RunDTO{
		ID:         r.ID,
		Kind:       string(r.Kind),
		Period:     r.Period.String(),
		ResidentID: string(r.ResidentID),
		DryRun:     r.DryRun,
		Status:     string(r.Status),
		Created:    r.Created,
		Updated:    r.Updated,
		Changed:    r.Changed,
		Failed:     r.Failed,
		TotalDue:   billing.FormatAmount(r.TotalDue),
		Error:      r.Error,
		StartedAt:  formatTime(r.StartedAt),
	}
	if r.CompletedAt != nil {
		dto.CompletedAt = formatTime(*r.CompletedAt)
	}
	return dto
}
