package sheets

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
)

// Ledger is the billing surface the bridge needs. *billing.Service satisfies it.
type Ledger interface {
	ListResidents(ctx context.Context, filter billing.ResidentFilter) ([]billing.Resident, error)
	MonthRegister(ctx context.Context, period billing.Period) ([]billing.PaymentPeriod, error)
	RecordPayment(ctx context.Context, id billing.ResidentID, period billing.Period, u billing.PaymentUpdate) (*billing.PaymentResult, error)
}

// ExportHeader is the first row written by Export.
var ExportHeader = []interface{}{
	"Resident ID", "Unit", "Name", "Period", "Amount Due", "Amount Paid",
	"Balance", "Status", "Payment Date", "Method", "Transaction ID",
}

const dateLayout = "2006-01-02"

// =============================================================================
// EXPORT
// =============================================================================

// Export writes the register for period at rng (e.g. "2024-03!A1") and
// returns the number of data rows.
func (c *Client) Export(ctx context.Context, ledger Ledger, period billing.Period, rng string) (int, error) {
	if err := c.Err(); err != nil {
		return 0, err
	}
	if rng == "" {
		rng = period.String() + "!A1"
	}

	residents, err := ledger.ListResidents(ctx, billing.ResidentFilter{})
	if err != nil {
		return 0, err
	}
	byID := make(map[billing.ResidentID]billing.Resident, len(residents))
	for _, r := range residents {
		byID[r.ID] = r
	}
	register, err := ledger.MonthRegister(ctx, period)
	if err != nil {
		return 0, err
	}

	values := [][]interface{}{ExportHeader}
	for _, p := range register {
		values = append(values, exportRow(byID[p.ResidentID], p))
	}
	if err := c.write(ctx, rng, values); err != nil {
		return 0, err
	}

	c.logger.WithFields(logrus.Fields{
		"period": period.String(),
		"range":  rng,
		"rows":   len(register),
	}).Info("exported register to sheets")
	return len(register), nil
}

func exportRow(r billing.Resident, p billing.PaymentPeriod) []interface{} {
	date := ""
	if p.PaymentDate != nil {
		date = p.PaymentDate.Format(dateLayout)
	}
	return []interface{}{
		string(p.ResidentID), r.Unit, r.Name, p.Period.String(),
		billing.FormatAmount(p.AmountDue), billing.FormatAmount(p.AmountPaid),
		billing.FormatAmount(p.Balance()), string(p.Status),
		date, p.PaymentMethod, p.TransactionID,
	}
}

// =============================================================================
// IMPORT
// =============================================================================

// PaymentRow is one parsed import row:
//
//	Resident ID | Period | Amount Paid | Payment Date | Method | Transaction ID
type PaymentRow struct {
	ResidentID    billing.ResidentID
	Period        billing.Period
	AmountPaid    decimal.Decimal
	PaymentDate   *time.Time
	PaymentMethod string
	TransactionID string
}

// RowFailure is an import row that was not applied. Row is 1-based, as in
// the sheet.
type RowFailure struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportReport struct {
	Rows     int          `json:"rows"`
	Applied  int          `json:"applied"`
	Skipped  int          `json:"skipped"`
	Failures []RowFailure `json:"failures"`
}

// Import reads payment rows from rng and records each through the ledger.
// A bad row is reported and skipped; the others still apply.
func (c *Client) Import(ctx context.Context, ledger Ledger, rng string) (*ImportReport, error) {
	values, err := c.read(ctx, rng)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{Failures: []RowFailure{}}
	for i, raw := range values {
		rowNum := i + 1
		if i == 0 && isHeader(raw) {
			continue
		}
		if isBlank(raw) {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Rows++

		row, err := ParsePaymentRow(raw)
		if err != nil {
			report.Failures = append(report.Failures, RowFailure{Row: rowNum, Reason: err.Error()})
			continue
		}
		_, err = ledger.RecordPayment(ctx, row.ResidentID, row.Period, billing.PaymentUpdate{
			AmountPaid:    row.AmountPaid,
			PaymentDate:   row.PaymentDate,
			PaymentMethod: row.PaymentMethod,
			TransactionID: row.TransactionID,
			Remarks:       fmt.Sprintf("Imported from sheet row %d", rowNum),
		})
		if err != nil {
			if !billing.IsClientError(err) && !billing.IsNotFound(err) {
				return report, fmt.Errorf("row %d: %w", rowNum, err)
			}
			report.Failures = append(report.Failures, RowFailure{Row: rowNum, Reason: err.Error()})
			continue
		}
		report.Applied++
	}

	c.logger.WithFields(logrus.Fields{
		"range":   rng,
		"rows":    report.Rows,
		"applied": report.Applied,
		"failed":  len(report.Failures),
	}).Info("imported payments from sheets")
	return report, nil
}

// ParsePaymentRow cleans and parses one sheet row.
func ParsePaymentRow(raw []interface{}) (PaymentRow, error) {
	cell := func(i int) string {
		if i >= len(raw) || raw[i] == nil {
			return ""
		}
		return CleanCell(fmt.Sprint(raw[i]))
	}

	var row PaymentRow
	row.ResidentID = billing.ResidentID(cell(0))
	if row.ResidentID == "" {
		return row, fmt.Errorf("resident id is empty")
	}

	period, err := billing.ParsePeriod(cell(1))
	if err != nil {
		return row, err
	}
	row.Period = period

	amount, err := ParseAmount(cell(2))
	if err != nil {
		return row, err
	}
	row.AmountPaid = amount

	if d := cell(3); d != "" {
		t, err := time.Parse(dateLayout, d)
		if err != nil {
			return row, fmt.Errorf("payment date %q: expected YYYY-MM-DD", d)
		}
		row.PaymentDate = &t
	}
	row.PaymentMethod = strings.ToLower(strings.ReplaceAll(cell(4), " ", "_"))
	row.TransactionID = cell(5)
	return row, nil
}

// CleanCell strips the byte-order mark and turns non-breaking spaces into
// plain spaces, then trims.
func CleanCell(s string) string {
	s = strings.ReplaceAll(s, "\ufeff", "")
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(s)
}

var currencyTokens = []string{"\u20b9", "INR", "Rs.", "Rs", "$"}

// ParseAmount reads a money cell such as "₹ 1,500.00" or "Rs.1500".
// An empty cell is zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = CleanCell(s)
	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amount %q: %w", s, billing.ErrInvalidAmount)
	}
	return d, nil
}

func isHeader(raw []interface{}) bool {
	return len(raw) > 0 && strings.EqualFold(CleanCell(fmt.Sprint(raw[0])), "resident id")
}

func isBlank(raw []interface{}) bool {
	for _, v := range raw {
		if v != nil && CleanCell(fmt.Sprint(v)) != "" {
			return false
		}
	}
	return true
}
