package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/rwa-ledger/billing"
)

// =============================================================================
// RESIDENTS
// =============================================================================

const residentColumns = `id, name, unit, phone, email, base_maintenance, occupancy, created_at, updated_at`

func (c conn) GetResident(ctx context.Context, id billing.ResidentID) (*billing.Resident, error) {
	row := c.queryRow(ctx, `SELECT `+residentColumns+` FROM residents WHERE id = ?`, string(id))
	r, err := scanResident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, billing.ErrResidentNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c conn) ListResidents(ctx context.Context, filter billing.ResidentFilter) ([]billing.Resident, error) {
	query := `SELECT ` + residentColumns + ` FROM residents`
	var args []any
	if filter.Occupancy != nil {
		query += ` WHERE occupancy = ?`
		args = append(args, string(*filter.Occupancy))
	}
	query += ` ORDER BY id`

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []billing.Resident{}
	for rows.Next() {
		r, err := scanResident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c conn) SaveResident(ctx context.Context, r billing.Resident) error {
	query := `
		INSERT INTO residents (` + residentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			unit = excluded.unit,
			phone = excluded.phone,
			email = excluded.email,
			base_maintenance = excluded.base_maintenance,
			occupancy = excluded.occupancy,
			updated_at = excluded.updated_at
	`
	_, err := c.exec(ctx, query,
		string(r.ID),
		r.Name,
		r.Unit,
		nullString(r.Phone),
		nullString(r.Email),
		r.BaseMaintenance.String(),
		string(r.Occupancy),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save resident: %w", err)
	}
	return nil
}

func (c conn) DeleteResident(ctx context.Context, id billing.ResidentID) error {
	res, err := c.exec(ctx, `DELETE FROM residents WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete resident: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, billing.ErrResidentNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResident(row scanner) (billing.Resident, error) {
	var (
		r                    billing.Resident
		id, occupancy        string
		phone, email         sql.NullString
		base                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &r.Name, &r.Unit, &phone, &email, &base, &occupancy, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	amount, err := decimal.NewFromString(base)
	if err != nil {
		return r, fmt.Errorf("resident %s base_maintenance %q: %w", id, base, err)
	}
	r.ID = billing.ResidentID(id)
	r.Phone, r.Email = phone.String, email.String
	r.BaseMaintenance = amount
	r.Occupancy = billing.Occupancy(occupancy)
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// PAYMENT PERIODS
// =============================================================================

const periodColumns = `id, resident_id, period, amount_due, amount_paid, status, payment_date,
	payment_method, transaction_id, remarks, created_at, updated_at`

func (c conn) GetPaymentPeriod(ctx context.Context, id billing.ResidentID, period billing.Period) (*billing.PaymentPeriod, error) {
	row := c.queryRow(ctx, `SELECT `+periodColumns+` FROM payment_periods WHERE resident_id = ? AND period = ?`,
		string(id), period.String())
	p, err := scanPeriod(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (c conn) ListPaymentPeriods(ctx context.Context, id billing.ResidentID, from billing.Period) ([]billing.PaymentPeriod, error) {
	query := `SELECT ` + periodColumns + ` FROM payment_periods WHERE resident_id = ?`
	args := []any{string(id)}
	if !from.IsZero() {
		query += ` AND period >= ?`
		args = append(args, from.String())
	}
	return c.queryPeriods(ctx, query+` ORDER BY period`, args...)
}

func (c conn) ListPaymentPeriodsByPeriod(ctx context.Context, period billing.Period) ([]billing.PaymentPeriod, error) {
	return c.queryPeriods(ctx,
		`SELECT `+periodColumns+` FROM payment_periods WHERE period = ? ORDER BY resident_id`,
		period.String())
}

func (c conn) CountPaymentPeriods(ctx context.Context, period billing.Period) (int, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM payment_periods WHERE period = ?`, period.String()).Scan(&n)
	return n, err
}

func (c conn) UpsertPaymentPeriod(ctx context.Context, p billing.PaymentPeriod) error {
	// id and created_at are left alone on conflict.
	query := `
		INSERT INTO payment_periods (` + periodColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resident_id, period) DO UPDATE SET
			amount_due = excluded.amount_due,
			amount_paid = excluded.amount_paid,
			status = excluded.status,
			payment_date = excluded.payment_date,
			payment_method = excluded.payment_method,
			transaction_id = excluded.transaction_id,
			remarks = excluded.remarks,
			updated_at = excluded.updated_at
	`
	var paymentDate sql.NullString
	if p.PaymentDate != nil {
		paymentDate = nullString(formatTime(*p.PaymentDate))
	}
	_, err := c.exec(ctx, query,
		p.ID,
		string(p.ResidentID),
		p.Period.String(),
		p.AmountDue.String(),
		p.AmountPaid.String(),
		string(p.Status),
		paymentDate,
		nullString(p.PaymentMethod),
		nullString(p.TransactionID),
		nullString(p.Remarks),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payment period id %s: %w", p.ID, billing.ErrDuplicatePeriod)
		}
		return fmt.Errorf("failed to upsert payment period: %w", err)
	}
	return nil
}

func (c conn) DeletePaymentPeriod(ctx context.Context, id billing.ResidentID, period billing.Period) error {
	res, err := c.exec(ctx, `DELETE FROM payment_periods WHERE resident_id = ? AND period = ?`,
		string(id), period.String())
	if err != nil {
		return fmt.Errorf("failed to delete payment period: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w", id, period, billing.ErrPaymentPeriodNotFound)
	}
	return nil
}

func (c conn) queryPeriods(ctx context.Context, query string, args ...any) ([]billing.PaymentPeriod, error) {
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []billing.PaymentPeriod{}
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPeriod(row scanner) (billing.PaymentPeriod, error) {
	var (
		p                     billing.PaymentPeriod
		residentID, period    string
		due, paid, status     string
		paymentDate           sql.NullString
		method, txID, remarks sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(&p.ID, &residentID, &period, &due, &paid, &status, &paymentDate,
		&method, &txID, &remarks, &createdAt, &updatedAt)
	if err != nil {
		return p, err
	}

	if p.Period, err = billing.ParsePeriod(period); err != nil {
		return p, err
	}
	if p.AmountDue, err = decimal.NewFromString(due); err != nil {
		return p, fmt.Errorf("%s %s amount_due %q: %w", residentID, period, due, err)
	}
	if p.AmountPaid, err = decimal.NewFromString(paid); err != nil {
		return p, fmt.Errorf("%s %s amount_paid %q: %w", residentID, period, paid, err)
	}
	p.ResidentID = billing.ResidentID(residentID)
	p.Status = billing.Status(status)
	if paymentDate.Valid {
		t := parseTime(paymentDate.String)
		p.PaymentDate = &t
	}
	p.PaymentMethod = method.String
	p.TransactionID = txID.String
	p.Remarks = remarks.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// =============================================================================
// LOCKED ENTRY POINTS - Store methods outside a transaction
// =============================================================================

func (s *Store) GetResident(ctx context.Context, id billing.ResidentID) (*billing.Resident, error) {
	defer s.rlock()()
	return s.conn.GetResident(ctx, id)
}

func (s *Store) ListResidents(ctx context.Context, filter billing.ResidentFilter) ([]billing.Resident, error) {
	defer s.rlock()()
	return s.conn.ListResidents(ctx, filter)
}

func (s *Store) SaveResident(ctx context.Context, r billing.Resident) error {
	defer s.lock()()
	return s.conn.SaveResident(ctx, r)
}

func (s *Store) DeleteResident(ctx context.Context, id billing.ResidentID) error {
	defer s.lock()()
	return s.conn.DeleteResident(ctx, id)
}

func (s *Store) GetPaymentPeriod(ctx context.Context, id billing.ResidentID, period billing.Period) (*billing.PaymentPeriod, error) {
	defer s.rlock()()
	return s.conn.GetPaymentPeriod(ctx, id, period)
}

func (s *Store) ListPaymentPeriods(ctx context.Context, id billing.ResidentID, from billing.Period) ([]billing.PaymentPeriod, error) {
	defer s.rlock()()
	return s.conn.ListPaymentPeriods(ctx, id, from)
}

func (s *Store) ListPaymentPeriodsByPeriod(ctx context.Context, period billing.Period) ([]billing.PaymentPeriod, error) {
	defer s.rlock()()
	return s.conn.ListPaymentPeriodsByPeriod(ctx, period)
}

func (s *Store) CountPaymentPeriods(ctx context.Context, period billing.Period) (int, error) {
	defer s.rlock()()
	return s.conn.CountPaymentPeriods(ctx, period)
}

func (s *Store) UpsertPaymentPeriod(ctx context.Context, p billing.PaymentPeriod) error {
	defer s.lock()()
	return s.conn.UpsertPaymentPeriod(ctx, p)
}

func (s *Store) DeletePaymentPeriod(ctx context.Context, id billing.ResidentID, period billing.Period) error {
	defer s.lock()()
	return s.conn.DeletePaymentPeriod(ctx, id, period)
}
