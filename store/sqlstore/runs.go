package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/rwa-ledger/billing"
)

// =============================================================================
// RUN LOG (billing.RunLog interface)
// =============================================================================

// SaveRun records one orchestrator execution.
func (s *Store) SaveRun(ctx context.Context, run billing.Run) error {
	defer s.lock()()

	var completedAt sql.NullString
	if run.CompletedAt != nil {
		completedAt = nullString(formatTime(*run.CompletedAt))
	}
	query := `
		INSERT INTO runs
		(id, kind, period, resident_id, dry_run, status, created_count, updated_count,
		 changed_count, failed_count, total_due, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			created_count = excluded.created_count,
			updated_count = excluded.updated_count,
			changed_count = excluded.changed_count,
			failed_count = excluded.failed_count,
			total_due = excluded.total_due,
			error = excluded.error,
			completed_at = excluded.completed_at
	`
	_, err := s.exec(ctx, query,
		run.ID,
		string(run.Kind),
		nullString(run.Period.String()),
		nullString(string(run.ResidentID)),
		run.DryRun,
		string(run.Status),
		run.Created,
		run.Updated,
		run.Changed,
		run.Failed,
		run.TotalDue.String(),
		nullString(run.Error),
		formatTime(run.StartedAt),
		completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]billing.Run, error) {
	defer s.rlock()()

	query := `
		SELECT id, kind, period, resident_id, dry_run, status, created_count, updated_count,
		       changed_count, failed_count, total_due, error, started_at, completed_at
		FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []billing.Run{}
	for rows.Next() {
		var (
			run                      billing.Run
			kind, status, total      string
			startedAt                string
			period, resident, errMsg sql.NullString
			completedAt              sql.NullString
		)
		if err := rows.Scan(&run.ID, &kind, &period, &resident, &run.DryRun, &status,
			&run.Created, &run.Updated, &run.Changed, &run.Failed, &total, &errMsg,
			&startedAt, &completedAt); err != nil {
			return nil, err
		}
		run.Kind = billing.RunKind(kind)
		run.Status = billing.RunStatus(status)
		run.ResidentID = billing.ResidentID(resident.String)
		run.Error = errMsg.String
		if period.Valid {
			if run.Period, err = billing.ParsePeriod(period.String); err != nil {
				return nil, err
			}
		}
		if run.TotalDue, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("run %s total_due %q: %w", run.ID, total, err)
		}
		run.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			run.CompletedAt = &t
		}
		out = append(out, run)
	}
	return out, rows.Err()
}
