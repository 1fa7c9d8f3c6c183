package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
)

var errNeedsForce = errors.New("records already exist for this month; rerun with -force to regenerate")

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func (a *app) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
}

func (a *app) maxBackfill() int {
	if a.cfg == nil {
		return billing.DefaultMaxBackfillMonths
	}
	return a.cfg.MaxBackfillMonths
}

func (a *app) now() time.Time {
	if a.svc.Now != nil {
		return a.svc.Now()
	}
	return time.Now()
}

func parsePeriodFlag(name, raw string, required bool) (billing.Period, error) {
	if raw == "" {
		if required {
			return billing.Period{}, fmt.Errorf("-%s is required (YYYY-MM)", name)
		}
		return billing.Period{}, nil
	}
	return billing.ParsePeriod(raw)
}

// =============================================================================
// GENERATE
// =============================================================================

func (a *app) generate(ctx context.Context, args []string) error {
	fs := a.flags("generate")
	rawPeriod := fs.String("period", "", "month to generate (YYYY-MM)")
	force := fs.Bool("force", false, "regenerate a month that already has records")
	dryRun := fs.Bool("dry-run", false, "compute without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}

	period, err := parsePeriodFlag("period", *rawPeriod, true)
	if err != nil {
		return err
	}
	if err := billing.ValidateEntryPeriod(period, a.now(), a.maxBackfill()); err != nil {
		return err
	}

	report, err := a.svc.GenerateForMonth(ctx, period, billing.GenerateOptions{Force: *force, DryRun: *dryRun})
	if err != nil {
		if report != nil && report.Attempted > 0 {
			fmt.Fprintf(a.out, "%s: aborted after %d attempted, %d succeeded, %d failed; nothing was saved\n",
				period, report.Attempted, report.Succeeded(), report.Failed())
			for _, f := range report.Failures {
				fmt.Fprintf(a.out, "  failed %s: %s\n", f.ResidentID, f.Reason)
			}
		}
		return err
	}
	if report.NeedsConfirmation {
		fmt.Fprintf(a.out, "%s already has %d records.\n", period, report.Existing)
		return errNeedsForce
	}

	tw := a.table()
	fmt.Fprintln(tw, "RESIDENT\tUNIT\tBASE\tCARRY\tDUE\tPAID\tSTATUS\tACTION")
	for _, l := range report.Lines {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n", l.ResidentID, l.Unit,
			billing.FormatAmount(l.BaseMaintenance), billing.FormatAmount(l.CarryForward),
			billing.FormatAmount(l.AmountDue), billing.FormatAmount(l.AmountPaid), l.Status, l.Action)
	}
	tw.Flush()

	prefix := ""
	if report.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(a.out, "%s%s: %d created, %d updated, %d failed, total due %s (carry-forward %s)\n",
		prefix, period, report.Created, report.Updated, report.Failed(),
		billing.FormatAmount(report.TotalAmountDue), billing.FormatAmount(report.TotalCarryForward))
	for _, f := range report.Failures {
		fmt.Fprintf(a.out, "  failed %s: %s\n", f.ResidentID, f.Reason)
	}
	return nil
}

// =============================================================================
// RECALCULATE / MAINTENANCE
// =============================================================================

func (a *app) recalculate(ctx context.Context, args []string) error {
	fs := a.flags("recalculate")
	resident := fs.String("resident", "", "resident id")
	rawFrom := fs.String("from", "", "first month to recalculate (YYYY-MM)")
	dryRun := fs.Bool("dry-run", false, "compute without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resident == "" {
		return errors.New("-resident is required")
	}
	from, err := parsePeriodFlag("from", *rawFrom, true)
	if err != nil {
		return err
	}

	report, err := a.svc.RecalculateForward(ctx, billing.ResidentID(*resident), from,
		billing.RecalculateOptions{DryRun: *dryRun})
	if err != nil {
		return err
	}
	a.printCascade(report)
	return nil
}

func (a *app) maintenance(ctx context.Context, args []string) error {
	fs := a.flags("maintenance")
	resident := fs.String("resident", "", "resident id")
	rawAmount := fs.String("amount", "", "new base maintenance")
	rawFrom := fs.String("from", "", "month the new rate applies from (YYYY-MM)")
	recalc := fs.Bool("recalculate", false, "recalculate the ledger from -from")
	dryRun := fs.Bool("dry-run", false, "compute without saving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *resident == "" {
		return errors.New("-resident is required")
	}
	amount, err := decimal.NewFromString(*rawAmount)
	if err != nil {
		return fmt.Errorf("-amount %q: %w", *rawAmount, billing.ErrInvalidAmount)
	}
	from, err := parsePeriodFlag("from", *rawFrom, *recalc)
	if err != nil {
		return err
	}

	result, err := a.svc.ChangeMaintenance(ctx, billing.ResidentID(*resident), billing.MaintenanceChange{
		Amount:        amount,
		EffectiveFrom: from,
		Recalculate:   *recalc,
		DryRun:        *dryRun,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s base maintenance: %s\n", result.Resident.ID, billing.FormatAmount(result.Resident.BaseMaintenance))
	if result.Cascade != nil {
		a.printCascade(result.Cascade)
	}
	return nil
}

func (a *app) printCascade(r *billing.RecalculationReport) {
	tw := a.table()
	fmt.Fprintln(tw, "PERIOD\tOLD DUE\tNEW DUE\tCARRY\tDELTA\tSTATUS")
	for _, c := range r.Changes {
		status := string(c.NewStatus)
		if c.OldStatus != c.NewStatus {
			status = fmt.Sprintf("%s -> %s", c.OldStatus, c.NewStatus)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", c.Period,
			billing.FormatAmount(c.OldDue), billing.FormatAmount(c.NewDue),
			billing.FormatAmount(c.CarryForward), billing.FormatAmount(c.Delta), status)
	}
	tw.Flush()

	prefix := ""
	if r.DryRun {
		prefix = "[dry run] "
	}
	fmt.Fprintf(a.out, "%s%s from %s: %d examined, %d changed, net %s\n", prefix,
		r.ResidentID, r.FromPeriod, r.Examined, len(r.Changes), billing.FormatAmount(r.TotalDelta()))
}

// =============================================================================
// DEFAULTERS / OVERDUE
// =============================================================================

func (a *app) defaulters(ctx context.Context, args []string) error {
	defaultMonths := 3
	if a.cfg != nil {
		defaultMonths = a.cfg.DefaulterMonths
	}
	fs := a.flags("defaulters")
	months := fs.Int("months", defaultMonths, "minimum months unpaid")
	rawAsOf := fs.String("as-of", "", "report month (YYYY-MM, default current)")
	send := fs.Bool("notify", false, "e-mail a reminder to each defaulter")
	if err := fs.Parse(args); err != nil {
		return err
	}
	asOf, err := parsePeriodFlag("as-of", *rawAsOf, false)
	if err != nil {
		return err
	}

	list, err := a.svc.Defaulters(ctx, asOf, *months)
	if err != nil {
		return err
	}

	tw := a.table()
	fmt.Fprintln(tw, "RESIDENT\tUNIT\tNAME\tSINCE\tMONTHS\tOUTSTANDING")
	for _, d := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n", d.Resident.ID, d.Resident.Unit, d.Resident.Name,
			d.OldestUnpaid, d.MonthsOverdue, billing.FormatAmount(d.Outstanding))
	}
	tw.Flush()
	fmt.Fprintf(a.out, "%d defaulters\n", len(list))

	if !*send || len(list) == 0 {
		return nil
	}
	report, err := a.notifier.SendReminders(ctx, list)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reminders: %d sent, %d without e-mail, %d failed\n",
		report.Sent, len(report.Skipped), len(report.Failures))
	return nil
}

func (a *app) overdue(ctx context.Context, args []string) error {
	fs := a.flags("overdue")
	if err := fs.Parse(args); err != nil {
		return err
	}
	report, err := a.svc.RefreshOverdue(ctx)
	if err != nil {
		return err
	}
	for _, c := range report.Changes {
		fmt.Fprintf(a.out, "%s: %s -> %s\n", c.Period, c.OldStatus, c.NewStatus)
	}
	fmt.Fprintf(a.out, "%d records examined, %d statuses changed\n", report.Examined, len(report.Changes))
	return nil
}

// =============================================================================
// SHEETS
// =============================================================================

func (a *app) sheetsExport(ctx context.Context, args []string) error {
	fs := a.flags("sheets-export")
	rawPeriod := fs.String("period", "", "month to export (YYYY-MM)")
	rng := fs.String("range", "", "target range (default <period>!A1)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	period, err := parsePeriodFlag("period", *rawPeriod, true)
	if err != nil {
		return err
	}
	rows, err := a.sheets().Export(ctx, a.svc, period, *rng)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d rows for %s\n", rows, period)
	return nil
}

func (a *app) sheetsImport(ctx context.Context, args []string) error {
	fs := a.flags("sheets-import")
	rng := fs.String("range", "", "source range, e.g. Payments!A1:F")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*rng) == "" {
		return errors.New("-range is required")
	}
	report, err := a.sheets().Import(ctx, a.svc, *rng)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%d rows: %d applied, %d blank, %d failed\n",
		report.Rows, report.Applied, report.Skipped, len(report.Failures))
	for _, f := range report.Failures {
		a.logger.WithFields(logrus.Fields{"row": f.Row}).Warn(f.Reason)
		fmt.Fprintf(a.out, "  row %d: %s\n", f.Row, f.Reason)
	}
	return nil
}
