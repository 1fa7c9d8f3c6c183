/*
scheduler.go - Cron-driven ledger jobs

PURPOSE:
  Runs the two recurring ledger jobs without an operator:
  - monthly generation of the current month's records
  - daily overdue refresh so statuses follow the calendar

DESIGN:
  - robfig/cron with standard 5-field specs, evaluated in UTC
  - SkipIfStillRunning: a slow run is never overlapped by the next tick
  - Recover: a panicking job is logged, the scheduler keeps going
  - Generation never forces: if the month already has records the run is
    recorded as needs_confirmation and left for an operator

CONFIGURATION:
  - GenerateSchedule: default "5 0 1 * *" (00:05 on the 1st)
  - OverdueSchedule:  default "15 0 * * *" (00:15 daily)
  - Enabled:          whether Start registers anything

USAGE:
  scheduler := NewScheduler(svc, logger)
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: Generate and RefreshOverdue endpoints (manual runs)
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
)

const (
	DefaultGenerateSchedule = "5 0 1 * *"
	DefaultOverdueSchedule  = "15 0 * * *"

	// jobTimeout bounds one scheduled run.
	jobTimeout = 10 * time.Minute
)

// Scheduler handles automated generation and overdue refresh.
type Scheduler struct {
	Service          *billing.Service
	Logger           logrus.FieldLogger
	GenerateSchedule string
	OverdueSchedule  string
	Enabled          bool
	Now              func() time.Time

	cron *cron.Cron
	mu   sync.Mutex
}

// NewScheduler creates a scheduler with the default schedules.
func NewScheduler(svc *billing.Service, logger logrus.FieldLogger) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		Service:          svc,
		Logger:           logger.WithField("component", "scheduler"),
		GenerateSchedule: DefaultGenerateSchedule,
		OverdueSchedule:  DefaultOverdueSchedule,
		Enabled:          true,
		Now:              time.Now,
	}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.Logger.Info("disabled, not starting")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	cl := cronLogger{s.Logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(s.GenerateSchedule, s.runGenerate); err != nil {
		return fmt.Errorf("generate schedule %q: %w", s.GenerateSchedule, err)
	}
	if _, err := c.AddFunc(s.OverdueSchedule, s.runOverdue); err != nil {
		return fmt.Errorf("overdue schedule %q: %w", s.OverdueSchedule, err)
	}
	c.Start()
	s.cron = c

	s.Logger.WithFields(logrus.Fields{
		"generate": s.GenerateSchedule,
		"overdue":  s.OverdueSchedule,
	}).Info("started")
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
	s.Logger.Info("stopped")
}

// NextRuns returns the next fire time of each job, keyed by job name.
func (s *Scheduler) NextRuns() map[string]time.Time {
	out := map[string]time.Time{}
	now := s.now()
	for name, spec := range map[string]string{"generate": s.GenerateSchedule, "overdue": s.OverdueSchedule} {
		if sched, err := cron.ParseStandard(spec); err == nil {
			out[name] = sched.Next(now)
		}
	}
	return out
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Scheduler) runGenerate() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.GenerateCurrentMonth(ctx)
}

func (s *Scheduler) runOverdue() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	s.RefreshOverdue(ctx)
}

// GenerateCurrentMonth generates the current month without forcing.
func (s *Scheduler) GenerateCurrentMonth(ctx context.Context) (*billing.GenerationReport, error) {
	period := billing.PeriodOf(s.now())
	log := s.Logger.WithField("period", period.String())

	report, err := s.Service.GenerateForMonth(ctx, period, billing.GenerateOptions{})
	if err != nil {
		log.WithError(err).Error("generation failed")
		return report, err
	}
	if report.NeedsConfirmation {
		log.WithField("existing", report.Existing).Info("month already generated, skipping")
		return report, nil
	}
	log.WithFields(logrus.Fields{
		"created":   report.Created,
		"updated":   report.Updated,
		"failed":    report.Failed(),
		"total_due": billing.FormatAmount(report.TotalAmountDue),
	}).Info("generation completed")
	for _, f := range report.Failures {
		log.WithField("resident", f.ResidentID).Warn(f.Reason)
	}
	return report, nil
}

// RefreshOverdue re-derives statuses.
func (s *Scheduler) RefreshOverdue(ctx context.Context) (*billing.OverdueReport, error) {
	report, err := s.Service.RefreshOverdue(ctx)
	if err != nil {
		s.Logger.WithError(err).Error("overdue refresh failed")
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"examined": report.Examined,
		"changed":  len(report.Changes),
	}).Info("overdue refresh completed")
	return report, nil
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	logger logrus.FieldLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
