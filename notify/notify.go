// Package notify sends payment reminder e-mails to defaulters over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/smtp"
	"strings"

	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
	"github.com/warp/rwa-ledger/billing"
)

var ErrUnavailable = errors.New("e-mail notifications unavailable")

// UnavailableError explains why reminders cannot be sent.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string { return ErrUnavailable.Error() + ": " + e.Reason }

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// SMTPConfig holds the mail relay settings.
type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// Transport delivers one message. The default sends through SMTP.
type Transport func(e *email.Email) error

// Sender handles sending reminder emails.
type Sender struct {
	cfg       SMTPConfig
	logger    logrus.FieldLogger
	transport Transport
}

// NewSender creates a sender. Without an SMTP host or From address every
// send returns *UnavailableError.
func NewSender(cfg SMTPConfig, logger logrus.FieldLogger) *Sender {
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	s := &Sender{cfg: cfg, logger: logger}
	s.transport = s.smtpSend
	return s
}

// WithTransport replaces the delivery function.
func (s *Sender) WithTransport(t Transport) *Sender {
	s.transport = t
	return s
}

// Err is nil when the sender is configured.
func (s *Sender) Err() error {
	switch {
	case s.cfg.Host == "":
		return &UnavailableError{Reason: "SMTP_HOST not set"}
	case s.cfg.From == "":
		return &UnavailableError{Reason: "SMTP_FROM not set"}
	}
	return nil
}

func (s *Sender) smtpSend(e *email.Email) error {
	port := s.cfg.Port
	if port == "" {
		port = "587"
	}
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	return e.Send(addr, auth)
}

// Report is the outcome of one SendReminders call.
type Report struct {
	Sent     int                  `json:"sent"`
	Skipped  []billing.ResidentID `json:"skipped"`
	Failures []Failure            `json:"failures"`
}

type Failure struct {
	ResidentID billing.ResidentID `json:"resident_id"`
	Reason     string             `json:"reason"`
}

// SendReminders mails every defaulter that has an e-mail address. Residents
// without one are listed in Skipped; delivery errors are collected and do
// not stop the remaining sends.
func (s *Sender) SendReminders(ctx context.Context, defaulters []billing.Defaulter) (*Report, error) {
	if err := s.Err(); err != nil {
		return nil, err
	}

	report := &Report{Skipped: []billing.ResidentID{}, Failures: []Failure{}}
	for _, d := range defaulters {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if d.Resident.Email == "" {
			report.Skipped = append(report.Skipped, d.Resident.ID)
			continue
		}

		e := ReminderEmail(s.cfg.From, d)
		if err := s.transport(e); err != nil {
			s.logger.WithFields(logrus.Fields{
				"resident": d.Resident.ID,
				"to":       d.Resident.Email,
			}).WithError(err).Error("failed to send reminder")
			report.Failures = append(report.Failures, Failure{ResidentID: d.Resident.ID, Reason: err.Error()})
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"resident":    d.Resident.ID,
			"outstanding": billing.FormatAmount(d.Outstanding),
		}).Info("reminder sent")
		report.Sent++
	}
	return report, nil
}

// ReminderEmail builds the reminder for one defaulter.
func ReminderEmail(from string, d billing.Defaulter) *email.Email {
	e := email.NewEmail()
	e.From = from
	e.To = []string{d.Resident.Email}
	e.Subject = fmt.Sprintf("Maintenance dues pending for unit %s", d.Resident.Unit)

	periods := make([]string, len(d.UnpaidPeriods))
	for i, p := range d.UnpaidPeriods {
		periods[i] = p.String()
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Dear %s,\n\n", d.Resident.Name)
	fmt.Fprintf(&body, "Our records show maintenance dues of %s outstanding for unit %s,\n",
		billing.FormatAmount(d.Outstanding), d.Resident.Unit)
	fmt.Fprintf(&body, "unpaid since %s (%s).\n\n", d.OldestUnpaid, strings.Join(periods, ", "))
	body.WriteString("Please clear the balance at the earliest. If you have already paid,\n")
	body.WriteString("kindly share the transaction reference with the committee.\n")
	body.WriteString("\nRegards,\nResidents Welfare Association")
	e.Text = []byte(body.String())
	return e
}
