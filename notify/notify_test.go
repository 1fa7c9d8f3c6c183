package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jordan-wright/email"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/billing"
	"github.com/warp/rwa-ledger/notify"
)

var cfg = notify.SMTPConfig{Host: "smtp.example.com", Port: "2525", From: "committee@example.com"}

func defaulter(id, mail string) billing.Defaulter {
	return billing.Defaulter{
		Resident: billing.Resident{
			ID:    billing.ResidentID(id),
			Name:  "Resident " + id,
			Unit:  "C-" + id,
			Email: mail,
		},
		UnpaidPeriods: []billing.Period{billing.MustParsePeriod("2025-02"), billing.MustParsePeriod("2025-03")},
		OldestUnpaid:  billing.MustParsePeriod("2025-02"),
		Outstanding:   decimal.NewFromInt(2400),
		MonthsOverdue: 2,
	}
}

func TestSender_Unconfigured(t *testing.T) {
	tests := []struct {
		name string
		cfg  notify.SMTPConfig
	}{
		{"no host", notify.SMTPConfig{From: "a@example.com"}},
		{"no from", notify.SMTPConfig{Host: "smtp.example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := notify.NewSender(tt.cfg, nil)
			assert.ErrorIs(t, s.Err(), notify.ErrUnavailable)

			_, err := s.SendReminders(context.Background(), []billing.Defaulter{defaulter("1", "x@example.com")})
			assert.ErrorIs(t, err, notify.ErrUnavailable)
		})
	}
}

func TestSender_SendReminders(t *testing.T) {
	// GIVEN: Three defaulters, one without e-mail and one whose delivery fails
	// WHEN: Sending reminders
	// THEN: The rest are sent; the other two are reported
	var sent []*email.Email
	s := notify.NewSender(cfg, nil).WithTransport(func(e *email.Email) error {
		if e.To[0] == "bounce@example.com" {
			return errors.New("mailbox unavailable")
		}
		sent = append(sent, e)
		return nil
	})
	require.NoError(t, s.Err())

	report, err := s.SendReminders(context.Background(), []billing.Defaulter{
		defaulter("1", "one@example.com"),
		defaulter("2", ""),
		defaulter("3", "bounce@example.com"),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, []billing.ResidentID{"2"}, report.Skipped)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, billing.ResidentID("3"), report.Failures[0].ResidentID)
	assert.Contains(t, report.Failures[0].Reason, "mailbox unavailable")

	require.Len(t, sent, 1)
	assert.Equal(t, []string{"one@example.com"}, sent[0].To)
	assert.Equal(t, "committee@example.com", sent[0].From)
}

func TestSender_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s := notify.NewSender(cfg, nil).WithTransport(func(*email.Email) error {
		calls++
		cancel()
		return nil
	})

	report, err := s.SendReminders(ctx, []billing.Defaulter{
		defaulter("1", "one@example.com"),
		defaulter("2", "two@example.com"),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.Sent)
}

func TestReminderEmail(t *testing.T) {
	e := notify.ReminderEmail("committee@example.com", defaulter("7", "seven@example.com"))

	assert.Equal(t, "Maintenance dues pending for unit C-7", e.Subject)
	body := string(e.Text)
	assert.Contains(t, body, "Dear Resident 7")
	assert.Contains(t, body, "2400.00 outstanding for unit C-7")
	assert.Contains(t, body, "unpaid since 2025-02 (2025-02, 2025-03)")
}
