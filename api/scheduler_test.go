package api_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/rwa-ledger/api"
)

func newTestScheduler(t *testing.T) (*api.Scheduler, *testServer) {
	t.Helper()
	s := newTestServer(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	sched := api.NewScheduler(s.svc, logger)
	sched.Now = func() time.Time { return testNow }
	return sched, s
}

func TestScheduler_GenerateCurrentMonth(t *testing.T) {
	// GIVEN: One occupied resident
	sched, s := newTestScheduler(t)
	s.createResident(t, "A-101", "800")
	ctx := context.Background()

	// WHEN: The monthly job runs
	report, err := sched.GenerateCurrentMonth(ctx)

	// THEN: June is created
	require.NoError(t, err)
	assert.Equal(t, "2025-06", report.Period.String())
	assert.Equal(t, 1, report.Created)

	// WHEN: It runs again in the same month
	report, err = sched.GenerateCurrentMonth(ctx)

	// THEN: It stops at the confirmation step without touching records
	require.NoError(t, err)
	assert.True(t, report.NeedsConfirmation)
	assert.Zero(t, report.Created+report.Updated)
}

func TestScheduler_RefreshOverdue(t *testing.T) {
	sched, s := newTestScheduler(t)
	s.createResident(t, "A-101", "800")
	s.generate(t, "2025-06")

	report, err := sched.RefreshOverdue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Empty(t, report.Changes)
}

func TestScheduler_NextRuns(t *testing.T) {
	sched, _ := newTestScheduler(t)

	next := sched.NextRuns()

	assert.Equal(t, time.Date(2025, time.July, 1, 0, 5, 0, 0, time.UTC), next["generate"])
	assert.Equal(t, time.Date(2025, time.June, 16, 0, 15, 0, 0, time.UTC), next["overdue"])
}

func TestScheduler_StartStop(t *testing.T) {
	t.Run("valid schedules", func(t *testing.T) {
		sched, _ := newTestScheduler(t)
		require.NoError(t, sched.Start())
		require.NoError(t, sched.Start())
		sched.Stop()
		sched.Stop()
	})

	t.Run("disabled", func(t *testing.T) {
		sched, _ := newTestScheduler(t)
		sched.Enabled = false
		sched.GenerateSchedule = "not a schedule"
		assert.NoError(t, sched.Start())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		sched, _ := newTestScheduler(t)
		sched.OverdueSchedule = "every day"
		assert.Error(t, sched.Start())
	})
}
