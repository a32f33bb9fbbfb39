package renewal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestComputeNextMonthly(t *testing.T) {
	last := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	next := ComputeNext(last, CycleMonthly, 0)
	require.Equal(t, 3, int(next.Month())) // Jan 31 + 1 month normalizes to Mar 3 in Go's AddDate
}

func TestComputeNextCustomDays(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := ComputeNext(last, CycleCustomDays, 10)
	require.Equal(t, time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC), next)
}

func TestShouldArmReminderWithinWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	due := now.AddDate(0, 0, 5)
	require.True(t, ShouldArmReminder(now, due, false))
	require.False(t, ShouldArmReminder(now, due, true))
	require.False(t, ShouldArmReminder(now, now.AddDate(0, 0, 10), false))
}

func TestNextTrafficResetClampsShortMonth(t *testing.T) {
	last := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)
	next := NextTrafficReset(last, ResetPolicyMonthlyDayOfMonth, 31, 28800, 0)
	require.Equal(t, 2, int(next.Month()))
	require.Equal(t, 28, next.Day()) // Feb 2026 has 28 days
}

func TestNextTrafficResetFixedDays(t *testing.T) {
	last := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := NextTrafficReset(last, ResetPolicyFixedDays, 0, 0, 30)
	require.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), next)
}
