package traffic

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/renewal"
)

type fakeHostStore struct {
	due     []*host.Host
	updated []*host.Host
}

func (f *fakeHostStore) DueTrafficReset(context.Context, time.Time) ([]*host.Host, error) {
	return f.due, nil
}

func (f *fakeHostStore) Update(_ context.Context, h *host.Host) error {
	f.updated = append(f.updated, h)
	return nil
}

func TestSweepResetsDueHostsAndComputesNextDeadline(t *testing.T) {
	resetAt := time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC)
	h := &host.Host{
		ID: "h1", TrafficCurrentCycleRxBytes: 500, TrafficCurrentCycleTxBytes: 300,
		NextTrafficResetAt: &resetAt, TrafficCycleDayOfMonth: 15,
		TrafficResetPolicy: string(renewal.ResetPolicyMonthlyDayOfMonth),
		TrafficResetPolicyValue: "day:15,time_offset_seconds:28800",
	}
	store := &fakeHostStore{due: []*host.Host{h}}

	New(store, nil).Sweep(context.Background(), resetAt.Add(time.Hour))

	require.Len(t, store.updated, 1)
	got := store.updated[0]
	require.Equal(t, uint64(0), got.TrafficCurrentCycleRxBytes)
	require.Equal(t, uint64(0), got.TrafficCurrentCycleTxBytes)
	require.Equal(t, resetAt, *got.TrafficLastResetAt)
	require.Equal(t, time.Date(2026, 4, 15, 8, 0, 0, 0, time.UTC), *got.NextTrafficResetAt)
}

func TestSweepClampsToShorterMonth(t *testing.T) {
	resetAt := time.Date(2026, 1, 31, 8, 0, 0, 0, time.UTC)
	h := &host.Host{
		ID: "h2", NextTrafficResetAt: &resetAt, TrafficCycleDayOfMonth: 31,
		TrafficResetPolicy:     string(renewal.ResetPolicyMonthlyDayOfMonth),
		TrafficResetPolicyValue: "day:31,time_offset_seconds:0",
	}
	store := &fakeHostStore{due: []*host.Host{h}}

	New(store, nil).Sweep(context.Background(), resetAt.Add(time.Hour))

	require.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), *store.updated[0].NextTrafficResetAt)
}

func TestSweepFixedDaysPolicy(t *testing.T) {
	resetAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := &host.Host{
		ID: "h3", NextTrafficResetAt: &resetAt,
		TrafficResetPolicy:      string(renewal.ResetPolicyFixedDays),
		TrafficResetPolicyValue: "30",
	}
	store := &fakeHostStore{due: []*host.Host{h}}

	New(store, nil).Sweep(context.Background(), resetAt.Add(time.Hour))

	require.Equal(t, time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC), *store.updated[0].NextTrafficResetAt)
}
