package renewalsvc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/renewal"
)

type fakeHostStore struct {
	reminderDue []*host.Host
	autoDue     []*host.Host
	updated     []*host.Host
}

func (f *fakeHostStore) DueRenewalReminder(context.Context, time.Time) ([]*host.Host, error) {
	return f.reminderDue, nil
}

func (f *fakeHostStore) DueAutoRenewal(context.Context, time.Time) ([]*host.Host, error) {
	return f.autoDue, nil
}

func (f *fakeHostStore) Update(_ context.Context, h *host.Host) error {
	f.updated = append(f.updated, h)
	return nil
}

type fakePinger struct{ pings int }

func (f *fakePinger) Ping() { f.pings++ }

func TestArmRemindersFlipsFlagAndPings(t *testing.T) {
	next := time.Now().UTC().Add(3 * 24 * time.Hour)
	h := &host.Host{ID: "h1", NextRenewalDate: &next, ReminderActive: false}
	store := &fakeHostStore{reminderDue: []*host.Host{h}}
	pinger := &fakePinger{}

	New(store, pinger, nil).ArmReminders(context.Background(), time.Now().UTC())

	require.Len(t, store.updated, 1)
	require.True(t, store.updated[0].ReminderActive)
	require.Equal(t, 1, pinger.pings)
}

func TestArmRemindersNoOpWhenNothingChanges(t *testing.T) {
	store := &fakeHostStore{}
	pinger := &fakePinger{}

	New(store, pinger, nil).ArmReminders(context.Background(), time.Now().UTC())

	require.Empty(t, store.updated)
	require.Equal(t, 0, pinger.pings)
}

func TestProcessAutoRenewalsAdvancesCycleAndClearsReminder(t *testing.T) {
	due := time.Now().UTC().Add(-time.Hour)
	h := &host.Host{
		ID: "h2", NextRenewalDate: &due, AutoRenewEnabled: true,
		RenewalCycle: string(renewal.CycleMonthly), ReminderActive: true,
	}
	store := &fakeHostStore{autoDue: []*host.Host{h}}

	New(store, nil, nil).ProcessAutoRenewals(context.Background(), time.Now().UTC())

	require.Len(t, store.updated, 1)
	got := store.updated[0]
	require.Equal(t, due, *got.LastRenewalDate)
	require.Equal(t, due.AddDate(0, 1, 0), *got.NextRenewalDate)
	require.False(t, got.ReminderActive)
}
