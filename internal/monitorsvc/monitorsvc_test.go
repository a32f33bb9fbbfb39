package monitorsvc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

type fakeStore struct {
	monitors []monitor.Monitor
	results  []monitor.Result
}

func (f *fakeStore) ListActive(context.Context, string) ([]monitor.Monitor, error) { return f.monitors, nil }
func (f *fakeStore) RecordResult(_ context.Context, res monitor.Result) error {
	f.results = append(f.results, res)
	return nil
}

type fakeHostFacts struct {
	facts []monitor.HostFact
}

func (f *fakeHostFacts) HostFacts(context.Context, string) ([]monitor.HostFact, error) { return f.facts, nil }

type fakePusher struct {
	pushed []string
}

func (f *fakePusher) PushConfig(_ context.Context, hostID string) error {
	f.pushed = append(f.pushed, hostID)
	return nil
}

type fakeCacheLoader struct{}

func (fakeCacheLoader) LoadServerWithDetails(context.Context, string) (*cache.ServerWithDetails, error) {
	return &cache.ServerWithDetails{Host: host.Host{}}, nil
}

type fakeBroadcastStore struct{}

func (fakeBroadcastStore) AllHostIDs(context.Context) ([]string, error) { return nil, nil }

func TestRecomputePushesOnlyAffectedHosts(t *testing.T) {
	store := &fakeStore{monitors: []monitor.Monitor{
		{ID: "m1", OwnerID: "o1", Active: true, AssignmentType: monitor.AssignmentInclusive, DirectHostIDs: []string{"h1"}},
	}}
	hosts := &fakeHostFacts{facts: []monitor.HostFact{
		{HostID: "h1", OwnerID: "o1"},
		{HostID: "h2", OwnerID: "o1"},
	}}
	pusher := &fakePusher{}
	fabric := broadcast.New(cache.New(fakeCacheLoader{}), fakeBroadcastStore{})

	svc := New(store, hosts, pusher, fabric)
	require.NoError(t, svc.Recompute(context.Background(), "o1"))
	require.Equal(t, []string{"h1"}, pusher.pushed)

	// Second recompute with no change pushes nothing new.
	pusher.pushed = nil
	require.NoError(t, svc.Recompute(context.Background(), "o1"))
	require.Empty(t, pusher.pushed)
}

func TestRecordResultStoresAndBroadcasts(t *testing.T) {
	store := &fakeStore{}
	fabric := broadcast.New(cache.New(fakeCacheLoader{}), fakeBroadcastStore{})
	svc := New(store, &fakeHostFacts{}, &fakePusher{}, fabric)

	sub, unsub := fabric.Authenticated.Subscribe(1)
	defer unsub()

	require.NoError(t, svc.RecordResult(context.Background(), monitor.Result{MonitorID: "m1", HostID: "h1"}))
	require.Len(t, store.results, 1)

	select {
	case msg := <-sub:
		_, ok := msg.(broadcast.MonitorResultEvent)
		require.True(t, ok)
	default:
		t.Fatal("expected monitor result broadcast")
	}
}
