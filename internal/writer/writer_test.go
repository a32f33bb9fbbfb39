package writer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/metrics"
)

type fakeSnapshotStore struct {
	inserted []metrics.Snapshot
}

func (f *fakeSnapshotStore) Insert(_ context.Context, s metrics.Snapshot) error {
	f.inserted = append(f.inserted, s)
	return nil
}

type fakeHostStore struct {
	byID    map[string]*host.Host
	updated []*host.Host
}

func (f *fakeHostStore) Get(_ context.Context, id string) (*host.Host, error) { return f.byID[id], nil }
func (f *fakeHostStore) Update(_ context.Context, h *host.Host) error {
	f.updated = append(f.updated, h)
	return nil
}

type fakePinger struct{ pings int }

func (f *fakePinger) Ping() { f.pings++ }

func TestRunPersistsAndPingsOnSuccess(t *testing.T) {
	snapshots := &fakeSnapshotStore{}
	hosts := &fakeHostStore{byID: map[string]*host.Host{"h1": {ID: "h1"}}}
	pinger := &fakePinger{}
	w := New(snapshots, hosts, pinger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	w.Enqueue(metrics.Snapshot{HostID: "h1", NetworkRxCumulative: 100, NetworkTxCumulative: 50})

	require.Eventually(t, func() bool { return len(snapshots.inserted) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pinger.pings == 1 }, time.Second, time.Millisecond)
	require.Len(t, hosts.updated, 1)
	require.Equal(t, uint64(100), hosts.updated[0].TrafficCurrentCycleRxBytes)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	w := &Writer{queue: make(chan metrics.Snapshot, 1)}
	w.Enqueue(metrics.Snapshot{HostID: "a"})
	w.Enqueue(metrics.Snapshot{HostID: "b"}) // dropped, queue already full

	require.Len(t, w.queue, 1)
	got := <-w.queue
	require.Equal(t, "a", got.HostID)
}
