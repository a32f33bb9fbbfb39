package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

func monitorResultFixture() monitor.Result {
	return monitor.Result{MonitorID: "m1", HostID: "h1", Time: time.Now(), Success: true}
}

type fakeStore struct {
	ids []string
}

func (s *fakeStore) AllHostIDs(_ context.Context) ([]string, error) { return s.ids, nil }

type fakeLoader struct {
	details map[string]*cache.ServerWithDetails
}

func (f *fakeLoader) LoadServerWithDetails(_ context.Context, hostID string) (*cache.ServerWithDetails, error) {
	return f.details[hostID], nil
}

// TestManyPingsCoalesceIntoOneBroadcast is S1: 50 pings in 100ms must
// produce exactly one FullServerList, ~2s after the first ping.
func TestManyPingsCoalesceIntoOneBroadcast(t *testing.T) {
	loader := &fakeLoader{details: map[string]*cache.ServerWithDetails{
		"h1": {Host: host.Host{ID: "h1", Name: "box-1"}},
	}}
	c := cache.New(loader)
	store := &fakeStore{ids: []string{"h1"}}
	f := New(c, store)

	sub, unsub := f.Authenticated.Subscribe(8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	start := time.Now()
	for i := 0; i < 50; i++ {
		f.Ping()
		time.Sleep(2 * time.Millisecond)
	}

	select {
	case msg := <-sub:
		elapsed := time.Since(start)
		require.GreaterOrEqual(t, elapsed, Debounce)
		full, ok := msg.(FullServerList)
		require.True(t, ok)
		require.Len(t, full.Servers, 1)
		require.Equal(t, "box-1", full.Servers[0].Host.Name)
	case <-time.After(Debounce + 2*time.Second):
		t.Fatal("expected exactly one broadcast within debounce + margin")
	}

	select {
	case <-sub:
		t.Fatal("expected only one broadcast, got a second")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRedactStripsPrivateFields(t *testing.T) {
	full := FullServerList{Servers: []cache.ServerWithDetails{
		{Host: host.Host{ID: "h1", Tags: []string{"prod"}, PublicIPAddresses: []string{"1.2.3.4"}, TrafficLimitBytes: 1000}},
	}}
	redacted := full.Redact()
	require.Nil(t, redacted.Servers[0].Host.Tags)
	require.Nil(t, redacted.Servers[0].Host.PublicIPAddresses)
	require.Equal(t, uint64(0), redacted.Servers[0].Host.TrafficLimitBytes)
}

func TestPublishMonitorResultBypassesDebounce(t *testing.T) {
	loader := &fakeLoader{details: map[string]*cache.ServerWithDetails{}}
	c := cache.New(loader)
	f := New(c, &fakeStore{})

	sub, unsub := f.Authenticated.Subscribe(1)
	defer unsub()

	f.PublishMonitorResult(monitorResultFixture())

	select {
	case msg := <-sub:
		_, ok := msg.(MonitorResultEvent)
		require.True(t, ok)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected immediate monitor result broadcast")
	}
}
