package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

type fakeDuplex struct {
	closed bool
}

func (d *fakeDuplex) Recv() (*protocol.MessageToServer, error) { return nil, errors.New("unused") }
func (d *fakeDuplex) Send(*protocol.MessageToAgent) error      { return nil }
func (d *fakeDuplex) Close() error                             { d.closed = true; return nil }

func TestRegistryInsertClosesPreviousSessionForSameHost(t *testing.T) {
	r := NewRegistry()
	d1 := &fakeDuplex{}
	_, cancel1 := context.WithCancel(context.Background())
	s1 := newSession("h1", d1, cancel1)
	r.Insert(s1)

	d2 := &fakeDuplex{}
	_, cancel2 := context.WithCancel(context.Background())
	s2 := newSession("h1", d2, cancel2)
	r.Insert(s2)

	require.Eventually(t, func() bool { return d1.closed }, time.Second, time.Millisecond)
	got, ok := r.Get("h1")
	require.True(t, ok)
	require.Same(t, s2, got)
}

func TestRegistryRemoveOnlyDeletesMatchingSession(t *testing.T) {
	r := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	s1 := newSession("h1", &fakeDuplex{}, cancel)
	r.Insert(s1)

	_, cancel2 := context.WithCancel(context.Background())
	s2 := newSession("h1", &fakeDuplex{}, cancel2)
	// Simulate a fast reconnect already replacing the entry before the old
	// session is removed.
	r.mu.Lock()
	r.sessions["h1"] = s2
	r.mu.Unlock()

	r.Remove("h1", s1)
	got, ok := r.Get("h1")
	require.True(t, ok)
	require.Same(t, s2, got)
}

type fakeHostUpdater struct {
	offline map[string]bool
}

func (f *fakeHostUpdater) MarkOnline(context.Context, string, map[string]any) error { return nil }
func (f *fakeHostUpdater) MarkOffline(_ context.Context, hostID string) error {
	if f.offline == nil {
		f.offline = map[string]bool{}
	}
	f.offline[hostID] = true
	return nil
}
func (f *fakeHostUpdater) SetConfigStatus(context.Context, string, host.ConfigStatus) error {
	return nil
}

func TestSweepEvictsStaleSessionsAndReportsChange(t *testing.T) {
	r := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	s := newSession("h1", &fakeDuplex{}, cancel)
	r.Insert(s)

	hosts := &fakeHostUpdater{}
	changed := Sweep(context.Background(), r, hosts, time.Now().Add(StaleAfter+time.Second), StaleAfter)

	require.True(t, changed)
	require.True(t, hosts.offline["h1"])
	_, ok := r.Get("h1")
	require.False(t, ok)
}

func TestSweepKeepsFreshSessions(t *testing.T) {
	r := NewRegistry()
	_, cancel := context.WithCancel(context.Background())
	s := newSession("h1", &fakeDuplex{}, cancel)
	r.Insert(s)

	hosts := &fakeHostUpdater{}
	changed := Sweep(context.Background(), r, hosts, time.Now(), StaleAfter)

	require.False(t, changed)
	_, ok := r.Get("h1")
	require.True(t, ok)
}
