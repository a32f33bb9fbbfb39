package batchsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/broadcast"
	"github.com/nodenexus/nodenexus/internal/cache"
	"github.com/nodenexus/nodenexus/internal/domain/batch"
	"github.com/nodenexus/nodenexus/internal/domain/host"
	"github.com/nodenexus/nodenexus/pkg/protocol"
)

type fakeStore struct {
	parents  map[string]*batch.Parent
	children map[string]batch.Child
}

func newFakeStore() *fakeStore {
	return &fakeStore{parents: map[string]*batch.Parent{}, children: map[string]batch.Child{}}
}

func (f *fakeStore) CreateParent(_ context.Context, p *batch.Parent, children []batch.Child) error {
	cp := *p
	f.parents[p.ID] = &cp
	for _, c := range children {
		f.children[c.ID] = c
	}
	return nil
}

func (f *fakeStore) GetParent(_ context.Context, id string) (*batch.Parent, error) {
	p, ok := f.parents[id]
	if !ok {
		return nil, os.ErrNotExist
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) GetChild(_ context.Context, childID string) (batch.Child, error) {
	c, ok := f.children[childID]
	if !ok {
		return batch.Child{}, os.ErrNotExist
	}
	return c, nil
}

func (f *fakeStore) ListChildren(_ context.Context, parentID string) ([]batch.Child, error) {
	var out []batch.Child
	for _, c := range f.children {
		if c.ParentID == parentID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateParentStatus(_ context.Context, id string, status batch.ParentStatus, completedAt *time.Time) error {
	p := f.parents[id]
	p.Status = status
	p.CompletedAt = completedAt
	return nil
}

func (f *fakeStore) UpdateChild(_ context.Context, c batch.Child) error {
	f.children[c.ID] = c
	return nil
}

type fakeSender struct {
	connected map[string]bool
	sent      []string
}

func (f *fakeSender) SendToAgent(_ context.Context, hostID string, _ *protocol.MessageToAgent) bool {
	f.sent = append(f.sent, hostID)
	return f.connected[hostID]
}

type fakeCacheLoader struct{}

func (fakeCacheLoader) LoadServerWithDetails(context.Context, string) (*cache.ServerWithDetails, error) {
	return &cache.ServerWithDetails{Host: host.Host{}}, nil
}

type fakeBroadcastStore struct{}

func (fakeBroadcastStore) AllHostIDs(context.Context) ([]string, error) { return nil, nil }

func newFabric() *broadcast.Fabric {
	return broadcast.New(cache.New(fakeCacheLoader{}), fakeBroadcastStore{})
}

func TestCreateRejectsEmptyTargetList(t *testing.T) {
	svc := New(newFakeStore(), &fakeSender{}, newFabric(), t.TempDir())
	_, err := svc.Create(context.Background(), "owner", "echo hi", nil)
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestDispatchMarksUnreachableHostsAndRecomputesParent(t *testing.T) {
	store := newFakeStore()
	sender := &fakeSender{connected: map[string]bool{"h1": true}}
	svc := New(store, sender, newFabric(), t.TempDir())

	parentID, err := svc.Create(context.Background(), "owner", "echo hi", []string{"h1", "h2"})
	require.NoError(t, err)
	require.NoError(t, svc.Dispatch(context.Background(), parentID, "echo hi"))

	var sawSent, sawUnreachable bool
	for _, c := range store.children {
		switch c.Status {
		case batch.ChildSentToAgent:
			sawSent = true
		case batch.ChildAgentUnreachable:
			sawUnreachable = true
		}
	}
	require.True(t, sawSent)
	require.True(t, sawUnreachable)
}

func TestRecordOutputWritesLogFileAndSetsPath(t *testing.T) {
	store := newFakeStore()
	root := t.TempDir()
	svc := New(store, &fakeSender{}, newFabric(), root)

	parentID, err := svc.Create(context.Background(), "owner", "echo hi", []string{"h1"})
	require.NoError(t, err)
	var childID string
	for id := range store.children {
		childID = id
	}

	require.NoError(t, svc.RecordOutput(context.Background(), childID, protocol.StreamStdout, []byte("ok\n")))

	data, err := os.ReadFile(filepath.Join(root, parentID, childID, "stdout.log"))
	require.NoError(t, err)
	require.Equal(t, "ok\n", string(data))
	require.Equal(t, filepath.Join(root, parentID, childID, "stdout.log"), store.children[childID].StdoutLogPath)
}

func TestUpdateChildStatusCompletesParentWhenAllTerminal(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeSender{}, newFabric(), t.TempDir())

	parentID, err := svc.Create(context.Background(), "owner", "echo hi", []string{"h1", "h2"})
	require.NoError(t, err)
	var ids []string
	for id := range store.children {
		ids = append(ids, id)
	}

	require.NoError(t, svc.UpdateChildStatus(context.Background(), ids[0], batch.ChildCompletedSuccessfully, nil, ""))
	require.Equal(t, batch.ParentPending, store.parents[parentID].Status) // still one child non-terminal

	require.NoError(t, svc.UpdateChildStatus(context.Background(), ids[1], batch.ChildCompletedWithFailure, nil, "boom"))
	require.Equal(t, batch.ParentCompletedWithErrors, store.parents[parentID].Status)
	require.NotNil(t, store.parents[parentID].CompletedAt)
}

func TestTerminateChildRejectsTerminalStatus(t *testing.T) {
	store := newFakeStore()
	svc := New(store, &fakeSender{}, newFabric(), t.TempDir())

	parentID, err := svc.Create(context.Background(), "owner", "echo hi", []string{"h1"})
	require.NoError(t, err)
	var childID string
	for id, c := range store.children {
		if c.ParentID == parentID {
			childID = id
		}
	}

	require.NoError(t, svc.UpdateChildStatus(context.Background(), childID, batch.ChildCompletedSuccessfully, nil, ""))
	require.ErrorIs(t, svc.TerminateChild(context.Background(), childID), ErrNotTerminable)
}
