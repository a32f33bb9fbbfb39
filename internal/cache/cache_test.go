package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
)

type fakeLoader struct {
	details map[string]*ServerWithDetails
}

func (f *fakeLoader) LoadServerWithDetails(_ context.Context, hostID string) (*ServerWithDetails, error) {
	return f.details[hostID], nil
}

func TestRefreshInsertsAndEvictsOnNotFound(t *testing.T) {
	loader := &fakeLoader{details: map[string]*ServerWithDetails{
		"h1": {Host: host.Host{ID: "h1", Name: "box-1"}},
	}}
	c := New(loader)

	require.NoError(t, c.Refresh(context.Background(), "h1"))
	d, ok := c.Get("h1")
	require.True(t, ok)
	require.Equal(t, "box-1", d.Host.Name)

	delete(loader.details, "h1")
	require.NoError(t, c.Refresh(context.Background(), "h1"))
	_, ok = c.Get("h1")
	require.False(t, ok)
}

func TestSnapshotReturnsAllEntries(t *testing.T) {
	loader := &fakeLoader{details: map[string]*ServerWithDetails{
		"h1": {Host: host.Host{ID: "h1"}},
		"h2": {Host: host.Host{ID: "h2"}},
	}}
	c := New(loader)
	require.NoError(t, c.Refresh(context.Background(), "h1"))
	require.NoError(t, c.Refresh(context.Background(), "h2"))
	require.Len(t, c.Snapshot(), 2)
}
