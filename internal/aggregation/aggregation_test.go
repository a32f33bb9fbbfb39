package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/metrics"
)

type fakeHostSource struct{ ids []string }

func (f *fakeHostSource) AllHostIDs(context.Context) ([]string, error) { return f.ids, nil }

type fakeSnapshotStore struct {
	byWindow    map[[2]int64][]metrics.Snapshot
	deletedCutoff time.Time
}

func (f *fakeSnapshotStore) Range(_ context.Context, _ string, from, to time.Time) ([]metrics.Snapshot, error) {
	return f.byWindow[[2]int64{from.Unix(), to.Unix()}], nil
}

func (f *fakeSnapshotStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.deletedCutoff = cutoff
	return 0, nil
}

type fakeSummaryStore struct {
	upserted      []metrics.Summary
	latest        map[string]time.Time
	deletedBucket map[metrics.Bucket]time.Time
}

func (f *fakeSummaryStore) Upsert(_ context.Context, s metrics.Summary) error {
	f.upserted = append(f.upserted, s)
	return nil
}

func (f *fakeSummaryStore) LatestBucketStart(_ context.Context, hostID string, bucket metrics.Bucket) (time.Time, bool, error) {
	t, ok := f.latest[hostID+string(bucket)]
	return t, ok, nil
}

func (f *fakeSummaryStore) DeleteOlderThan(_ context.Context, bucket metrics.Bucket, cutoff time.Time) (int64, error) {
	if f.deletedBucket == nil {
		f.deletedBucket = map[metrics.Bucket]time.Time{}
	}
	f.deletedBucket[bucket] = cutoff
	return 0, nil
}

func TestTickRollsUpOneNewMinuteBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	windowStart := time.Date(2026, 1, 1, 12, 4, 0, 0, time.UTC)
	windowEnd := windowStart.Add(time.Minute)

	snapshots := &fakeSnapshotStore{byWindow: map[[2]int64][]metrics.Snapshot{
		{windowStart.Unix(), windowEnd.Unix()}: {
			{HostID: "h1", Time: windowStart, CPUPercent: 50},
			{HostID: "h1", Time: windowStart.Add(30 * time.Second), CPUPercent: 60},
		},
	}}
	summaries := &fakeSummaryStore{latest: map[string]time.Time{
		"h1" + string(metrics.Bucket1m): windowStart.Add(-time.Minute),
	}}

	s := New(&fakeHostSource{ids: []string{"h1"}}, snapshots, summaries,
		Retention{Raw: 24 * time.Hour, M1: 7 * 24 * time.Hour, H1: 30 * 24 * time.Hour, D1: 365 * 24 * time.Hour}, nil)

	require.NoError(t, s.rollupHostBucket(context.Background(), "h1", metrics.Bucket1m, now))
	require.Len(t, summaries.upserted, 1)
	require.Equal(t, 55.0, summaries.upserted[0].CPUPercentAvg)
	require.Equal(t, windowStart, summaries.upserted[0].BucketStart)
}

func TestTickSkipsEmptyWindows(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	snapshots := &fakeSnapshotStore{byWindow: map[[2]int64][]metrics.Snapshot{}}
	summaries := &fakeSummaryStore{latest: map[string]time.Time{
		"h1" + string(metrics.Bucket1m): now.Add(-2 * time.Minute),
	}}

	s := New(&fakeHostSource{ids: []string{"h1"}}, snapshots, summaries, Retention{}, nil)
	require.NoError(t, s.rollupHostBucket(context.Background(), "h1", metrics.Bucket1m, now))
	require.Empty(t, summaries.upserted)
}

func TestEnforceRetentionSweepsEveryTier(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshots := &fakeSnapshotStore{}
	summaries := &fakeSummaryStore{latest: map[string]time.Time{}}
	retention := Retention{Raw: 24 * time.Hour, M1: 7 * 24 * time.Hour, H1: 30 * 24 * time.Hour, D1: 365 * 24 * time.Hour}

	s := New(&fakeHostSource{}, snapshots, summaries, retention, nil)
	s.enforceRetention(context.Background(), now)

	require.Equal(t, now.Add(-24*time.Hour), snapshots.deletedCutoff)
	require.Equal(t, now.Add(-7*24*time.Hour), summaries.deletedBucket[metrics.Bucket1m])
	require.Equal(t, now.Add(-30*24*time.Hour), summaries.deletedBucket[metrics.Bucket1h])
	require.Equal(t, now.Add(-365*24*time.Hour), summaries.deletedBucket[metrics.Bucket1d])
}
