// Package aggregation implements the aggregation/retention scheduler (C3):
// an hourly tick that rolls raw PerformanceSnapshot rows up into the
// 1m/1h/1d Summary buckets and enforces each tier's retention window.
package aggregation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodenexus/nodenexus/internal/domain/metrics"
	"github.com/nodenexus/nodenexus/pkg/logger"
)

// granularityOf maps a Bucket to its window duration.
func granularityOf(b metrics.Bucket) time.Duration {
	switch b {
	case metrics.Bucket1m:
		return time.Minute
	case metrics.Bucket1h:
		return time.Hour
	case metrics.Bucket1d:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Retention is the per-bucket retention window, plus the raw tier's own.
// Defaults mirror spec §4.C3: raw>24h, 1m>7d, 1h>30d, 1d>365d.
type Retention struct {
	Raw time.Duration
	M1  time.Duration
	H1  time.Duration
	D1  time.Duration
}

// HostSource lists every host the scheduler must roll up.
type HostSource interface {
	AllHostIDs(ctx context.Context) ([]string, error)
}

// SnapshotStore is the raw-tier read/retention surface.
type SnapshotStore interface {
	Range(ctx context.Context, hostID string, from, to time.Time) ([]metrics.Snapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SummaryStore is the bucketed-tier surface.
type SummaryStore interface {
	Upsert(ctx context.Context, s metrics.Summary) error
	LatestBucketStart(ctx context.Context, hostID string, bucket metrics.Bucket) (time.Time, bool, error)
	DeleteOlderThan(ctx context.Context, bucket metrics.Bucket, cutoff time.Time) (int64, error)
}

// Scheduler is the wired C3 component.
type Scheduler struct {
	Hosts     HostSource
	Snapshots SnapshotStore
	Summaries SummaryStore
	Retention Retention
	Log       *logger.Logger

	cron *cron.Cron
}

// New constructs a Scheduler.
func New(hosts HostSource, snapshots SnapshotStore, summaries SummaryStore, retention Retention, log *logger.Logger) *Scheduler {
	return &Scheduler{Hosts: hosts, Snapshots: snapshots, Summaries: summaries, Retention: retention, Log: log}
}

// Start registers the hourly tick (spec §4.C3: "runs every hour
// (configurable)") and starts the cron scheduler.
func (s *Scheduler) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = "@hourly"
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, func() { s.Tick(ctx, time.Now().UTC()) }); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Tick rolls every host up across all three buckets and enforces
// retention. A per-host or per-bucket failure is logged and skipped;
// spec §4.C3: "failure rolls back the transaction; subsequent ticks
// retry" — here that's "this host/bucket's rollup retries next tick."
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	hostIDs, err := s.Hosts.AllHostIDs(ctx)
	if err != nil {
		if s.Log != nil {
			s.Log.WithError(err).Warn("aggregation: list hosts failed")
		}
		return
	}

	for _, hostID := range hostIDs {
		for _, bucket := range []metrics.Bucket{metrics.Bucket1m, metrics.Bucket1h, metrics.Bucket1d} {
			if err := s.rollupHostBucket(ctx, hostID, bucket, now); err != nil && s.Log != nil {
				s.Log.WithError(err).WithField("host_id", hostID).WithField("bucket", bucket).
					Warn("aggregation: rollup failed, will retry next tick")
			}
		}
	}

	s.enforceRetention(ctx, now)
}

// rollupHostBucket upserts every complete bucket window for hostID since
// its last recorded bucket_start, sourced from the raw snapshot tier (the
// per-point cumulative/instant fields the rollup needs live only there;
// averaging directly from raw is equivalent to averaging the intermediate
// tier since every raw point carries equal weight).
func (s *Scheduler) rollupHostBucket(ctx context.Context, hostID string, bucket metrics.Bucket, now time.Time) error {
	granularity := granularityOf(bucket)

	last, ok, err := s.Summaries.LatestBucketStart(ctx, hostID, bucket)
	if err != nil {
		return err
	}
	start := now.Add(-granularity)
	if ok {
		start = last.Add(granularity)
	}

	for windowStart := start.Truncate(granularity); !windowStart.Add(granularity).After(now); windowStart = windowStart.Add(granularity) {
		windowEnd := windowStart.Add(granularity)
		points, err := s.Snapshots.Range(ctx, hostID, windowStart, windowEnd)
		if err != nil {
			return err
		}
		if len(points) == 0 {
			continue
		}
		summary := metrics.Aggregate(hostID, bucket, windowStart, points)
		if err := s.Summaries.Upsert(ctx, summary); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) enforceRetention(ctx context.Context, now time.Time) {
	if _, err := s.Snapshots.DeleteOlderThan(ctx, now.Add(-s.Retention.Raw)); err != nil && s.Log != nil {
		s.Log.WithError(err).Warn("aggregation: raw retention sweep failed")
	}
	for bucket, window := range map[metrics.Bucket]time.Duration{
		metrics.Bucket1m: s.Retention.M1,
		metrics.Bucket1h: s.Retention.H1,
		metrics.Bucket1d: s.Retention.D1,
	} {
		if _, err := s.Summaries.DeleteOlderThan(ctx, bucket, now.Add(-window)); err != nil && s.Log != nil {
			s.Log.WithError(err).WithField("bucket", bucket).Warn("aggregation: summary retention sweep failed")
		}
	}
}
