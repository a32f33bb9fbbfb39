package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/metrics"
)

// SnapshotRepository is the C1/C2 surface for PerformanceSnapshot rows.
type SnapshotRepository interface {
	Insert(ctx context.Context, s metrics.Snapshot) error
	InsertBatch(ctx context.Context, snapshots []metrics.Snapshot) error
	Range(ctx context.Context, hostID string, from, to time.Time) ([]metrics.Snapshot, error)
	Latest(ctx context.Context, hostID string) (*metrics.Snapshot, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteSnapshotRepository implements SnapshotRepository.
type SQLiteSnapshotRepository struct {
	db *sql.DB
}

// NewSQLiteSnapshotRepository constructs a repository bound to db.
func NewSQLiteSnapshotRepository(db *sql.DB) *SQLiteSnapshotRepository {
	return &SQLiteSnapshotRepository{db: db}
}

func (r *SQLiteSnapshotRepository) Insert(ctx context.Context, s metrics.Snapshot) error {
	return r.insert(ctx, r.db, s)
}

func (r *SQLiteSnapshotRepository) insert(ctx context.Context, exec execer, s metrics.Snapshot) error {
	_, err := exec.ExecContext(ctx, `
		INSERT INTO performance_snapshots (
			host_id, recorded_at, cpu_percent, memory_used_bytes, memory_total_bytes,
			disk_used_bytes, disk_total_bytes, network_rx_bytes, network_tx_bytes,
			network_rx_bps, network_tx_bps, running_processes_count, tcp_established_connection_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.HostID, s.Time, s.CPUPercent, s.MemoryUsedBytes, s.MemoryTotalBytes,
		s.DiskUsedBytes, s.DiskTotalBytes, s.NetworkRxCumulative, s.NetworkTxCumulative,
		s.NetworkRxBytesPerSec, s.NetworkTxBytesPerSec, s.RunningProcessesCount, s.TCPEstablishedCount)
	if err != nil {
		return Wrap("insert performance snapshot", err)
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting InsertBatch share
// the single-row insert logic inside one transaction (C2's "short
// transaction per write" contract).
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteSnapshotRepository) InsertBatch(ctx context.Context, snapshots []metrics.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Wrap("begin snapshot batch", err)
	}
	for _, s := range snapshots {
		if err := r.insert(ctx, tx, s); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return Wrap("commit snapshot batch", err)
	}
	return nil
}

func (r *SQLiteSnapshotRepository) Range(ctx context.Context, hostID string, from, to time.Time) ([]metrics.Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT host_id, recorded_at, cpu_percent, memory_used_bytes, memory_total_bytes,
			disk_used_bytes, disk_total_bytes, network_rx_bytes, network_tx_bytes,
			network_rx_bps, network_tx_bps, running_processes_count, tcp_established_connection_count
		FROM performance_snapshots
		WHERE host_id = ? AND recorded_at >= ? AND recorded_at <= ?
		ORDER BY recorded_at
	`, hostID, from, to)
	if err != nil {
		return nil, Wrap("query snapshot range", err)
	}
	defer rows.Close()

	var out []metrics.Snapshot
	for rows.Next() {
		var s metrics.Snapshot
		if err := rows.Scan(&s.HostID, &s.Time, &s.CPUPercent, &s.MemoryUsedBytes, &s.MemoryTotalBytes,
			&s.DiskUsedBytes, &s.DiskTotalBytes, &s.NetworkRxCumulative, &s.NetworkTxCumulative,
			&s.NetworkRxBytesPerSec, &s.NetworkTxBytesPerSec, &s.RunningProcessesCount, &s.TCPEstablishedCount); err != nil {
			return nil, Wrap("scan snapshot", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteSnapshotRepository) Latest(ctx context.Context, hostID string) (*metrics.Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT host_id, recorded_at, cpu_percent, memory_used_bytes, memory_total_bytes,
			disk_used_bytes, disk_total_bytes, network_rx_bytes, network_tx_bytes,
			network_rx_bps, network_tx_bps, running_processes_count, tcp_established_connection_count
		FROM performance_snapshots WHERE host_id = ? ORDER BY recorded_at DESC LIMIT 1
	`, hostID)
	var s metrics.Snapshot
	if err := row.Scan(&s.HostID, &s.Time, &s.CPUPercent, &s.MemoryUsedBytes, &s.MemoryTotalBytes,
		&s.DiskUsedBytes, &s.DiskTotalBytes, &s.NetworkRxCumulative, &s.NetworkTxCumulative,
		&s.NetworkRxBytesPerSec, &s.NetworkTxBytesPerSec, &s.RunningProcessesCount, &s.TCPEstablishedCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFound("no snapshots for host: " + hostID)
		}
		return nil, Wrap("scan latest snapshot", err)
	}
	return &s, nil
}

func (r *SQLiteSnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM performance_snapshots WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, Wrap("delete old snapshots", err)
	}
	return result.RowsAffected()
}

// SummaryRepository is the C3 surface for the aggregated Summary_1m/1h/1d
// rows.
type SummaryRepository interface {
	Upsert(ctx context.Context, s metrics.Summary) error
	LatestBucketStart(ctx context.Context, hostID string, bucket metrics.Bucket) (time.Time, bool, error)
	DeleteOlderThan(ctx context.Context, bucket metrics.Bucket, cutoff time.Time) (int64, error)
}

// SQLiteSummaryRepository implements SummaryRepository.
type SQLiteSummaryRepository struct {
	db *sql.DB
}

// NewSQLiteSummaryRepository constructs a repository bound to db.
func NewSQLiteSummaryRepository(db *sql.DB) *SQLiteSummaryRepository {
	return &SQLiteSummaryRepository{db: db}
}

func (r *SQLiteSummaryRepository) Upsert(ctx context.Context, s metrics.Summary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO performance_summaries (
			host_id, bucket, bucket_start, cpu_percent_avg, memory_used_bytes_avg,
			network_rx_bps_avg, network_tx_bps_avg, sample_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (host_id, bucket, bucket_start) DO UPDATE SET
			cpu_percent_avg = excluded.cpu_percent_avg,
			memory_used_bytes_avg = excluded.memory_used_bytes_avg,
			network_rx_bps_avg = excluded.network_rx_bps_avg,
			network_tx_bps_avg = excluded.network_tx_bps_avg,
			sample_count = excluded.sample_count
	`, s.HostID, string(s.Bucket), s.BucketStart, s.CPUPercentAvg, s.MemoryUsedBytesAvg,
		s.NetworkRxBytesPerSecAvg, s.NetworkTxBytesPerSecAvg, s.SampleCount)
	if err != nil {
		return Wrap("upsert summary", err)
	}
	return nil
}

func (r *SQLiteSummaryRepository) LatestBucketStart(ctx context.Context, hostID string, bucket metrics.Bucket) (time.Time, bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT bucket_start FROM performance_summaries
		WHERE host_id = ? AND bucket = ? ORDER BY bucket_start DESC LIMIT 1
	`, hostID, string(bucket))
	var t time.Time
	if err := row.Scan(&t); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, Wrap("query latest bucket", err)
	}
	return t, true, nil
}

func (r *SQLiteSummaryRepository) DeleteOlderThan(ctx context.Context, bucket metrics.Bucket, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM performance_summaries WHERE bucket = ? AND bucket_start < ?
	`, string(bucket), cutoff)
	if err != nil {
		return 0, Wrap("delete old summaries", err)
	}
	return result.RowsAffected()
}
