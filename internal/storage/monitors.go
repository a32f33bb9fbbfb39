package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

// MonitorRepository is the C9 surface for ServiceMonitor definitions and
// their probe results.
type MonitorRepository interface {
	Create(ctx context.Context, m *monitor.Monitor) error
	Get(ctx context.Context, id string) (*monitor.Monitor, error)
	ListActive(ctx context.Context, ownerID string) ([]monitor.Monitor, error)
	Update(ctx context.Context, m *monitor.Monitor) error
	Delete(ctx context.Context, id string) error

	RecordResult(ctx context.Context, res monitor.Result) error
	RecentResults(ctx context.Context, monitorID, hostID string, since time.Time) ([]monitor.Result, error)
	Timeseries(ctx context.Context, monitorID, hostID string, since time.Time, bucketSeconds int) ([]TimeseriesPoint, error)
}

// TimeseriesPoint is one bucketed aggregation of monitor results, per spec
// §6: "Latency is returned as AVG(latency_ms); availability as
// SUM(is_up)/COUNT(*)".
type TimeseriesPoint struct {
	BucketStart     time.Time
	AvgLatencyMS    float64
	Availability    float64
	SampleCount     int
}

// SQLiteMonitorRepository implements MonitorRepository.
type SQLiteMonitorRepository struct {
	db *sql.DB
}

// NewSQLiteMonitorRepository constructs a repository bound to db.
func NewSQLiteMonitorRepository(db *sql.DB) *SQLiteMonitorRepository {
	return &SQLiteMonitorRepository{db: db}
}

func (r *SQLiteMonitorRepository) Create(ctx context.Context, m *monitor.Monitor) error {
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now

	directIDs, err := json.Marshal(m.DirectHostIDs)
	if err != nil {
		return Wrap("marshal monitor host ids", err)
	}
	tags, err := json.Marshal(m.TagNames)
	if err != nil {
		return Wrap("marshal monitor tags", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO service_monitors (
			id, name, monitor_type, target, interval_seconds, timeout_seconds,
			assignment_mode, owner_id, active, config_json, assigned_host_ids, tag_names,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Name, string(m.Type), m.Target, m.FrequencySeconds, m.TimeoutSeconds,
		string(m.AssignmentType), m.OwnerID, boolToInt(m.Active), m.ConfigJSON, string(directIDs), string(tags),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return Wrap("insert monitor", err)
	}
	return nil
}

func (r *SQLiteMonitorRepository) Get(ctx context.Context, id string) (*monitor.Monitor, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, monitor_type, target, interval_seconds, timeout_seconds,
			assignment_mode, owner_id, active, config_json, assigned_host_ids, tag_names,
			created_at, updated_at
		FROM service_monitors WHERE id = ?
	`, id)
	m, err := scanMonitor(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, NewNotFound("monitor not found: " + id)
		}
		return nil, Wrap("get monitor", err)
	}
	return m, nil
}

func (r *SQLiteMonitorRepository) ListActive(ctx context.Context, ownerID string) ([]monitor.Monitor, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, monitor_type, target, interval_seconds, timeout_seconds,
			assignment_mode, owner_id, active, config_json, assigned_host_ids, tag_names,
			created_at, updated_at
		FROM service_monitors WHERE owner_id = ? AND active = 1
	`, ownerID)
	if err != nil {
		return nil, Wrap("list active monitors", err)
	}
	defer rows.Close()

	var out []monitor.Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, Wrap("scan monitor", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *SQLiteMonitorRepository) Update(ctx context.Context, m *monitor.Monitor) error {
	m.UpdatedAt = time.Now().UTC()
	directIDs, err := json.Marshal(m.DirectHostIDs)
	if err != nil {
		return Wrap("marshal monitor host ids", err)
	}
	tags, err := json.Marshal(m.TagNames)
	if err != nil {
		return Wrap("marshal monitor tags", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE service_monitors SET
			name = ?, monitor_type = ?, target = ?, interval_seconds = ?, timeout_seconds = ?,
			assignment_mode = ?, active = ?, config_json = ?, assigned_host_ids = ?, tag_names = ?,
			updated_at = ?
		WHERE id = ?
	`, m.Name, string(m.Type), m.Target, m.FrequencySeconds, m.TimeoutSeconds,
		string(m.AssignmentType), boolToInt(m.Active), m.ConfigJSON, string(directIDs), string(tags),
		m.UpdatedAt, m.ID)
	if err != nil {
		return Wrap("update monitor", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("monitor not found: " + m.ID)
	}
	return nil
}

func (r *SQLiteMonitorRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM service_monitors WHERE id = ?`, id)
	if err != nil {
		return Wrap("delete monitor", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return NewNotFound("monitor not found: " + id)
	}
	return nil
}

func (r *SQLiteMonitorRepository) RecordResult(ctx context.Context, res monitor.Result) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO service_monitor_results (monitor_id, host_id, checked_at, success, latency_ms, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.MonitorID, res.HostID, res.Time, boolToInt(res.Success), res.LatencyMS, res.Details)
	if err != nil {
		return Wrap("insert monitor result", err)
	}
	return nil
}

func (r *SQLiteMonitorRepository) RecentResults(ctx context.Context, monitorID, hostID string, since time.Time) ([]monitor.Result, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT monitor_id, host_id, checked_at, success, latency_ms, message
		FROM service_monitor_results
		WHERE monitor_id = ? AND host_id = ? AND checked_at >= ?
		ORDER BY checked_at
	`, monitorID, hostID, since)
	if err != nil {
		return nil, Wrap("query monitor results", err)
	}
	defer rows.Close()

	var out []monitor.Result
	for rows.Next() {
		var res monitor.Result
		var success int
		if err := rows.Scan(&res.MonitorID, &res.HostID, &res.Time, &success, &res.LatencyMS, &res.Details); err != nil {
			return nil, Wrap("scan monitor result", err)
		}
		res.Success = success != 0
		out = append(out, res)
	}
	return out, rows.Err()
}

// Timeseries buckets results by bucketSeconds-wide windows, computing
// average latency and availability per bucket (spec §6). Either monitorID
// or hostID may be empty to aggregate across the other dimension, but not
// both.
func (r *SQLiteMonitorRepository) Timeseries(ctx context.Context, monitorID, hostID string, since time.Time, bucketSeconds int) ([]TimeseriesPoint, error) {
	if bucketSeconds <= 0 {
		bucketSeconds = 60
	}
	query := `
		SELECT
			(CAST(strftime('%s', checked_at) AS INTEGER) / ?) * ? AS bucket_start,
			AVG(latency_ms) AS avg_latency,
			CAST(SUM(success) AS REAL) / COUNT(*) AS availability,
			COUNT(*) AS sample_count
		FROM service_monitor_results
		WHERE checked_at >= ?`
	args := []any{bucketSeconds, bucketSeconds, since}
	if monitorID != "" {
		query += " AND monitor_id = ?"
		args = append(args, monitorID)
	}
	if hostID != "" {
		query += " AND host_id = ?"
		args = append(args, hostID)
	}
	query += " GROUP BY bucket_start ORDER BY bucket_start"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Wrap("query monitor timeseries", err)
	}
	defer rows.Close()

	var out []TimeseriesPoint
	for rows.Next() {
		var p TimeseriesPoint
		var bucketUnix int64
		if err := rows.Scan(&bucketUnix, &p.AvgLatencyMS, &p.Availability, &p.SampleCount); err != nil {
			return nil, Wrap("scan monitor timeseries", err)
		}
		p.BucketStart = time.Unix(bucketUnix, 0).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanMonitor(row rowScanner) (*monitor.Monitor, error) {
	var (
		m             monitor.Monitor
		active        int
		directIDsJSON string
		tagsJSON      string
	)
	if err := row.Scan(&m.ID, &m.Name, &m.Type, &m.Target, &m.FrequencySeconds, &m.TimeoutSeconds,
		&m.AssignmentType, &m.OwnerID, &active, &m.ConfigJSON, &directIDsJSON, &tagsJSON,
		&m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Active = active != 0
	if err := json.Unmarshal([]byte(directIDsJSON), &m.DirectHostIDs); err != nil {
		m.DirectHostIDs = nil
	}
	if err := json.Unmarshal([]byte(tagsJSON), &m.TagNames); err != nil {
		m.TagNames = nil
	}
	return &m, nil
}
