package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/monitor"
)

func TestSQLiteMonitorRepositoryGetUnmarshalsHostIDsAndTags(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "name", "monitor_type", "target", "interval_seconds", "timeout_seconds",
		"assignment_mode", "owner_id", "active", "config_json", "assigned_host_ids", "tag_names",
		"created_at", "updated_at",
	}).AddRow("m1", "web check", string(monitor.TypeHTTP), "https://example.com", 60, 10,
		string(monitor.AssignmentInclusive), "owner-1", 1, "{}", `["h1","h2"]`, `["prod"]`, now, now)

	mock.ExpectQuery("SELECT (.|\n)*FROM service_monitors WHERE id = ?").WithArgs("m1").WillReturnRows(rows)

	repo := NewSQLiteMonitorRepository(db)
	m, err := repo.Get(context.Background(), "m1")
	require.NoError(t, err)
	require.Equal(t, []string{"h1", "h2"}, m.DirectHostIDs)
	require.Equal(t, []string{"prod"}, m.TagNames)
	require.True(t, m.Active)
}

func TestSQLiteMonitorRepositoryRecordResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO service_monitor_results").WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewSQLiteMonitorRepository(db)
	err = repo.RecordResult(context.Background(), monitor.Result{
		MonitorID: "m1", HostID: "h1", Time: time.Now().UTC(), Success: true, LatencyMS: 42,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteMonitorRepositoryTimeseriesScansBucketedRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	bucketStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	rows := sqlmock.NewRows([]string{"bucket_start", "avg_latency", "availability", "sample_count"}).
		AddRow(bucketStart, 123.5, 0.95, 20)

	mock.ExpectQuery("SELECT(.|\n)*FROM service_monitor_results").
		WithArgs(60, 60, sqlmock.AnyArg(), "m1").
		WillReturnRows(rows)

	repo := NewSQLiteMonitorRepository(db)
	points, err := repo.Timeseries(context.Background(), "m1", "", time.Now().UTC().Add(-time.Hour), 60)
	require.NoError(t, err)
	require.Len(t, points, 1)
	require.Equal(t, 123.5, points[0].AvgLatencyMS)
	require.Equal(t, 0.95, points[0].Availability)
	require.Equal(t, 20, points[0].SampleCount)
	require.NoError(t, mock.ExpectationsWereMet())
}
