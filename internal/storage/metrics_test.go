package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/metrics"
)

func TestSQLiteSnapshotRepositoryInsertBatchUsesOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO performance_snapshots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO performance_snapshots").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	repo := NewSQLiteSnapshotRepository(db)
	err = repo.InsertBatch(context.Background(), []metrics.Snapshot{
		{HostID: "h1", Time: now},
		{HostID: "h1", Time: now.Add(time.Second)},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteSnapshotRepositoryLatestNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.|\n)*FROM performance_snapshots WHERE host_id = (.|\n)*ORDER BY recorded_at DESC").
		WithArgs("h1").
		WillReturnRows(sqlmock.NewRows(nil))

	repo := NewSQLiteSnapshotRepository(db)
	_, err = repo.Latest(context.Background(), "h1")
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestSQLiteSummaryRepositoryLatestBucketStartNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT bucket_start FROM performance_summaries").
		WithArgs("h1", string(metrics.Bucket1m)).
		WillReturnRows(sqlmock.NewRows(nil))

	repo := NewSQLiteSummaryRepository(db)
	_, ok, err := repo.LatestBucketStart(context.Background(), "h1", metrics.Bucket1m)
	require.NoError(t, err)
	require.False(t, ok)
}
