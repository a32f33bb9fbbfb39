package storage

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/host"
)

func TestSQLiteHostRepositoryGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.|\n)*FROM hosts WHERE id = ?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	repo := NewSQLiteHostRepository(db)
	_, err = repo.Get(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestSQLiteHostRepositoryGetScansRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "name", "agent_secret_hash", "new_agent_secret", "metadata", "group_name", "tags",
		"is_online", "last_seen_at", "traffic_limit_bytes", "traffic_used_bytes", "traffic_cycle_day",
		"traffic_reset_at", "renewal_due_at", "reminder_active", "created_at", "updated_at",
	}).AddRow("h1", "o1", "host-1", "secret", "", `{"os_name":"linux"}`, "", "[]",
		1, now, 1000, 200, 15, nil, nil, 0, now, now)

	mock.ExpectQuery("SELECT (.|\n)*FROM hosts WHERE id = ?").WithArgs("h1").WillReturnRows(rows)

	repo := NewSQLiteHostRepository(db)
	h, err := repo.Get(context.Background(), "h1")
	require.NoError(t, err)
	require.Equal(t, "host-1", h.Name)
	require.Equal(t, host.StatusOnline, h.Status)
	require.Equal(t, "linux", h.Metadata["os_name"])
}
