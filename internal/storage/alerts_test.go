package storage

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/alert"
)

func TestSQLiteAlertRuleRepositoryGetScansHostID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "name", "metric", "comparator", "threshold", "duration_seconds", "cooldown_seconds",
		"host_ids", "notification_target", "enabled", "last_triggered_at",
	}).AddRow("r1", "owner-1", "high cpu", string(alert.MetricCPUUsagePercent), string(alert.ComparatorGT), 90.0, 60, 300,
		`["h1"]`, "email:ops@example.com", 1, nil)

	mock.ExpectQuery("SELECT (.|\n)*FROM alert_rules WHERE id = ?").WithArgs("r1").WillReturnRows(rows)

	repo := NewSQLiteAlertRuleRepository(db, nil)
	rule, err := repo.Get(context.Background(), "r1")
	require.NoError(t, err)
	require.Equal(t, "h1", rule.HostID)
	require.True(t, rule.Active)
	require.Nil(t, rule.LastTriggeredAt)
}

func TestSQLiteAlertRuleRepositoryUpdateNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE alert_rules SET").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewSQLiteAlertRuleRepository(db, nil)
	err = repo.Update(context.Background(), &alert.Rule{ID: "missing"})
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}
