package storage

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nodenexus/nodenexus/internal/domain/batch"
)

func TestSQLiteBatchRepositoryCreateParentInsertsChildrenInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO batch_command_tasks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO child_command_tasks").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO child_command_tasks").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	repo := NewSQLiteBatchRepository(db)
	err = repo.CreateParent(context.Background(), &batch.Parent{ID: "p1", Status: batch.ParentPending}, []batch.Child{
		{ID: "c1", HostID: "h1", Status: batch.ChildPending},
		{ID: "c2", HostID: "h2", Status: batch.ChildPending},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBatchRepositoryGetParentNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT (.|\n)*FROM batch_command_tasks WHERE id = ?").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(nil))

	repo := NewSQLiteBatchRepository(db)
	_, err = repo.GetParent(context.Background(), "missing")
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}
