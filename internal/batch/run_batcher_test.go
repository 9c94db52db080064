package batch

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/model"
)

func TestInsertRuns_Empty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, insertRuns(context.Background(), db, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRuns_CopyIn(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(`COPY "runs"`)
	mock.ExpectExec(`COPY "runs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`COPY "runs"`).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`COPY "runs"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	runs := []*model.Run{
		{ID: uuid.New(), JobID: uuid.New(), BinaryID: "sha256-a", CreatedAt: time.Unix(0, 0).UTC()},
		{ID: uuid.New(), JobID: uuid.New(), BinaryID: "sha256-b", CreatedAt: time.Unix(0, 0).UTC()},
	}

	require.NoError(t, insertRuns(context.Background(), db, runs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunBatcher_SubmitAndShutdown(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectPrepare(`COPY "runs"`)
	mock.ExpectExec(`COPY "runs"`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`COPY "runs"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	rb := NewRunBatcher(db, &BatcherConfig{MaxSize: 1, FlushInterval: time.Millisecond})
	result, err := rb.Submit(context.Background(), &model.Run{
		ID: uuid.New(), JobID: uuid.New(), BinaryID: "sha256-a", CreatedAt: time.Unix(0, 0).UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, result.Wait(context.Background()))
	require.NoError(t, rb.Shutdown(context.Background()))
}
