package ratelimit

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestDBCounter_Allow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	counter := NewDBCounter(db, 2)

	mock.ExpectQuery(`INSERT INTO rate_limit_buckets`).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	ok, err := counter.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)

	mock.ExpectQuery(`INSERT INTO rate_limit_buckets`).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	ok, err = counter.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBCounter_Allow_NoLimit(t *testing.T) {
	var counter *DBCounter
	ok, err := counter.Allow(context.Background(), "user-1")
	require.NoError(t, err)
	require.True(t, ok)
}
