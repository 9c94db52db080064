package binarystore

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/model"
)

func TestID(t *testing.T) {
	id := ID([]byte(`hello world`))
	require.Equal(t, `sha256-`+`b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9`, id)
}

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s, err := New(conn, Config{Dir: t.TempDir(), TTL: time.Hour})
	require.NoError(t, err)
	return s, mock
}

func TestPutRejectsOversizedPayload(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	s, err := New(conn, Config{Dir: t.TempDir(), MaxSize: 4})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), nil, []byte(`too long`), model.BinaryMetadata{})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutAndGetRoundTrip(t *testing.T) {
	s, mock := newTestStore(t)
	bytes := []byte(`#!/bin/sh\necho hi\n`)
	id := ID(bytes)

	mock.ExpectQuery(`INSERT INTO binaries`).
		WithArgs(id, int64(len(bytes)), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{`id`, `size`, `language`, `optimization`, `compiler_version`, `compile_flags`, `created_at`}).
			AddRow(id, int64(len(bytes)), nil, nil, nil, nil, time.Now()))

	bin, err := s.Put(context.Background(), nil, bytes, model.BinaryMetadata{})
	require.NoError(t, err)
	require.Equal(t, id, bin.ID)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, bytes, got)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), `sha256-deadbeef`)
	require.Error(t, err)
}
