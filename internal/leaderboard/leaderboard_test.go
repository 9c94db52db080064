package leaderboard

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/ctf-arena/internal/model"
)

func TestSortGlobalRowsTieBreaks(t *testing.T) {
	rows := []model.GlobalLeaderboardRow{
		{UserID: `zeta`, TotalScore: 1000, FirstPlaces: 1, ChallengesCompleted: 2},
		{UserID: `alpha`, TotalScore: 1000, FirstPlaces: 1, ChallengesCompleted: 2},
		{UserID: `beta`, TotalScore: 1000, FirstPlaces: 2, ChallengesCompleted: 1},
		{UserID: `gamma`, TotalScore: 2000, FirstPlaces: 0, ChallengesCompleted: 1},
	}
	sortGlobalRows(rows)

	want := []model.GlobalLeaderboardRow{
		{UserID: `gamma`, TotalScore: 2000, FirstPlaces: 0, ChallengesCompleted: 1},
		{UserID: `beta`, TotalScore: 1000, FirstPlaces: 2, ChallengesCompleted: 1},
		{UserID: `alpha`, TotalScore: 1000, FirstPlaces: 1, ChallengesCompleted: 2},
		{UserID: `zeta`, TotalScore: 1000, FirstPlaces: 1, ChallengesCompleted: 2},
	}
	if diff := cmp.Diff(want, rows); diff != `` {
		t.Errorf(`sortGlobalRows() mismatch (-want +got):\n%s`, diff)
	}
}

func TestUserTypeFilter(t *testing.T) {
	verified, ok := userTypeFilter(`human`)
	require.True(t, ok)
	require.True(t, verified)

	verified, ok = userTypeFilter(`clanker`)
	require.True(t, ok)
	require.False(t, verified)

	_, ok = userTypeFilter(``)
	require.False(t, ok)

	_, ok = userTypeFilter(`bogus`)
	require.False(t, ok)
}

func TestPerChallengeLeaderboardFiltersByUserType(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows([]string{`rank`, `user_id`, `instructions`, `language`, `created_at`}).
		AddRow(1, `user-1`, int64(100), `python`, time.Now())
	mock.ExpectQuery(`WHERE challenge_id = \$1 AND is_verified = \$2`).
		WithArgs(`chal-1`, true, 500).
		WillReturnRows(rows)

	e := New(conn, nil)
	got, err := e.PerChallengeLeaderboard(context.Background(), `chal-1`, ``, `human`, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGlobalLeaderboardFiltersByUserType(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	rows := sqlmock.NewRows([]string{`user_id`, `is_best`, `contribution`}).
		AddRow(`user-1`, true, int64(1000))
	mock.ExpectQuery(`WHERE le.is_verified = \$1`).
		WithArgs(false).
		WillReturnRows(rows)

	e := New(conn, nil)
	got, err := e.GlobalLeaderboard(context.Background(), `clanker`, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertLeaderboardKeepsBest(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec(`INSERT INTO leaderboard_entries`).
		WithArgs(`user-1`, `chal-1`, `python`, int64(1500), sqlmock.AnyArg(), `print(1)`, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := New(conn, nil)
	err = e.UpsertLeaderboard(context.Background(), `user-1`, `chal-1`, `python`, 1500, uuid.New(), `print(1)`, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
