package oddscache

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSource(t *testing.T) (*Source, *miniredis.Miniredis, sqlmock.Sqlmock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSource(rdb, db, time.Minute), mr, mock
}

func TestLockedOddFromCache(t *testing.T) {
	s, mr, mock := newSource(t)
	require.NoError(t, mr.Set("odds:m1:home", "1.85"))

	odd, err := s.LockedOdd(context.Background(), "m1", "home")
	require.NoError(t, err)
	assert.Equal(t, "1.85", odd.String())
	// cache hit nunca chega no banco
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLockedOddMissFallsBackToPostgresAndBackfills(t *testing.T) {
	s, mr, mock := newSource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT odd_value FROM match_odds WHERE match_id=$1 AND bet_type=$2`)).
		WithArgs("m1", "total_over_2.5").
		WillReturnRows(sqlmock.NewRows([]string{"odd_value"}).AddRow("2.10"))

	odd, err := s.LockedOdd(context.Background(), "m1", "total_over_2.5")
	require.NoError(t, err)
	assert.Equal(t, "2.1", odd.String())
	assert.NoError(t, mock.ExpectationsWereMet())

	cached, err := mr.Get("odds:m1:total_over_2.5")
	require.NoError(t, err)
	assert.Equal(t, "2.10", cached)
}

func TestLockedOddUnknownBetType(t *testing.T) {
	s, _, mock := newSource(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT odd_value FROM match_odds WHERE match_id=$1 AND bet_type=$2`)).
		WithArgs("m1", "handicap_-1.5").
		WillReturnError(sql.ErrNoRows)

	_, err := s.LockedOdd(context.Background(), "m1", "handicap_-1.5")
	assert.ErrorIs(t, err, ErrUnknownBetType)
}

func TestPublishWritesWithTTL(t *testing.T) {
	s, mr, _ := newSource(t)

	require.NoError(t, s.Publish(context.Background(), "m1", "draw", "3.40"))

	val, err := mr.Get("odds:m1:draw")
	require.NoError(t, err)
	assert.Equal(t, "3.40", val)
	assert.Positive(t, mr.TTL("odds:m1:draw"))
}
