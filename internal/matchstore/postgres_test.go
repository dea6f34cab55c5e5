package matchstore

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fanarena/fanbet-core/pkg/contracts/events"
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func expectBegin(mock sqlmock.Sqlmock, matchID string, inserted int64, storedKind string, payloadJSON []byte) {
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM matches WHERE match_id=$1)`)).
		WithArgs(matchID).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec("UPDATE matches SET status='LOCKED'").
		WithArgs(matchID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO match_settlements").
		WillReturnResult(sqlmock.NewResult(0, inserted))
	mock.ExpectQuery("SELECT kind, result, created_at FROM match_settlements").
		WithArgs(matchID).
		WillReturnRows(sqlmock.NewRows([]string{"kind", "result", "created_at"}).
			AddRow(storedKind, payloadJSON, time.Now()))
	mock.ExpectCommit()
}

func TestBeginSettlementFirstTriggerWins(t *testing.T) {
	p, mock := newMock(t)
	result := events.MatchResultPayload{Outcome: "home", HomeScore: 1}
	expectBegin(mock, "m1", 1, KindCompleted, mustJSON(t, result))

	rec, created, err := p.BeginSettlement(context.Background(), "m1", KindCompleted, result)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, KindCompleted, rec.Kind)
	assert.Equal(t, "home", rec.Result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginSettlementConflictReturnsRecordedResult(t *testing.T) {
	p, mock := newMock(t)
	// o gatilho chega com VOIDED, mas o registro gravado antes diz COMPLETED 2x0
	recorded := events.MatchResultPayload{Outcome: "home", HomeScore: 2}
	expectBegin(mock, "m1", 0, KindCompleted, mustJSON(t, recorded))

	rec, created, err := p.BeginSettlement(context.Background(), "m1", KindVoided, events.MatchResultPayload{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, KindCompleted, rec.Kind, "the recorded settlement is authoritative")
	assert.Equal(t, 2, rec.Result.HomeScore)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginSettlementUnknownMatch(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS(SELECT 1 FROM matches WHERE match_id=$1)`)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectRollback()

	_, _, err := p.BeginSettlement(context.Background(), "ghost", KindCompleted, events.MatchResultPayload{})
	assert.ErrorIs(t, err, ErrMatchNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeOnlyFromLocked(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectExec("UPDATE matches SET status=").
		WithArgs(KindCompleted, sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// segunda chamada: partida já terminal, UPDATE não pega nenhuma linha
	mock.ExpectExec("UPDATE matches SET status=").
		WithArgs(KindCompleted, sqlmock.AnyArg(), "m1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := p.Finalize(context.Background(), "m1", KindCompleted, events.MatchResultPayload{Outcome: "home"})
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = p.Finalize(context.Background(), "m1", KindCompleted, events.MatchResultPayload{Outcome: "home"})
	require.NoError(t, err)
	assert.False(t, applied, "terminal states never transition again")
	assert.NoError(t, mock.ExpectationsWereMet())
}
