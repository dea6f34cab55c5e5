package ledger

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	selectUserForUpdate = `SELECT balance_cents FROM users WHERE user_id=$1 FOR UPDATE`
	selectPriorEntry    = `SELECT balance_after_cents FROM ledger_entries WHERE idempotency_key=$1`
)

func newMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestDebitHappyPath(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(1000))
	mock.ExpectQuery(regexp.QuoteMeta(selectPriorEntry)).
		WithArgs("bet:b1:stake").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE users SET balance_cents").
		WithArgs(int64(800), int64(200), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("bet:b1:stake", "u1", int64(200), int64(800), "stake bet b1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bal, err := p.Debit(context.Background(), "u1", 200, "bet:b1:stake", "stake bet b1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitInsufficientFundsHasNoPartialEffect(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta(selectPriorEntry)).
		WithArgs("bet:b1:stake").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := p.Debit(context.Background(), "u1", 200, "bet:b1:stake", "stake bet b1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitReplayReturnsOriginalBalance(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(800))
	mock.ExpectQuery(regexp.QuoteMeta(selectPriorEntry)).
		WithArgs("bet:b1:stake").
		WillReturnRows(sqlmock.NewRows([]string{"balance_after_cents"}).AddRow(800))
	mock.ExpectRollback()

	bal, err := p.Debit(context.Background(), "u1", 200, "bet:b1:stake", "stake bet b1")
	assert.ErrorIs(t, err, ErrAlreadyApplied)
	assert.Equal(t, int64(800), bal, "replay reports the outcome of the original application")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitUnknownUser(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := p.Debit(context.Background(), "ghost", 200, "k", "d")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditCreatesAccountOnDemand(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("new-user").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO users").
		WithArgs("new-user").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(selectPriorEntry)).
		WithArgs("b9").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("UPDATE users SET balance_cents").
		WithArgs(int64(600), int64(0), "new-user").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("b9", "new-user", int64(600), int64(600), "payout bet b9").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bal, err := p.Credit(context.Background(), "new-user", 600, "b9", "payout bet b9")
	require.NoError(t, err)
	assert.Equal(t, int64(600), bal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositAddsToWagerRollover(t *testing.T) {
	p, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(selectUserForUpdate)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"balance_cents"}).AddRow(100))
	mock.ExpectQuery(regexp.QuoteMeta(selectPriorEntry)).
		WithArgs("deposit:ref-1").
		WillReturnError(sql.ErrNoRows)
	// o valor depositado entra inteiro no rollover
	mock.ExpectExec("UPDATE users SET balance_cents").
		WithArgs(int64(1100), int64(1000), "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO ledger_entries").
		WithArgs("deposit:ref-1", "u1", int64(1000), int64(1100), "admin deposit").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	bal, err := p.Deposit(context.Background(), "u1", 1000, "deposit:ref-1", "admin deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(1100), bal)
	assert.NoError(t, mock.ExpectationsWereMet())
}
