package session

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"meterpay/internal/ledger"
)

func setupSessionMock(t *testing.T) (Repository, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	repo := NewRepository(sqlxDB)

	closer := func() { sqlxDB.Close() }
	return repo, mock, closer
}

func sessionRows(id, consumer, provider int, rate int64, status string, startedAt time.Time, endedAt interface{}) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "consumer_account", "provider_account", "type", "charge_mode",
		"rate_per_minute", "started_at", "ended_at", "duration_minutes",
		"total_charge", "shortfall", "status", "created_at",
	}).AddRow(id, consumer, provider, TypeVideoCall, ModeLive, rate, startedAt, endedAt, 0, 0, 0, status, startedAt)
}

func expectClaim(mock sqlmock.Sqlmock, id int, endedAt time.Time, rows *sqlmock.Rows) {
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions SET status = 'completed', ended_at = $2 WHERE id = $1 AND status = 'active' RETURNING "+sessionColumns)).
		WithArgs(id, endedAt).
		WillReturnRows(rows)
}

func expectAccountLock(mock sqlmock.Sqlmock, accountID int, balance int64) {
	mock.ExpectQuery(regexp.QuoteMeta("SELECT balance_tokens FROM accounts WHERE id = $1 FOR UPDATE")).
		WithArgs(accountID).
		WillReturnRows(sqlmock.NewRows([]string{"balance_tokens"}).AddRow(balance))
}

func expectAccountEntry(mock sqlmock.Sqlmock, accountID int, newBalance, delta int64, entryType, reference string) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance_tokens = $1, reserved_tokens = LEAST(reserved_tokens, $1), updated_at = NOW() WHERE id = $2")).
		WithArgs(newBalance, accountID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO ledger_entries (account_id, delta, type, reference, balance_after) VALUES ($1, $2, $3, $4, $5)")).
		WithArgs(accountID, delta, entryType, reference, newBalance).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox (topic, payload) VALUES ($1, $2)")).
		WithArgs("balance.adjusted", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func expectTotals(mock sqlmock.Sqlmock, id int, minutes, charge, shortfall int64) {
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET duration_minutes = $1, total_charge = $2, shortfall = $3 WHERE id = $4")).
		WithArgs(minutes, charge, shortfall, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox (topic, payload) VALUES ($1, $2)")).
		WithArgs("session.settled", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestSettle_ClosesAndCollectsInOneTransaction(t *testing.T) {
	repo, mock, close := setupSessionMock(t)
	defer close()

	started := time.Now().Add(-90 * time.Second)
	endedAt := time.Now()

	mock.ExpectBegin()
	expectClaim(mock, 9, endedAt, sessionRows(9, 1, 2, 10, StatusCompleted, started, endedAt))
	expectAccountLock(mock, 1, 100)
	expectAccountLock(mock, 2, 0)
	expectAccountEntry(mock, 1, 80, -20, ledger.EntrySessionCharge, "session:9")
	expectAccountEntry(mock, 2, 20, 20, ledger.EntrySessionEarning, "session:9")
	expectTotals(mock, 9, 2, 20, 0)
	mock.ExpectCommit()

	sess, collected, won, err := repo.Settle(context.Background(), 9, endedAt, 2, 20)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, int64(20), collected)
	require.Equal(t, int64(20), sess.TotalCharge)
	require.Equal(t, int64(0), sess.Shortfall)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_ShortfallCapsAtBalance(t *testing.T) {
	repo, mock, close := setupSessionMock(t)
	defer close()

	started := time.Now().Add(-5 * time.Minute)
	endedAt := time.Now()

	// Consumer holds 30 of a 50-token charge: the debit is capped and the
	// remainder is recorded as shortfall.
	mock.ExpectBegin()
	expectClaim(mock, 13, endedAt, sessionRows(13, 1, 2, 10, StatusCompleted, started, endedAt))
	expectAccountLock(mock, 1, 30)
	expectAccountLock(mock, 2, 0)
	expectAccountEntry(mock, 1, 0, -30, ledger.EntrySessionCharge, "session:13")
	expectAccountEntry(mock, 2, 30, 30, ledger.EntrySessionEarning, "session:13")
	expectTotals(mock, 13, 5, 50, 20)
	mock.ExpectCommit()

	sess, collected, won, err := repo.Settle(context.Background(), 13, endedAt, 5, 50)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, int64(30), collected)
	require.Equal(t, int64(20), sess.Shortfall)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_InsolventConsumerClosesWithFullShortfall(t *testing.T) {
	repo, mock, close := setupSessionMock(t)
	defer close()

	started := time.Now().Add(-90 * time.Second)
	endedAt := time.Now()

	mock.ExpectBegin()
	expectClaim(mock, 16, endedAt, sessionRows(16, 1, 2, 10, StatusCompleted, started, endedAt))
	expectAccountLock(mock, 1, 0)
	expectAccountLock(mock, 2, 0)
	// Nothing to collect: no account writes, the close still commits.
	expectTotals(mock, 16, 2, 20, 20)
	mock.ExpectCommit()

	sess, collected, won, err := repo.Settle(context.Background(), 16, endedAt, 2, 20)
	require.NoError(t, err)
	require.True(t, won)
	require.Equal(t, int64(0), collected)
	require.Equal(t, int64(20), sess.Shortfall)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_LostClaimReturnsStoredRow(t *testing.T) {
	repo, mock, close := setupSessionMock(t)
	defer close()

	started := time.Now().Add(-2 * time.Minute)
	endedAt := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE sessions SET status = 'completed', ended_at = $2 WHERE id = $1 AND status = 'active' RETURNING "+sessionColumns)).
		WithArgs(12, endedAt).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT " + sessionColumns + " FROM sessions WHERE id = $1")).
		WithArgs(12).
		WillReturnRows(sessionRows(12, 1, 2, 10, StatusCompleted, started, endedAt))

	sess, collected, won, err := repo.Settle(context.Background(), 12, endedAt, 2, 20)
	require.NoError(t, err)
	require.False(t, won)
	require.Equal(t, int64(0), collected)
	require.Equal(t, StatusCompleted, sess.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettle_LedgerFailureRollsBackClose(t *testing.T) {
	repo, mock, close := setupSessionMock(t)
	defer close()

	started := time.Now().Add(-90 * time.Second)
	endedAt := time.Now()

	// A transient failure on the debit rolls everything back, the claim
	// included: the session stays active and a retry can settle it.
	mock.ExpectBegin()
	expectClaim(mock, 17, endedAt, sessionRows(17, 1, 2, 10, StatusCompleted, started, endedAt))
	expectAccountLock(mock, 1, 100)
	expectAccountLock(mock, 2, 0)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts SET balance_tokens = $1, reserved_tokens = LEAST(reserved_tokens, $1), updated_at = NOW() WHERE id = $2")).
		WithArgs(int64(80), 1).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, _, _, err := repo.Settle(context.Background(), 17, endedAt, 2, 20)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
