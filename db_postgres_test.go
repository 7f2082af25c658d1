package main

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &PostgresDB{db: db}, mock
}

func TestReplaceActiveTokenTransaction(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("user@example.com", string(PurposeAccess)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("user@example.com", string(PurposeAccess), "signed-token").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := p.ReplaceActiveToken(context.Background(), "user@example.com", PurposeAccess, "signed-token")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceActiveTokenRetriesOnUniqueViolation(t *testing.T) {
	p, mock := newMockDB(t)

	// Loser of the race: the live-token index rejects the insert.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("user@example.com", string(PurposeAccess)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("user@example.com", string(PurposeAccess), "signed-token").
		WillReturnError(&pq.Error{Code: pqUniqueViolation})
	mock.ExpectRollback()

	// Retry revokes the winner's row and inserts cleanly.
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("user@example.com", string(PurposeAccess)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("user@example.com", string(PurposeAccess), "signed-token").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := p.ReplaceActiveToken(context.Background(), "user@example.com", PurposeAccess, "signed-token")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceActiveTokenRollsBackOnInsertFailure(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("user@example.com", string(PurposeAccess)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_tokens`).
		WithArgs("user@example.com", string(PurposeAccess), "signed-token").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := p.ReplaceActiveToken(context.Background(), "user@example.com", PurposeAccess, "signed-token")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByEmailNotFound(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery(`SELECT id,email,password,created_at FROM users`).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := p.GetUserByEmail(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUserConflict(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("user@example.com", "hash").
		WillReturnError(&pq.Error{Code: pqUniqueViolation})

	_, err := p.CreateUser(context.Background(), "user@example.com", "hash")
	require.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeTokenUnknown(t *testing.T) {
	p, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("ghost-token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM user_tokens`).
		WithArgs("ghost-token").
		WillReturnError(sql.ErrNoRows)

	err := p.RevokeToken(context.Background(), "ghost-token")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeTokenIdempotent(t *testing.T) {
	p, mock := newMockDB(t)

	// Already revoked: the conditional update hits nothing but the row
	// exists, so no error.
	mock.ExpectExec(`UPDATE user_tokens SET revoked = true`).
		WithArgs("dead-token").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1 FROM user_tokens`).
		WithArgs("dead-token").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	err := p.RevokeToken(context.Background(), "dead-token")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
